package visited

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL keeps an abandoned session's set from living forever.
const DefaultTTL = 24 * time.Hour

// RedisSet is a research.VisitedSet shared by every process working on the
// same session. Claims are atomic because SADD reports whether each member
// was new.
type RedisSet struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisSet(client redis.UniversalClient, sessionID string, ttl time.Duration) *RedisSet {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSet{
		client: client,
		key:    Key(sessionID),
		ttl:    ttl,
	}
}

// Key returns the Redis key holding a session's visited locations.
func Key(sessionID string) string {
	return fmt.Sprintf("research:%s:visited", sessionID)
}

// NewClient connects to the Redis instance at url.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisSet) Claim(ctx context.Context, locations []string) ([]string, error) {
	var candidates []string
	for _, loc := range locations {
		if loc = strings.TrimSpace(loc); loc != "" {
			candidates = append(candidates, loc)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(candidates))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, loc := range candidates {
			cmds[i] = pipe.SAdd(ctx, s.key, loc)
		}
		pipe.Expire(ctx, s.key, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim locations: %w", err)
	}

	var admitted []string
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			admitted = append(admitted, candidates[i])
		}
	}
	return admitted, nil
}

func (s *RedisSet) Contains(ctx context.Context, location string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, location).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check location: %w", err)
	}
	return ok, nil
}

func (s *RedisSet) Members(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return members, nil
}

func (s *RedisSet) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to reset visited locations: %w", err)
	}
	return nil
}
