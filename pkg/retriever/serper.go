package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mikeboe/research-conductor/pkg/research"
)

const serperEndpoint = "https://google.serper.dev/search"

// Serper queries Google results through serper.dev.
type Serper struct {
	APIKey   string
	Client   *http.Client
	Endpoint string
}

func (s *Serper) Name() string { return string(SerperProvider) }

func (s *Serper) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = serperEndpoint
	}
	payload, err := json.Marshal(map[string]any{"q": query, "num": maxResults})
	if err != nil {
		return nil, fmt.Errorf("failed to encode serper request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build serper request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := do(client, req)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode serper response: %w", err)
	}

	results := make([]research.SearchResult, 0, len(raw.Organic))
	for _, r := range raw.Organic {
		if r.Link == "" {
			continue
		}
		results = append(results, research.SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return limit(results, maxResults), nil
}
