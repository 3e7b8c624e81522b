package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBLogHandlerKeepsAttrsAndGroups(t *testing.T) {
	store := newMemStore()
	jobID := uuid.New()

	logger := slog.New(NewDBLogHandler(store, jobID, nil)).
		With("job", "j1").
		WithGroup("engine").
		With("strategy", "web")
	logger.Warn("Sub-query failed", "error", errors.New("boom"), slog.Group("q", "n", 2))

	logs, err := store.GetJobLogs(t.Context(), jobID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "WARN", logs[0].Level)
	assert.Equal(t, "Sub-query failed", logs[0].Message)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Metadata, &meta))
	assert.Equal(t, map[string]any{
		"job":             "j1",
		"engine.strategy": "web",
		"engine.error":    "boom",
		"engine.q.n":      float64(2),
	}, meta)
}

func TestDBLogHandlerForwardsToNext(t *testing.T) {
	store := newMemStore()
	next := &captureHandler{}
	logger := slog.New(NewDBLogHandler(store, uuid.New(), next))

	logger.Info("hello", "k", "v")

	require.Len(t, next.records, 1)
	assert.Equal(t, "hello", next.records[0].Message)
}

type captureHandler struct {
	records []slog.Record
}

func (c *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (c *captureHandler) Handle(_ context.Context, r slog.Record) error {
	c.records = append(c.records, r)
	return nil
}

func (c *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *captureHandler) WithGroup(string) slog.Handler      { return c }
