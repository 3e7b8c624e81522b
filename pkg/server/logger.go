package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// LogSink stores log lines of one research job.
type LogSink interface {
	AppendLog(ctx context.Context, jobID uuid.UUID, entry LogEntry) error
}

// DBLogHandler is a slog.Handler that writes records to the job's log table.
// Records are also passed to Next when it is set, so console output survives.
type DBLogHandler struct {
	Sink  LogSink
	JobID uuid.UUID
	Next  slog.Handler

	attrs  []slog.Attr
	groups []string
}

func NewDBLogHandler(sink LogSink, jobID uuid.UUID, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{
		Sink:  sink,
		JobID: jobID,
		Next:  next,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	meta := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(meta, a)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		addAttr(meta, a)
		return true
	})

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// The job may outlive the request that started it.
	err = h.Sink.AppendLog(context.WithoutCancel(ctx), h.JobID, LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})

	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		err = errors.Join(err, h.Next.Handle(ctx, r))
	}
	return err
}

func addAttr(meta map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		for _, ga := range v.Group() {
			ga.Key = a.Key + "." + ga.Key
			addAttr(meta, ga)
		}
		return
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			meta[a.Key] = err.Error()
			return
		}
	}
	meta[a.Key] = v.Any()
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	prefix := strings.Join(h.groups, ".")
	clone.attrs = append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...)
	if prefix != "" {
		for i := len(h.attrs); i < len(clone.attrs); i++ {
			clone.attrs[i].Key = prefix + "." + clone.attrs[i].Key
		}
	}
	if h.Next != nil {
		clone.Next = h.Next.WithAttrs(attrs)
	}
	return &clone
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	if h.Next != nil {
		clone.Next = h.Next.WithGroup(name)
	}
	return &clone
}
