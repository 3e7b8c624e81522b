package server

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-conductor/pkg/research"
	"github.com/mikeboe/research-conductor/pkg/vectorstore"
)

// memStore is an in-memory JobStore.
type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	logs map[uuid.UUID][]LogEntry
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uuid.UUID]*Job{}, logs: map[uuid.UUID][]LogEntry{}}
}

func (m *memStore) CreateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) ListJobs(_ context.Context, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if len(out) == limit {
			break
		}
		out = append(out, *j)
	}
	return out, nil
}

func (m *memStore) update(id uuid.UUID, fn func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	return m.update(id, func(j *Job) { j.Status = status })
}

func (m *memStore) CompleteJob(_ context.Context, id uuid.UUID, result JobResult) error {
	return m.update(id, func(j *Job) {
		mc := result.Context
		text := mc.String()
		j.Status = StatusCompleted
		j.Context = &mc
		j.ContextText = &text
		j.Sources = mc.Sources()
		j.Costs = result.Costs
	})
}

func (m *memStore) FailJob(_ context.Context, id uuid.UUID, reason string) error {
	return m.update(id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = &reason
	})
}

func (m *memStore) AppendLog(_ context.Context, id uuid.UUID, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = len(m.logs[id]) + 1
	m.logs[id] = append(m.logs[id], entry)
	return nil
}

func (m *memStore) GetJobLogs(_ context.Context, id uuid.UUID) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, len(m.logs[id]))
	copy(out, m.logs[id])
	return out, nil
}

type staticRetriever map[string][]string

func (staticRetriever) Name() string { return "static" }

func (r staticRetriever) Search(_ context.Context, query string, _ int) ([]research.SearchResult, error) {
	var out []research.SearchResult
	for _, u := range r[query] {
		out = append(out, research.SearchResult{Title: u, URL: u})
	}
	return out, nil
}

type staticFetcher map[string]string

func (f staticFetcher) FetchMany(_ context.Context, locations []string) []research.Document {
	var out []research.Document
	for _, loc := range locations {
		if c, ok := f[loc]; ok {
			out = append(out, research.Document{Location: loc, Content: c})
		}
	}
	return out
}

type joinFilter struct{}

func (joinFilter) Filter(_ context.Context, query string, docs []research.Document) (research.Fragment, error) {
	var parts, sources []string
	for _, d := range docs {
		parts = append(parts, d.Content)
		sources = append(sources, d.Location)
	}
	return research.Fragment{SubQuery: query, Content: strings.Join(parts, "\n"), Sources: sources}, nil
}

type fixedPlanner struct {
	subQueries []string
	cost       float64
	err        error
}

func (p fixedPlanner) Plan(_ context.Context, req research.PlanRequest) ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	if req.AddCost != nil {
		req.AddCost(p.cost)
	}
	return append([]string(nil), p.subQueries...), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService wires an engine that finds "Paris is the capital" for any
// question about France.
func newTestService(store JobStore, planner research.QueryPlanner) *Service {
	engine := research.NewEngine(research.Config{MaxSubQueries: 3, Verbose: true})
	engine.Retrievers = []research.Retriever{staticRetriever{
		"capital of France": {"https://example.com/paris"},
	}}
	engine.Fetcher = staticFetcher{"https://example.com/paris": "Paris is the capital"}
	engine.Filter = joinFilter{}
	engine.Planner = planner
	return NewService(store, engine, discardLogger())
}

type fakeContentStore struct {
	docs       []vectorstore.Document
	gotTopK    int
	gotFilter  map[string]any
	gotSource  string
	gotMetaArg map[string]any
}

func (f *fakeContentStore) SimilaritySearch(_ context.Context, _ []float32, topK int, filter map[string]any) ([]vectorstore.SimilaritySearchResult, error) {
	f.gotTopK = topK
	f.gotFilter = filter
	var out []vectorstore.SimilaritySearchResult
	for _, d := range f.docs {
		out = append(out, vectorstore.SimilaritySearchResult{Document: d, Score: 0.9})
	}
	return out, nil
}

func (f *fakeContentStore) GetContentBySource(_ context.Context, source string) ([]vectorstore.Document, error) {
	f.gotSource = source
	return f.docs, nil
}

func (f *fakeContentStore) GetContentByMetadata(_ context.Context, filter map[string]any) ([]vectorstore.Document, error) {
	f.gotMetaArg = filter
	return f.docs, nil
}

type constEmbedder struct{}

func (constEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (constEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
