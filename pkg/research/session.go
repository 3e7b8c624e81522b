package research

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Session is one research task. It is created per request, mutated in place by
// the engine and read by the report writer afterwards.
type Session struct {
	ID           string
	Query        string
	ParentQuery  string
	Role         string
	ReportSource ReportSource
	ReportType   string

	// SourceURLs, when set, take precedence over ReportSource.
	SourceURLs           []string
	ComplementSourceURLs bool

	DocPath           string
	Documents         []Document
	VectorStoreFilter map[string]any

	Costs   *CostTracker
	Visited VisitedSet

	mu      sync.RWMutex
	context MergedContext
}

// NewSession creates a web-search session with an in-memory visited set.
func NewSession(query string) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Query:        query,
		ReportSource: SourceWeb,
		ReportType:   ResearchReport,
		Costs:        &CostTracker{},
		Visited:      NewMemoryVisited(),
	}
}

// Context returns the last research context stored on the session.
func (s *Session) Context() MergedContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.context
}

func (s *Session) setContext(mc MergedContext) {
	s.mu.Lock()
	s.context = mc
	s.mu.Unlock()
}

// AddCost implements CostSink.
func (s *Session) AddCost(amount float64) {
	s.Costs.AddCost(amount)
}

func (s *Session) ensureDefaults() {
	if s.Costs == nil {
		s.Costs = &CostTracker{}
	}
	if s.Visited == nil {
		s.Visited = NewMemoryVisited()
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.ReportType == "" {
		s.ReportType = ResearchReport
	}
}

// CostTracker accumulates cost reported concurrently by collaborators.
type CostTracker struct {
	mu    sync.Mutex
	total float64
}

func (c *CostTracker) AddCost(amount float64) {
	c.mu.Lock()
	c.total += amount
	c.mu.Unlock()
}

func (c *CostTracker) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// MemoryVisited is a mutex-guarded VisitedSet local to one process.
type MemoryVisited struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
}

func NewMemoryVisited() *MemoryVisited {
	return &MemoryVisited{seen: make(map[string]bool)}
}

func (v *MemoryVisited) Claim(_ context.Context, locations []string) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var admitted []string
	for _, loc := range locations {
		loc = strings.TrimSpace(loc)
		if loc == "" || v.seen[loc] {
			continue
		}
		v.seen[loc] = true
		v.order = append(v.order, loc)
		admitted = append(admitted, loc)
	}
	return admitted, nil
}

func (v *MemoryVisited) Contains(_ context.Context, location string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seen[location], nil
}

func (v *MemoryVisited) Members(_ context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.order))
	copy(out, v.order)
	return out, nil
}

func (v *MemoryVisited) Reset(_ context.Context) error {
	v.mu.Lock()
	v.seen = make(map[string]bool)
	v.order = nil
	v.mu.Unlock()
	return nil
}
