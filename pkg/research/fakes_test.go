package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type fakeRetriever struct {
	name    string
	results map[string][]SearchResult
	delay   map[string]time.Duration
	err     error

	mu      sync.Mutex
	queries []string
}

func (f *fakeRetriever) Name() string { return f.name }

func (f *fakeRetriever) Search(ctx context.Context, query string, _ int) ([]SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if d := f.delay[query]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func results(urls ...string) []SearchResult {
	out := make([]SearchResult, len(urls))
	for i, u := range urls {
		out[i] = SearchResult{Title: u, URL: u}
	}
	return out
}

// fakeFetcher returns pages[url]; locations missing from pages fail.
type fakeFetcher struct {
	pages map[string]string

	mu      sync.Mutex
	fetched map[string]int
}

func (f *fakeFetcher) FetchMany(_ context.Context, locations []string) []Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetched == nil {
		f.fetched = make(map[string]int)
	}
	var out []Document
	for _, loc := range locations {
		f.fetched[loc]++
		if content, ok := f.pages[loc]; ok {
			out = append(out, Document{Location: loc, Content: content})
		}
	}
	return out
}

func (f *fakeFetcher) count(loc string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[loc]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetched {
		n += c
	}
	return n
}

// joinFilter returns every document unchanged, joined in input order.
type joinFilter struct {
	errFor map[string]error
}

func (f joinFilter) Filter(_ context.Context, query string, docs []Document) (Fragment, error) {
	if err := f.errFor[query]; err != nil {
		return Fragment{}, err
	}
	var parts, sources []string
	for _, d := range docs {
		parts = append(parts, d.Content)
		sources = append(sources, d.Location)
	}
	return Fragment{SubQuery: query, Content: strings.Join(parts, "\n"), Sources: sources}, nil
}

// subQueryFilter ignores documents and echoes the sub-query as content.
type subQueryFilter struct{}

func (subQueryFilter) Filter(_ context.Context, query string, _ []Document) (Fragment, error) {
	return Fragment{SubQuery: query, Content: "about " + query}, nil
}

type fakePlanner struct {
	subQueries []string
	err        error
	cost       float64

	mu       sync.Mutex
	requests []PlanRequest
}

func (p *fakePlanner) Plan(_ context.Context, req PlanRequest) ([]string, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.cost > 0 && req.AddCost != nil {
		req.AddCost(p.cost)
	}
	out := make([]string, len(p.subQueries))
	copy(out, p.subQueries)
	return out, nil
}

type fakeIndex struct {
	fragments   map[string]string
	ingestErr   error
	ingestDelay time.Duration

	mu       sync.Mutex
	ingested []Document
	filters  []map[string]any
}

func (f *fakeIndex) Ingest(ctx context.Context, docs []Document) error {
	if f.ingestDelay > 0 {
		select {
		case <-time.After(f.ingestDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.ingested = append(f.ingested, docs...)
	f.mu.Unlock()
	return f.ingestErr
}

func (f *fakeIndex) Query(_ context.Context, query string, filter map[string]any) (Fragment, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	return Fragment{SubQuery: query, Content: f.fragments[query]}, nil
}

func (f *fakeIndex) ingestedLocations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, d := range f.ingested {
		out = append(out, d.Location)
	}
	return out
}

type fakeLoader struct {
	docs []Document
	err  error

	mu    sync.Mutex
	calls int
}

func (l *fakeLoader) Load(_ context.Context, _ string) ([]Document, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.docs, l.err
}

type curatorFunc func(ctx context.Context, query string, mc MergedContext, addCost func(float64)) (MergedContext, error)

func (f curatorFunc) Curate(ctx context.Context, query string, mc MergedContext, addCost func(float64)) (MergedContext, error) {
	return f(ctx, query, mc, addCost)
}

var errBoom = errors.New("boom")
