package research

import "context"

// Retriever returns candidate sources for a query. No results is an empty
// slice, not an error.
type Retriever interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Fetcher retrieves content for many locations. It is best-effort: locations
// that fail are omitted from the result.
type Fetcher interface {
	FetchMany(ctx context.Context, locations []string) []Document
}

// ContextFilter returns the content of docs that is relevant to query.
type ContextFilter interface {
	Filter(ctx context.Context, query string, docs []Document) (Fragment, error)
}

// VectorIndex can ingest content and answer similarity queries directly.
type VectorIndex interface {
	Ingest(ctx context.Context, docs []Document) error
	Query(ctx context.Context, query string, filter map[string]any) (Fragment, error)
}

// PlanRequest carries everything a planner needs to derive sub-queries.
type PlanRequest struct {
	Query         string
	SearchResults []SearchResult
	Role          string
	ParentQuery   string
	ReportType    string
	MaxSubQueries int
	AddCost       func(amount float64)
}

// QueryPlanner turns a query into an ordered list of sub-queries.
type QueryPlanner interface {
	Plan(ctx context.Context, req PlanRequest) ([]string, error)
}

// SourceCurator filters and reorders a merged context. It must not introduce
// locations that were not in its input.
type SourceCurator interface {
	Curate(ctx context.Context, query string, mc MergedContext, addCost func(float64)) (MergedContext, error)
}

// CostSink accumulates monetary cost reported by collaborators.
type CostSink interface {
	AddCost(amount float64)
}

// DocumentLoader loads a local document set.
type DocumentLoader interface {
	Load(ctx context.Context, path string) ([]Document, error)
}

// VisitedSet is the session-wide de-duplication authority for locations.
type VisitedSet interface {
	// Claim atomically admits the locations not yet seen and returns them in
	// input order. Locations already present are dropped.
	Claim(ctx context.Context, locations []string) ([]string, error)
	Contains(ctx context.Context, location string) (bool, error)
	Members(ctx context.Context) ([]string, error)
	Reset(ctx context.Context) error
}
