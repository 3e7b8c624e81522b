package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Engine coordinates sub-query planning, retrieval, filtering and merging for
// research sessions. Collaborators are shared across sessions; all per-session
// state lives on the Session.
type Engine struct {
	Config     Config
	Retrievers []Retriever
	Fetcher    Fetcher
	Filter     ContextFilter
	Index      VectorIndex
	Planner    QueryPlanner
	Curator    SourceCurator
	Loader     DocumentLoader
	Emitter    Emitter
	Logger     *slog.Logger

	// ingest is shared by shallow copies of the engine so Wait drains every
	// ingestion started through any of them.
	ingest *sync.WaitGroup
}

// DefaultIngestTimeout bounds a single background ingestion when
// Config.IngestTimeout is unset.
const DefaultIngestTimeout = 2 * time.Minute

func NewEngine(cfg Config) *Engine {
	if cfg.MaxSubQueries <= 0 {
		cfg.MaxSubQueries = 3
	}
	if cfg.MaxSearchResultsPerQuery <= 0 {
		cfg.MaxSearchResultsPerQuery = 5
	}
	if cfg.IngestTimeout <= 0 {
		cfg.IngestTimeout = DefaultIngestTimeout
	}
	return &Engine{
		Config: cfg,
		Logger: slog.Default(),
		ingest: &sync.WaitGroup{},
	}
}

// Wait blocks until every background ingestion started by ConductResearch
// has finished. Call it before closing the index.
func (e *Engine) Wait() {
	if e.ingest != nil {
		e.ingest.Wait()
	}
}

// run is the state of a single ConductResearch call.
type run struct {
	engine *Engine
	sess   *Session
	logger *slog.Logger
}

// ConductResearch gathers the research context for sess according to its
// report source. The visited set is cleared first, so repeated calls on the
// same session never share locations. On success the context is stored on the
// session and returned; on a fatal error nothing is stored.
func (e *Engine) ConductResearch(ctx context.Context, sess *Session) (MergedContext, error) {
	if sess == nil || strings.TrimSpace(sess.Query) == "" {
		return MergedContext{}, ErrEmptyQuery
	}
	sess.ensureDefaults()
	sess.setContext(MergedContext{})

	if err := sess.Visited.Reset(ctx); err != nil {
		return MergedContext{}, fmt.Errorf("failed to reset visited locations: %w", err)
	}

	if e.Config.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Config.SessionTimeout)
		defer cancel()
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &run{
		engine: e,
		sess:   sess,
		logger: logger.With("session_id", sess.ID),
	}

	r.emit(ctx, "starting_research", fmt.Sprintf("Starting the research task for '%s'...", sess.Query), nil)
	if sess.Role != "" {
		r.emit(ctx, "agent_generated", sess.Role, sess.Role)
	}

	strat, err := e.resolveStrategy(sess)
	if err != nil {
		sessionsTotal.WithLabelValues(string(sess.ReportSource), "failed").Inc()
		return MergedContext{}, err
	}
	r.logger.Info("Starting research", "query", sess.Query, "strategy", strat.name())

	mc, err := strat.run(ctx, r)
	if err != nil {
		sessionsTotal.WithLabelValues(strat.name(), "failed").Inc()
		return MergedContext{}, err
	}

	if e.Config.CurateSources && e.Curator != nil {
		mc, err = r.curate(ctx, mc)
		if err != nil {
			sessionsTotal.WithLabelValues(strat.name(), "failed").Inc()
			return MergedContext{}, err
		}
	}

	sess.setContext(mc)
	sessionsTotal.WithLabelValues(strat.name(), "completed").Inc()

	total := sess.Costs.Total()
	r.emit(ctx, "research_step_finalized",
		fmt.Sprintf("Finalized research step.\nTotal Research Costs: $%.4f", total), total)
	r.logger.Info("Research complete", "fragments", len(mc.Fragments()), "sources", len(mc.Sources()), "cost", total)

	return mc, nil
}

// curate runs the optional curation pass and checks it did not invent sources.
func (r *run) curate(ctx context.Context, mc MergedContext) (MergedContext, error) {
	r.emit(ctx, "curating_sources", "Evaluating and curating sources by credibility and relevance...", nil)

	// Curators may share the input's backing arrays, so snapshot sources first.
	known := make(map[string]bool)
	for _, s := range mc.Sources() {
		known[s] = true
	}

	curated, err := r.engine.Curator.Curate(ctx, r.sess.Query, mc, r.sess.AddCost)
	if err != nil {
		return MergedContext{}, fmt.Errorf("source curation failed: %w", err)
	}
	for _, s := range curated.Sources() {
		if !known[s] {
			return MergedContext{}, fmt.Errorf("%w: %s", ErrFabricatedSource, s)
		}
	}
	return curated, nil
}

func (r *run) emit(ctx context.Context, stage, message string, payload any) {
	e := r.engine
	if !e.Config.Verbose || e.Emitter == nil {
		return
	}
	e.Emitter.Emit(ctx, Event{Type: "logs", Stage: stage, Message: message, Payload: payload})
}

// ingestAsync feeds freshly acquired documents to the index without blocking
// the caller. Each ingestion outlives the session under its own deadline;
// Engine.Wait drains them. Failures are logged and dropped.
func (r *run) ingestAsync(ctx context.Context, docs []Document) {
	e := r.engine
	if e.Index == nil || len(docs) == 0 {
		return
	}
	timeout := e.Config.IngestTimeout
	if timeout <= 0 {
		timeout = DefaultIngestTimeout
	}
	index, wg := e.Index, e.ingest
	if wg == nil {
		// Engines built without NewEngine get untracked ingestion.
		wg = &sync.WaitGroup{}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := index.Ingest(ctx, docs); err != nil {
			ingestFailures.Inc()
			r.logger.Warn("Failed to ingest documents into index", "documents", len(docs), "error", err)
		}
	}()
}
