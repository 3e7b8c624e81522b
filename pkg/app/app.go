package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	lcpgvector "github.com/tmc/langchaingo/vectorstores/pgvector"

	"github.com/mikeboe/research-conductor/pkg/clients"
	"github.com/mikeboe/research-conductor/pkg/config"
	"github.com/mikeboe/research-conductor/pkg/contextfilter"
	"github.com/mikeboe/research-conductor/pkg/database"
	"github.com/mikeboe/research-conductor/pkg/documents"
	"github.com/mikeboe/research-conductor/pkg/embeddings"
	"github.com/mikeboe/research-conductor/pkg/llm"
	"github.com/mikeboe/research-conductor/pkg/research"
	"github.com/mikeboe/research-conductor/pkg/retriever"
	"github.com/mikeboe/research-conductor/pkg/scraper"
	"github.com/mikeboe/research-conductor/pkg/splitter"
	"github.com/mikeboe/research-conductor/pkg/vectorstore"
	"github.com/mikeboe/research-conductor/pkg/visited"
)

// App holds the research engine and the connections it was built on.
type App struct {
	Config   *config.Config
	Engine   *research.Engine
	Embedder *embeddings.GoogleEmbedder

	// Optional, depending on configuration.
	DB      *database.PostgresDB
	Store   *vectorstore.PGVectorStore
	Redis   *redis.Client
	closers []func() error
}

// New wires every collaborator of the engine from cfg. Postgres and Redis
// are only connected when the configuration asks for them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		a.DB, err = database.NewPostgresDB(ctx, cfg.DatabaseURL, database.PoolOptions{
			MaxConns: int32(cfg.DBMaxConns),
			MinConns: int32(cfg.DBMinConns),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { a.DB.Close(); return nil })
		if err := a.DB.InitSchema(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.RedisURL != "" {
		a.Redis, err = visited.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Redis.Close)
	}

	a.Embedder, err = embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		return nil, err
	}
	chunker := splitter.NewRecursiveCharacterTextSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	fastModel, err := clients.GoogleAi(ctx, cfg.GoogleApiKey, clients.ModelType(cfg.FastModel))
	if err != nil {
		return nil, err
	}
	reasoningModel, err := clients.GoogleAi(ctx, cfg.GoogleApiKey, clients.ModelType(cfg.ReasoningModel))
	if err != nil {
		return nil, err
	}
	pricing := llm.Pricing{InputPer1K: cfg.LLMInputCostPer1K, OutputPer1K: cfg.LLMOutputCostPer1K}

	retrievers, err := retriever.NewAll(cfg.Retrievers, retriever.Options{
		BraveAPIKey:  cfg.BraveAPIKey,
		SerperAPIKey: cfg.SerperAPIKey,
	})
	if err != nil {
		return nil, err
	}

	pages, err := scraper.New(scraper.Type(cfg.Scraper))
	if err != nil {
		return nil, err
	}
	var pdf scraper.Scraper
	if cfg.MistralAPIKey != "" {
		pdf = scraper.NewPDFScraper(cfg.MistralAPIKey)
	}
	fetcher := scraper.NewManager(pages, pdf, cfg.ScraperConcurrency, cfg.MaxContentChars)
	fetcher.Logger = logger

	loader := documents.NewDirLoader()
	loader.Logger = logger

	engine := research.NewEngine(cfg.EngineConfig())
	engine.Retrievers = retrievers
	engine.Fetcher = fetcher
	engine.Filter = contextfilter.NewCompressor(chunker, a.Embedder, cfg.SimilarityThreshold)
	engine.Planner = llm.NewPlanner(fastModel, pricing, logger)
	engine.Curator = llm.NewCurator(reasoningModel, pricing, cfg.MaxCuratedSources, logger)
	engine.Loader = loader
	engine.Emitter = research.LogEmitter{Logger: logger}
	engine.Logger = logger

	engine.Index, err = a.newIndex(ctx, chunker)
	if err != nil {
		return nil, err
	}
	a.Engine = engine
	return a, nil
}

func (a *App) newIndex(ctx context.Context, chunker *splitter.TextSplitter) (research.VectorIndex, error) {
	cfg := a.Config
	switch cfg.IndexBackend {
	case config.IndexNone:
		return nil, nil

	case config.IndexMemory:
		index, err := vectorstore.NewMemoryIndex(chunker)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, index.Close)
		return index, nil

	case config.IndexPGVector:
		if err := a.ensureStore(ctx); err != nil {
			return nil, err
		}
		return vectorstore.NewPGIndex(a.Store, chunker, a.Embedder), nil

	case config.IndexLangChain:
		if a.DB == nil {
			return nil, errors.New("langchain index requires DATABASE_URL")
		}
		store, err := lcpgvector.New(ctx,
			lcpgvector.WithConn(a.DB.Pool),
			lcpgvector.WithEmbedder(a.Embedder),
			lcpgvector.WithCollectionName(cfg.CollectionName),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open langchain pgvector store: %w", err)
		}
		return &vectorstore.LangChainIndex{
			Store:          &store,
			TopK:           vectorstore.DefaultTopK,
			ScoreThreshold: float32(cfg.SimilarityThreshold),
		}, nil

	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

// ensureStore opens the pgvector collection table, creating it on first use.
func (a *App) ensureStore(ctx context.Context) error {
	if a.Store != nil {
		return nil
	}
	if a.DB == nil {
		return errors.New("pgvector requires DATABASE_URL")
	}
	if err := a.DB.EnsureVectorExtension(ctx); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	store, err := vectorstore.NewPGVectorStore(a.DB.Pool, a.Config.CollectionName)
	if err != nil {
		return err
	}
	if err := a.DB.CreateEmbeddingsTable(ctx, a.Config.CollectionName, embeddings.DefaultDimensions); err != nil {
		return err
	}
	a.Store = store
	return nil
}

// ContentStore returns the pgvector store backing the content tools, or nil
// when no database is configured.
func (a *App) ContentStore(ctx context.Context) (*vectorstore.PGVectorStore, error) {
	if a.DB == nil {
		return nil, nil
	}
	if err := a.ensureStore(ctx); err != nil {
		return nil, err
	}
	return a.Store, nil
}

// VisitedSet returns the per-session visited set factory: Redis-backed when
// Redis is configured, nil otherwise.
func (a *App) VisitedSet() func(sessionID string) research.VisitedSet {
	if a.Redis == nil {
		return nil
	}
	return func(sessionID string) research.VisitedSet {
		return visited.NewRedisSet(a.Redis, sessionID, visited.DefaultTTL)
	}
}

// Close drains pending index ingestion, then releases connections in
// reverse order of creation.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
