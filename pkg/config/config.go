package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mikeboe/research-conductor/pkg/research"
)

type Config struct {
	GoogleApiKey   string
	DatabaseURL    string
	DBMaxConns     int
	DBMinConns     int
	ReasoningModel string
	FastModel      string
	Port           string
	ChunkSize      int
	ChunkOverlap   int
	EmbeddingModel string
	CollectionName string

	// Retrieval and fetching
	Retrievers               []string
	BraveAPIKey              string
	SerperAPIKey             string
	MistralAPIKey            string
	Scraper                  string
	ScraperConcurrency       int
	MaxContentChars          int
	MaxSearchResultsPerQuery int

	// Research behaviour
	ReportSource        string
	IndexBackend        string
	MaxSubQueries       int
	DocPath             string
	CurateSources       bool
	MaxCuratedSources   int
	SimilarityThreshold float64
	SessionTimeout      time.Duration
	IngestTimeout       time.Duration
	Verbose             bool

	RedisURL string

	LLMInputCostPer1K  float64
	LLMOutputCostPer1K float64
}

// Index backends selectable with INDEX_BACKEND.
const (
	IndexNone      = "none"
	IndexMemory    = "memory"
	IndexPGVector  = "pgvector"
	IndexLangChain = "langchain"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("reasoning_model", "gemini-3-pro-preview")
	v.SetDefault("fast_model", "gemini-3-flash-preview")
	v.SetDefault("port", "3000")
	v.SetDefault("db_max_conns", 25)
	v.SetDefault("db_min_conns", 5)
	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)
	v.SetDefault("embedding_model", "gemini-embedding-001")
	v.SetDefault("collection_name", "research_db")
	v.SetDefault("retrievers", "arxiv")
	v.SetDefault("scraper", "http")
	v.SetDefault("scraper_concurrency", 5)
	v.SetDefault("max_content_chars", 20000)
	v.SetDefault("max_search_results_per_query", 5)
	v.SetDefault("report_source", string(research.SourceWeb))
	v.SetDefault("index_backend", IndexMemory)
	v.SetDefault("max_sub_queries", 3)
	v.SetDefault("doc_path", "./my-docs")
	v.SetDefault("curate_sources", false)
	v.SetDefault("max_curated_sources", 10)
	v.SetDefault("similarity_threshold", 0.35)
	v.SetDefault("session_timeout", "10m")
	v.SetDefault("ingest_timeout", "2m")
	v.SetDefault("verbose", true)
	v.SetDefault("llm_input_cost_per_1k", 0.0)
	v.SetDefault("llm_output_cost_per_1k", 0.0)
}

// Load reads configuration from the environment, a .env file and an optional
// config.{yaml,json,toml} in the working directory, in increasing order of
// precedence: file, then environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		GoogleApiKey:   v.GetString("google_api_key"),
		DatabaseURL:    v.GetString("database_url"),
		DBMaxConns:     v.GetInt("db_max_conns"),
		DBMinConns:     v.GetInt("db_min_conns"),
		ReasoningModel: v.GetString("reasoning_model"),
		FastModel:      v.GetString("fast_model"),
		Port:           v.GetString("port"),
		ChunkSize:      v.GetInt("chunk_size"),
		ChunkOverlap:   v.GetInt("chunk_overlap"),
		EmbeddingModel: v.GetString("embedding_model"),
		CollectionName: v.GetString("collection_name"),

		Retrievers:               splitList(v.GetString("retrievers")),
		BraveAPIKey:              v.GetString("brave_api_key"),
		SerperAPIKey:             v.GetString("serper_api_key"),
		MistralAPIKey:            v.GetString("mistral_api_key"),
		Scraper:                  v.GetString("scraper"),
		ScraperConcurrency:       v.GetInt("scraper_concurrency"),
		MaxContentChars:          v.GetInt("max_content_chars"),
		MaxSearchResultsPerQuery: v.GetInt("max_search_results_per_query"),

		ReportSource:        strings.ToLower(v.GetString("report_source")),
		IndexBackend:        strings.ToLower(v.GetString("index_backend")),
		MaxSubQueries:       v.GetInt("max_sub_queries"),
		DocPath:             v.GetString("doc_path"),
		CurateSources:       v.GetBool("curate_sources"),
		MaxCuratedSources:   v.GetInt("max_curated_sources"),
		SimilarityThreshold: v.GetFloat64("similarity_threshold"),
		SessionTimeout:      v.GetDuration("session_timeout"),
		IngestTimeout:       v.GetDuration("ingest_timeout"),
		Verbose:             v.GetBool("verbose"),

		RedisURL: v.GetString("redis_url"),

		LLMInputCostPer1K:  v.GetFloat64("llm_input_cost_per_1k"),
		LLMOutputCostPer1K: v.GetFloat64("llm_output_cost_per_1k"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := research.ParseReportSource(c.ReportSource); err != nil {
		return err
	}
	switch c.IndexBackend {
	case IndexNone, IndexMemory, IndexPGVector, IndexLangChain:
	default:
		return fmt.Errorf("unknown index backend %q", c.IndexBackend)
	}
	if (c.IndexBackend == IndexPGVector || c.IndexBackend == IndexLangChain) && c.DatabaseURL == "" {
		return fmt.Errorf("index backend %q requires DATABASE_URL", c.IndexBackend)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max > 0", c.DBMinConns, c.DBMaxConns)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be between 0 and 1, got %v", c.SimilarityThreshold)
	}
	return nil
}

// EngineConfig returns the research engine settings.
func (c *Config) EngineConfig() research.Config {
	return research.Config{
		MaxSubQueries:            c.MaxSubQueries,
		MaxSearchResultsPerQuery: c.MaxSearchResultsPerQuery,
		CurateSources:            c.CurateSources,
		Verbose:                  c.Verbose,
		SessionTimeout:           c.SessionTimeout,
		IngestTimeout:            c.IngestTimeout,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
