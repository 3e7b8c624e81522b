package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mikeboe/research-conductor/pkg/documents"
	"github.com/mikeboe/research-conductor/pkg/research"
)

var ErrInvalidRequest = errors.New("invalid research request")

const listLimit = 50

// Service runs research jobs in the background and persists their results.
type Service struct {
	Store  JobStore
	Engine *research.Engine
	Logger *slog.Logger

	// Visited, when set, supplies the visited set for a session. Nil keeps
	// the in-memory default.
	Visited func(sessionID string) research.VisitedSet

	workers sync.WaitGroup
}

func NewService(store JobStore, engine *research.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:  store,
		Engine: engine,
		Logger: logger,
	}
}

type CreateJobRequest struct {
	Query                string         `json:"query" jsonschema:"the research question"`
	ReportSource         string         `json:"report_source,omitempty" jsonschema:"web, local, hybrid, langchain_documents or langchain_vectorstore"`
	ReportType           string         `json:"report_type,omitempty" jsonschema:"report type, e.g. research_report or subtopic_report"`
	Role                 string         `json:"role,omitempty" jsonschema:"optional agent role used when planning sub-queries"`
	ParentQuery          string         `json:"parent_query,omitempty" jsonschema:"parent task of a subtopic report"`
	SourceURLs           []string       `json:"source_urls,omitempty" jsonschema:"restrict research to these locations"`
	ComplementSourceURLs bool           `json:"complement_source_urls,omitempty" jsonschema:"also search the web when source_urls are given"`
	DocPath              string         `json:"doc_path,omitempty" jsonschema:"directory of local documents"`
	VectorStoreFilter    map[string]any `json:"vector_store_filter,omitempty" jsonschema:"metadata filter for vector store research"`

	Documents []documents.Supplied `json:"documents,omitempty" jsonschema:"documents to research when report_source is langchain_documents"`
}

// NewSession validates req and turns it into a research session.
func (req CreateJobRequest) NewSession() (*research.Session, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	src, err := research.ParseReportSource(req.ReportSource)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	sess := research.NewSession(query)
	sess.ReportSource = src
	if req.ReportType != "" {
		sess.ReportType = req.ReportType
	}
	sess.Role = req.Role
	sess.ParentQuery = req.ParentQuery
	sess.SourceURLs = req.SourceURLs
	sess.ComplementSourceURLs = req.ComplementSourceURLs
	sess.DocPath = req.DocPath
	sess.VectorStoreFilter = req.VectorStoreFilter
	if len(req.Documents) > 0 {
		sess.Documents = documents.FromSupplied(req.Documents)
	}
	if src == research.SourceLangChainDocuments && len(sess.Documents) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, research.ErrNoDocuments)
	}
	return sess, nil
}

// CreateJob records a pending job and starts researching it in the background.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	sess, err := req.NewSession()
	if err != nil {
		return nil, err
	}

	requestJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	job := &Job{
		ID:           uuid.New(),
		Query:        sess.Query,
		ReportSource: string(sess.ReportSource),
		ReportType:   sess.ReportType,
		Status:       StatusPending,
		Request:      requestJSON,
	}
	if err := s.Store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	sess.ID = job.ID.String()
	jobsTotal.WithLabelValues(StatusPending).Inc()

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.runWorker(context.WithoutCancel(ctx), job.ID, sess)
	}()

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.Store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	return s.Store.ListJobs(ctx, listLimit)
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	return s.Store.GetJobLogs(ctx, jobID)
}

// Wait blocks until every background job and the index ingestions it
// started have finished.
func (s *Service) Wait() {
	s.workers.Wait()
	if s.Engine != nil {
		s.Engine.Wait()
	}
}

// Research runs a session synchronously with the service's engine and logger.
func (s *Service) Research(ctx context.Context, sess *research.Session, logger *slog.Logger) (research.MergedContext, error) {
	if s.Visited != nil {
		sess.Visited = s.Visited(sess.ID)
	}
	if logger == nil {
		logger = s.Logger
	}

	engine := *s.Engine
	engine.Logger = logger
	engine.Emitter = research.LogEmitter{Logger: logger}
	return engine.ConductResearch(ctx, sess)
}

func (s *Service) runWorker(ctx context.Context, jobID uuid.UUID, sess *research.Session) {
	dbLogger := slog.New(NewDBLogHandler(s.Store, jobID, s.Logger.Handler())).With("job_id", jobID.String())

	if err := s.Store.SetStatus(ctx, jobID, StatusRunning); err != nil {
		dbLogger.Error("Failed to mark job running", "error", err)
	}
	jobsTotal.WithLabelValues(StatusRunning).Inc()

	mc, err := s.Research(ctx, sess, dbLogger)
	if err != nil {
		s.failJob(ctx, dbLogger, jobID, fmt.Sprintf("Research failed: %v", err))
		return
	}

	err = s.Store.CompleteJob(ctx, jobID, JobResult{Context: mc, Costs: sess.Costs.Total()})
	if err != nil {
		dbLogger.Error("Failed to save research context to DB", "error", err)
		jobsTotal.WithLabelValues(StatusFailed).Inc()
		return
	}
	jobsTotal.WithLabelValues(StatusCompleted).Inc()
}

func (s *Service) failJob(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, reason string) {
	logger.Error(reason)
	jobsTotal.WithLabelValues(StatusFailed).Inc()
	if err := s.Store.FailJob(ctx, jobID, reason); err != nil {
		s.Logger.Error("Failed to mark job failed", "job_id", jobID, "error", err)
	}
}
