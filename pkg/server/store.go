package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/research-conductor/pkg/database"
	"github.com/mikeboe/research-conductor/pkg/research"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrJobNotFound = errors.New("research job not found")

type Job struct {
	ID           uuid.UUID               `json:"id"`
	Query        string                  `json:"query"`
	ReportSource string                  `json:"report_source"`
	ReportType   string                  `json:"report_type"`
	Status       string                  `json:"status"`
	Request      json.RawMessage         `json:"request,omitempty"`
	Context      *research.MergedContext `json:"context,omitempty"`
	ContextText  *string                 `json:"context_text,omitempty"`
	Sources      []string                `json:"sources,omitempty"`
	Costs        float64                 `json:"costs"`
	Error        *string                 `json:"error,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// JobResult is what a finished research job persists.
type JobResult struct {
	Context research.MergedContext
	Costs   float64
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// JobStore persists research jobs and their log lines.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	CompleteJob(ctx context.Context, id uuid.UUID, result JobResult) error
	FailJob(ctx context.Context, id uuid.UUID, reason string) error
	LogSink
	GetJobLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error)
}

// PGJobStore keeps jobs in the research_jobs and research_logs tables.
type PGJobStore struct {
	DB *database.PostgresDB
}

func NewPGJobStore(db *database.PostgresDB) *PGJobStore {
	return &PGJobStore{DB: db}
}

const jobColumns = `id, query, report_source, report_type, status, request, context, context_text, sources, costs, error, created_at, updated_at`

func (s *PGJobStore) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO research_jobs (id, query, report_source, report_type, status, request)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.DB.Pool.QueryRow(ctx, query,
		job.ID, job.Query, job.ReportSource, job.ReportType, job.Status, []byte(job.Request),
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *PGJobStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE id = $1`
	job, err := scanJob(s.DB.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *PGJobStore) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs ORDER BY created_at DESC LIMIT $1`
	rows, err := s.DB.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		job         Job
		request     []byte
		contextJSON []byte
		sourcesJSON []byte
	)
	err := row.Scan(&job.ID, &job.Query, &job.ReportSource, &job.ReportType, &job.Status,
		&request, &contextJSON, &job.ContextText, &sourcesJSON, &job.Costs, &job.Error,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(request) > 0 {
		job.Request = request
	}
	if len(contextJSON) > 0 {
		var mc research.MergedContext
		if err := json.Unmarshal(contextJSON, &mc); err != nil {
			return nil, fmt.Errorf("failed to decode context of job %s: %w", job.ID, err)
		}
		job.Context = &mc
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &job.Sources); err != nil {
			return nil, fmt.Errorf("failed to decode sources of job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

func (s *PGJobStore) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (s *PGJobStore) CompleteJob(ctx context.Context, id uuid.UUID, result JobResult) error {
	contextJSON, err := json.Marshal(result.Context)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}
	sourcesJSON, err := json.Marshal(result.Context.Sources())
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	_, err = s.DB.Pool.Exec(ctx, `
		UPDATE research_jobs
		SET status = $2, context = $3, context_text = $4, sources = $5, costs = $6, updated_at = NOW()
		WHERE id = $1
	`, id, StatusCompleted, contextJSON, result.Context.String(), sourcesJSON, result.Costs)
	if err != nil {
		return fmt.Errorf("failed to save research context: %w", err)
	}
	return nil
}

func (s *PGJobStore) FailJob(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET status = $2, error = $3, updated_at = NOW() WHERE id = $1",
		id, StatusFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

func (s *PGJobStore) AppendLog(ctx context.Context, jobID uuid.UUID, entry LogEntry) error {
	_, err := s.DB.Pool.Exec(ctx, `
		INSERT INTO research_logs (job_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, jobID, entry.Timestamp, entry.Level, entry.Message, []byte(entry.Metadata))
	return err
}

func (s *PGJobStore) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
