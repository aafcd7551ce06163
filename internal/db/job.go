package db

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
)

// Job statuses. pending -> running -> {completed, failed, cancelled}.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// JobTerminal reports whether status ends the job's lifecycle.
func JobTerminal(status string) bool {
	switch status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is a tracked background batch run. It is independent of Task: one
// job drives a batch over many work items.
type Job struct {
	ID          int64
	Type        string
	Status      string
	ResultFile  string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// JobStore persists job records.
type JobStore struct {
	exec *Executor
}

// NewJobStore creates a job store over the given executor.
func NewJobStore(exec *Executor) *JobStore {
	return &JobStore{exec: exec}
}

// Create inserts a pending job and returns its ID.
func (s *JobStore) Create(ctx context.Context, jobType string) (int64, error) {
	rows, err := s.exec.Query(ctx,
		"INSERT INTO jobs (job_type, status) VALUES (?, ?) RETURNING id",
		[]any{jobType, JobPending})
	if err != nil {
		return 0, fmt.Errorf("create %s job: %w", jobType, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("create %s job: no id returned", jobType)
	}
	return rowInt64(rows[0], "id"), nil
}

// Get returns one job by ID.
func (s *JobStore) Get(ctx context.Context, id int64) (*Job, error) {
	rows, err := s.exec.Query(ctx, `
		SELECT id, job_type, status, result_file, started_at, completed_at, created_at
		FROM jobs WHERE id = ?`, []any{id}, ReadOnly())
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrJobNotFound(id, "")
	}
	return jobFromRow(rows[0]), nil
}

// List returns the most recent jobs, newest first.
func (s *JobStore) List(ctx context.Context, limit int64) ([]*Job, error) {
	return s.ListByType(ctx, "", limit)
}

// ListByType returns the most recent jobs of one type, newest first. An
// empty type matches all jobs.
func (s *JobStore) ListByType(ctx context.Context, jobType string, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, job_type, status, result_file, started_at, completed_at, created_at
		FROM jobs`
	args := []any{}
	if jobType != "" {
		query += " WHERE job_type = ?"
		args = append(args, jobType)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.exec.Query(ctx, query, args, ReadOnly())
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, jobFromRow(r))
	}
	return jobs, nil
}

// Delete removes a job record. The result file, if any, is the caller's
// to clean up.
func (s *JobStore) Delete(ctx context.Context, id int64) error {
	n, err := s.exec.Exec(ctx, "DELETE FROM jobs WHERE id = ?", []any{id})
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	if n == 0 {
		return apperrors.ErrJobNotFound(id, "")
	}
	return nil
}

// UpdateStatus advances the job state machine in one conditional
// statement keyed by (id, job_type). Running stamps started_at; any
// terminal state stamps completed_at. An empty resultFile preserves the
// stored pointer. Zero affected rows means the job is missing or was
// deleted externally; that surfaces as a typed not-found error and the
// caller decides whether it is fatal.
func (s *JobStore) UpdateStatus(ctx context.Context, id int64, jobType, status, resultFile string) error {
	now := s.exec.drv.Now()
	var query string
	switch {
	case status == JobRunning:
		query = fmt.Sprintf(`
			UPDATE jobs
			SET status = ?, started_at = %s, result_file = COALESCE(NULLIF(?, ''), result_file)
			WHERE id = ? AND job_type = ?`, now)
	case JobTerminal(status):
		query = fmt.Sprintf(`
			UPDATE jobs
			SET status = ?, completed_at = %s, result_file = COALESCE(NULLIF(?, ''), result_file)
			WHERE id = ? AND job_type = ?`, now)
	default:
		return fmt.Errorf("invalid job status transition to %q", status)
	}

	n, err := s.exec.Exec(ctx, query, []any{status, resultFile, id, jobType})
	if err != nil {
		return fmt.Errorf("update job %d status: %w", id, err)
	}
	if n == 0 {
		return apperrors.ErrJobNotFound(id, jobType)
	}
	return nil
}

func jobFromRow(r Row) *Job {
	j := &Job{
		ID:         rowInt64(r, "id"),
		Type:       rowString(r, "job_type"),
		Status:     rowString(r, "status"),
		ResultFile: rowString(r, "result_file"),
		CreatedAt:  rowTime(r, "created_at"),
	}
	if r["started_at"] != nil {
		t := rowTime(r, "started_at")
		j.StartedAt = &t
	}
	if r["completed_at"] != nil {
		t := rowTime(r, "completed_at")
		j.CompletedAt = &t
	}
	return j
}
