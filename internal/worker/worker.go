// Package worker provides the background job lifecycle: a three-phase
// setup/execute/teardown contract with guaranteed finalization, and the
// cooperative cancellation token workers poll between items.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/svgtranslate/svgbatch/internal/db"
	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
)

// Token is a shared cancellation flag. Cancellation is strictly
// cooperative: workers poll it at item boundaries, nothing is forced.
type Token struct {
	flag atomic.Bool
}

// NewToken returns an unset token.
func NewToken() *Token {
	return &Token{}
}

// Cancel sets the flag. Safe to call from any goroutine, repeatedly.
func (t *Token) Cancel() {
	t.flag.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (t *Token) Cancelled() bool {
	return t.flag.Load()
}

// Outcome is what a processor produced: the terminal job status it wants
// recorded plus the payload folded into the result file.
type Outcome struct {
	Status  string
	Payload any
}

// Processor supplies the execute phase of a job. It is expected to poll
// the token periodically and may fail; the Runner contains any error or
// panic at the lifecycle boundary.
type Processor interface {
	Execute(ctx context.Context, token *Token) (*Outcome, error)
}

// JobStatusStore persists job state transitions. *db.JobStore satisfies it.
type JobStatusStore interface {
	UpdateStatus(ctx context.Context, id int64, jobType, status, resultFile string) error
}

// ResultSink persists a job's result payload and returns the stored
// pointer recorded on the job row.
type ResultSink interface {
	Write(jobID int64, jobType string, result *Result) (string, error)
}

// Result is the externally stored JSON payload for one job run. It
// always carries a terminal status; on failure it also carries the error
// message and a classified error-type string.
type Result struct {
	JobID       int64     `json:"job_id"`
	JobType     string    `json:"job_type"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Error       string    `json:"error,omitempty"`
	ErrorType   string    `json:"error_type,omitempty"`
	Detail      any       `json:"detail,omitempty"`
}

// Runner drives one job through setup, execute, and teardown. Nothing
// escapes Run: a worker always finishes with a terminal job status
// unless the job row itself vanished, which aborts quietly.
type Runner struct {
	jobs   JobStatusStore
	sink   ResultSink
	logger *slog.Logger
	clock  func() time.Time
}

// NewRunner creates a runner.
func NewRunner(jobs JobStatusStore, sink ResultSink, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{jobs: jobs, sink: sink, logger: logger, clock: time.Now}
}

// Run executes one job. Setup marks it running; if the record is gone
// the run aborts without executing. Teardown always happens, even when
// execute fails or panics, and records a terminal status plus the final
// result payload.
func (r *Runner) Run(ctx context.Context, jobID int64, jobType string, proc Processor, token *Token) {
	result := &Result{
		JobID:     jobID,
		JobType:   jobType,
		StartedAt: r.clock(),
	}

	if err := r.jobs.UpdateStatus(ctx, jobID, jobType, db.JobRunning, ""); err != nil {
		if apperrors.Is(err, apperrors.ErrJobNotFound(jobID, jobType)) {
			r.logger.Warn("job record missing, aborting quietly",
				"job_id", jobID, "job_type", jobType)
			return
		}
		r.logger.Error("mark job running failed",
			"job_id", jobID, "job_type", jobType, "error", err)
		// The record exists but could not be updated; still run so the
		// batch makes progress, teardown retries the status write.
	}

	outcome := r.execute(ctx, proc, token, result)
	r.teardown(ctx, result, outcome)
}

func (r *Runner) execute(ctx context.Context, proc Processor, token *Token, result *Result) *Outcome {
	var outcome *Outcome
	var err error

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
				result.ErrorType = "panic"
				r.logger.Error("worker panicked",
					"job_id", result.JobID,
					"job_type", result.JobType,
					"panic", rec,
					"stack", string(debug.Stack()))
			}
		}()
		outcome, err = proc.Execute(ctx, token)
	}()

	if err != nil {
		result.Error = err.Error()
		if result.ErrorType == "" {
			result.ErrorType = classifyError(err)
		}
		return &Outcome{Status: db.JobFailed}
	}
	if outcome == nil {
		outcome = &Outcome{Status: db.JobCompleted}
	}
	return outcome
}

func (r *Runner) teardown(ctx context.Context, result *Result, outcome *Outcome) {
	result.CompletedAt = r.clock()
	result.Status = outcome.Status
	result.Detail = outcome.Payload

	resultFile := ""
	if r.sink != nil {
		path, err := r.sink.Write(result.JobID, result.JobType, result)
		if err != nil {
			r.logger.Error("persist job result failed",
				"job_id", result.JobID, "error", err)
		} else {
			resultFile = path
		}
	}

	if err := r.jobs.UpdateStatus(ctx, result.JobID, result.JobType, result.Status, resultFile); err != nil {
		r.logger.Error("record terminal job status failed",
			"job_id", result.JobID,
			"job_type", result.JobType,
			"status", result.Status,
			"error", err)
	}
}

// classifyError maps an error to the result payload's error-type string.
func classifyError(err error) string {
	if be := apperrors.AsBatchError(err); be != nil {
		return string(be.Code)
	}
	return fmt.Sprintf("%T", err)
}
