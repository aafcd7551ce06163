// Package pipeline runs a work list through a fixed, ordered set of
// named steps, one item at a time. Sequential processing is deliberate:
// it keeps progress reporting deterministic and respects the rate limits
// of the external content host.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Step outcomes. Every named step of every item records exactly one.
type StepOutcome string

const (
	OutcomeSuccess      StepOutcome = "success"
	OutcomeSkip         StepOutcome = "skip"
	OutcomeFail         StepOutcome = "fail"
	OutcomeNotAttempted StepOutcome = "not_attempted"
)

// Overall and per-item statuses. These match the job status vocabulary
// so a summary status can be recorded on the job row directly.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// DefaultCheckpointEvery persists the partial result at the first item
// and then every Nth, so progress survives interruption and is
// observable mid-run.
const DefaultCheckpointEvery = 10

// DefaultFailureThreshold is the item-failure count at which a finished
// run is reported failed rather than completed.
const DefaultFailureThreshold = 10

// StepStatus is what a step's Run returns.
type StepStatus struct {
	Outcome StepOutcome
	Message string

	// halt aborts the remaining steps for this item; the skipped steps
	// inherit Message as their reason.
	halt bool

	// skipDestructive lets later non-destructive steps run while
	// destructive ones are skipped with Message as their reason.
	skipDestructive bool
}

// Success reports a completed step.
func Success() StepStatus {
	return StepStatus{Outcome: OutcomeSuccess}
}

// Skip reports a step that chose not to run, without affecting later steps.
func Skip(reason string) StepStatus {
	return StepStatus{Outcome: OutcomeSkip, Message: reason}
}

// SkipDestructive reports a pre-check that found the work already done:
// this step and every later destructive step are skipped, while later
// non-destructive steps still run.
func SkipDestructive(reason string) StepStatus {
	return StepStatus{Outcome: OutcomeSkip, Message: reason, skipDestructive: true}
}

// Fail reports a hard failure: remaining steps for this item are
// skipped with the same reason and the item is recorded failed.
func Fail(reason string) StepStatus {
	return StepStatus{Outcome: OutcomeFail, Message: reason, halt: true}
}

// Failf is Fail with formatting.
func Failf(format string, args ...any) StepStatus {
	return Fail(fmt.Sprintf(format, args...))
}

// Step is one named phase applied to every item. Destructive steps are
// the ones a pre-check skip must suppress (publishing, mutating remote
// state); non-destructive steps run regardless.
type Step[T any] struct {
	Name        string
	Destructive bool
	Run         func(ctx context.Context, item T) StepStatus
}

// StepResult is the recorded outcome of one step for one item.
type StepResult struct {
	Outcome StepOutcome `json:"outcome"`
	Message string      `json:"message,omitempty"`
}

// ItemResult is the fully populated record for one processed item.
type ItemResult struct {
	ID     string                `json:"id"`
	Status string                `json:"status"`
	Steps  map[string]StepResult `json:"steps"`
	Error  string                `json:"error,omitempty"`
}

// Summary aggregates one run. All counters are derived strictly from
// recorded per-item outcomes: Completed+Failed+Skipped always equals
// Processed.
type Summary struct {
	Status     string         `json:"status"`
	Total      int            `json:"total"`
	Processed  int            `json:"processed"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Cancelled  bool           `json:"cancelled"`
	StepCounts map[string]int `json:"step_counts"`
	Items      []*ItemResult  `json:"items"`
}

// CancelFlag is polled before each item. *worker.Token satisfies it.
type CancelFlag interface {
	Cancelled() bool
}

// Checkpoint persists a partial summary mid-run.
type Checkpoint func(ctx context.Context, s *Summary)

// Config tunes one pipeline run.
type Config struct {
	// CheckpointEvery persists partial results at the first item and
	// then every Nth. Zero means DefaultCheckpointEvery.
	CheckpointEvery int

	// FailureThreshold: this many item failures or more marks the whole
	// run failed. Zero means DefaultFailureThreshold.
	FailureThreshold int

	// DevLimit and Limit truncate the work list before processing; the
	// smaller positive one wins.
	DevLimit int
	Limit    int
}

// Pipeline applies its steps to each item of a work list sequentially.
type Pipeline[T any] struct {
	name       string
	steps      []Step[T]
	itemID     func(T) string
	cfg        Config
	logger     *slog.Logger
	checkpoint Checkpoint
}

// New creates a pipeline. itemID names items in results and logs.
func New[T any](name string, steps []Step[T], itemID func(T) string, cfg Config, logger *slog.Logger) *Pipeline[T] {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline[T]{
		name:   name,
		steps:  steps,
		itemID: itemID,
		cfg:    cfg,
		logger: logger,
	}
}

// WithCheckpoint sets the partial-result persister.
func (p *Pipeline[T]) WithCheckpoint(cp Checkpoint) *Pipeline[T] {
	p.checkpoint = cp
	return p
}

// Run processes the work list and returns the aggregate summary. The
// cancel flag is checked only between items, never mid-item. A nil flag
// means the run cannot be cancelled.
func (p *Pipeline[T]) Run(ctx context.Context, items []T, flag CancelFlag) *Summary {
	items = p.truncate(items)

	s := &Summary{
		Total:      len(items),
		StepCounts: make(map[string]int),
	}
	start := time.Now()

	for _, item := range items {
		if flag != nil && flag.Cancelled() {
			p.logger.Info("cancellation requested, stopping at item boundary",
				"pipeline", p.name,
				"processed", s.Processed)
			s.Cancelled = true
			break
		}

		res := p.processItem(ctx, item)
		s.Items = append(s.Items, res)
		s.Processed++
		switch res.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
		for name, sr := range res.Steps {
			if sr.Outcome == OutcomeSuccess {
				s.StepCounts[name]++
			}
		}

		if p.checkpoint != nil && (s.Processed == 1 || s.Processed%p.cfg.CheckpointEvery == 0) {
			s.Status = StatusRunning
			p.checkpoint(ctx, s)
		}
	}

	s.Status = p.overallStatus(s)
	p.logger.Info("pipeline finished",
		"pipeline", p.name,
		"status", s.Status,
		"total", s.Total,
		"processed", s.Processed,
		"completed", s.Completed,
		"failed", s.Failed,
		"skipped", s.Skipped,
		"elapsed", time.Since(start).String())
	return s
}

func (p *Pipeline[T]) overallStatus(s *Summary) string {
	switch {
	case s.Cancelled:
		return StatusCancelled
	case s.Failed >= p.cfg.FailureThreshold:
		return StatusFailed
	default:
		return StatusCompleted
	}
}

// truncate applies the development and operator caps; the smaller
// positive one wins. The effective total is logged so it is observable.
func (p *Pipeline[T]) truncate(items []T) []T {
	limit := 0
	for _, l := range []int{p.cfg.DevLimit, p.cfg.Limit} {
		if l > 0 && (limit == 0 || l < limit) {
			limit = l
		}
	}
	if limit > 0 && len(items) > limit {
		p.logger.Info("work list truncated",
			"pipeline", p.name,
			"original", len(items),
			"limit", limit)
		items = items[:limit]
	}
	p.logger.Info("work list ready",
		"pipeline", p.name,
		"total", len(items))
	return items
}

// processItem runs every step for one item. Step records start as
// not-attempted so the record is fully populated no matter how the item
// ends.
func (p *Pipeline[T]) processItem(ctx context.Context, item T) *ItemResult {
	res := &ItemResult{
		ID:    p.itemID(item),
		Steps: make(map[string]StepResult, len(p.steps)),
	}
	for _, step := range p.steps {
		res.Steps[step.Name] = StepResult{Outcome: OutcomeNotAttempted}
	}

	skipDestructive := false
	skipReason := ""
	for i, step := range p.steps {
		if skipDestructive && step.Destructive {
			res.Steps[step.Name] = StepResult{Outcome: OutcomeSkip, Message: skipReason}
			continue
		}

		st := step.Run(ctx, item)
		res.Steps[step.Name] = StepResult{Outcome: st.Outcome, Message: st.Message}

		if st.skipDestructive {
			skipDestructive = true
			skipReason = st.Message
		}
		if st.halt {
			// Hard failure: remaining steps inherit the reason.
			for _, rest := range p.steps[i+1:] {
				res.Steps[rest.Name] = StepResult{Outcome: OutcomeSkip, Message: st.Message}
			}
			if st.Outcome == OutcomeFail {
				res.Error = st.Message
			}
			break
		}
	}

	res.Status = itemStatus(p.steps, res, skipDestructive)
	return res
}

// itemStatus derives the terminal per-item status: any failed step fails
// the item; an item whose destructive work was skipped counts as
// skipped; everything else completed.
func itemStatus[T any](steps []Step[T], res *ItemResult, skipDestructive bool) string {
	for _, sr := range res.Steps {
		if sr.Outcome == OutcomeFail {
			return StatusFailed
		}
	}
	if skipDestructive {
		return StatusSkipped
	}
	return StatusCompleted
}
