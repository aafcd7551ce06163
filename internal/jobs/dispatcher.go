// Package jobs wires the batch job types: the dispatcher and its
// cancellation registry, the result file store, the cron scheduler, and
// the per-type workers built on the pipeline processor.
package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
	"github.com/svgtranslate/svgbatch/internal/worker"
)

// Job types.
const (
	TypeCrop     = "crop_main_files"
	TypeCollect  = "collect_main_files"
	TypeDownload = "download_main_files"
	TypeRepair   = "repair_main_files"
)

// Factory builds the processor for one job run.
type Factory func(jobID int64) worker.Processor

// JobCreator persists new job records. *db.JobStore satisfies it.
type JobCreator interface {
	Create(ctx context.Context, jobType string) (int64, error)
}

// Dispatcher validates job types, creates job records, and launches
// workers on background goroutines. It owns the cancellation registry:
// tokens are inserted on start and removed when the worker finishes,
// whatever the outcome.
type Dispatcher struct {
	store  JobCreator
	runner *worker.Runner
	logger *slog.Logger

	mu        sync.Mutex
	registry  map[int64]*worker.Token
	factories map[string]Factory

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher with an empty type registry.
func NewDispatcher(store JobCreator, runner *worker.Runner, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		runner:    runner,
		logger:    logger,
		registry:  make(map[int64]*worker.Token),
		factories: make(map[string]Factory),
	}
}

// Register binds a job type to its processor factory.
func (d *Dispatcher) Register(jobType string, factory Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[jobType] = factory
}

// Registered reports whether a factory is bound to the job type.
func (d *Dispatcher) Registered(jobType string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.factories[jobType]
	return ok
}

// Types returns the registered job types, sorted.
func (d *Dispatcher) Types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	types := make([]string, 0, len(d.factories))
	for t := range d.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Start validates the job type, creates the job record, registers a
// fresh cancellation token, and launches the worker. The caller never
// blocks on job completion; the returned ID is the handle for Cancel
// and for locating the result file.
func (d *Dispatcher) Start(ctx context.Context, jobType string) (int64, error) {
	d.mu.Lock()
	factory, ok := d.factories[jobType]
	d.mu.Unlock()
	if !ok {
		return 0, apperrors.ErrJobUnknownType(jobType)
	}

	jobID, err := d.store.Create(ctx, jobType)
	if err != nil {
		return 0, err
	}

	token := worker.NewToken()
	d.mu.Lock()
	d.registry[jobID] = token
	d.mu.Unlock()

	d.logger.Info("job dispatched", "job_id", jobID, "job_type", jobType)

	// The job must outlive the dispatching request.
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.registry, jobID)
			d.mu.Unlock()
		}()
		d.runner.Run(runCtx, jobID, jobType, factory(jobID), token)
	}()

	return jobID, nil
}

// Cancel requests cancellation of a running job. It returns false when
// the job is unknown or already finished. Best-effort and racy by
// design: a worker may finish between lookup and set.
func (d *Dispatcher) Cancel(jobID int64) bool {
	d.mu.Lock()
	token, ok := d.registry[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	token.Cancel()
	d.logger.Info("job cancellation requested", "job_id", jobID)
	return true
}

// Running returns the IDs of jobs whose workers have not finished yet.
func (d *Dispatcher) Running() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int64, 0, len(d.registry))
	for id := range d.registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Wait blocks until every launched worker has finished. Used at
// shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
