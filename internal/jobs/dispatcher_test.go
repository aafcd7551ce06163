package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svgtranslate/svgbatch/internal/db"
	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
	"github.com/svgtranslate/svgbatch/internal/worker"
)

type funcProcessor func(ctx context.Context, token *worker.Token) (*worker.Outcome, error)

func (f funcProcessor) Execute(ctx context.Context, token *worker.Token) (*worker.Outcome, error) {
	return f(ctx, token)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *db.JobStore, *FileStore) {
	t.Helper()
	exec := db.NewTestExecutor(t)
	store := db.NewJobStore(exec)
	sink, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	runner := worker.NewRunner(store, sink, nil)
	return NewDispatcher(store, runner, nil), store, sink
}

func TestDispatcherRejectsUnknownType(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	_, err := d.Start(context.Background(), "defragment_main_files")
	be := apperrors.AsBatchError(err)
	require.NotNil(t, be)
	assert.Equal(t, apperrors.CodeJobUnknownType, be.Code)
}

func TestDispatcherRunsJobToCompletion(t *testing.T) {
	t.Parallel()

	d, store, sink := newTestDispatcher(t)
	d.Register(TypeCollect, func(jobID int64) worker.Processor {
		return funcProcessor(func(ctx context.Context, token *worker.Token) (*worker.Outcome, error) {
			return &worker.Outcome{Status: db.JobCompleted, Payload: map[string]int{"processed": 2}}, nil
		})
	})

	jobID, err := d.Start(context.Background(), TypeCollect)
	require.NoError(t, err)
	d.Wait()

	job, err := store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, db.JobCompleted, job.Status)
	assert.Equal(t, FileName(jobID, TypeCollect), job.ResultFile)

	result, err := sink.Read(jobID, TypeCollect)
	require.NoError(t, err)
	assert.Equal(t, db.JobCompleted, result.Status)

	// Registry entry removed once the worker finished.
	assert.Empty(t, d.Running())
	assert.False(t, d.Cancel(jobID), "finished job cannot be cancelled")
}

func TestDispatcherCancelRunningJob(t *testing.T) {
	t.Parallel()

	d, store, _ := newTestDispatcher(t)
	started := make(chan struct{})
	d.Register(TypeDownload, func(jobID int64) worker.Processor {
		return funcProcessor(func(ctx context.Context, token *worker.Token) (*worker.Outcome, error) {
			close(started)
			for !token.Cancelled() {
				time.Sleep(5 * time.Millisecond)
			}
			return &worker.Outcome{Status: db.JobCancelled}, nil
		})
	})

	jobID, err := d.Start(context.Background(), TypeDownload)
	require.NoError(t, err)
	<-started

	assert.Contains(t, d.Running(), jobID)
	assert.True(t, d.Cancel(jobID))
	d.Wait()

	job, err := store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, db.JobCancelled, job.Status)
	assert.Empty(t, d.Running())
}

func TestDispatcherCancelUnknownJob(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	assert.False(t, d.Cancel(404))
}

func TestDispatcherTypes(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	noop := func(jobID int64) worker.Processor {
		return funcProcessor(func(ctx context.Context, token *worker.Token) (*worker.Outcome, error) {
			return nil, nil
		})
	}
	d.Register(TypeRepair, noop)
	d.Register(TypeCrop, noop)

	assert.Equal(t, []string{TypeCrop, TypeRepair}, d.Types())
}
