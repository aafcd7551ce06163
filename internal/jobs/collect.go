package jobs

import (
	"context"
	"time"

	"github.com/svgtranslate/svgbatch/internal/pipeline"
	"github.com/svgtranslate/svgbatch/internal/worker"
)

// collectWorker surveys every task's main file against the content
// host. It mutates nothing; the value is the result payload, which
// reports which files are present and which have gone missing.
type collectWorker struct {
	jobID int64
	deps  Deps
}

// NewCollectFactory returns the factory for collect_main_files jobs.
func NewCollectFactory(deps Deps) Factory {
	return func(jobID int64) worker.Processor {
		return &collectWorker{jobID: jobID, deps: deps}
	}
}

func (w *collectWorker) Execute(ctx context.Context, token *worker.Token) (*worker.Outcome, error) {
	items, err := loadWorkItems(ctx, w.deps.Tasks)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	p := pipeline.New(TypeCollect, w.steps(), itemID, w.deps.Config, w.deps.logger()).
		WithCheckpoint(checkpointer(w.jobID, TypeCollect, w.deps.Sink, w.deps.logger(), startedAt))
	summary := p.Run(ctx, items, token)

	syncStages(ctx, w.deps.Stages, "collect", 1, items, summary)
	return &worker.Outcome{Status: summary.Status, Payload: summary}, nil
}

func (w *collectWorker) steps() []pipeline.Step[*WorkItem] {
	host := w.deps.Host
	return []pipeline.Step[*WorkItem]{
		{Name: "inspect", Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			exists, err := host.Exists(ctx, it.File)
			if err != nil {
				return pipeline.Failf("inspect %s: %v", it.File, err)
			}
			if !exists {
				return pipeline.Fail("main file missing on content host")
			}
			return pipeline.Success()
		}},
		{Name: "inspect_cropped", Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			exists, err := host.Exists(ctx, croppedName(it.File))
			if err != nil {
				return pipeline.Failf("inspect cropped %s: %v", it.File, err)
			}
			if !exists {
				return pipeline.Skip("no cropped variant yet")
			}
			return pipeline.Success()
		}},
	}
}
