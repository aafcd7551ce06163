package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/svgtranslate/svgbatch/internal/pipeline"
	"github.com/svgtranslate/svgbatch/internal/remote"
	"github.com/svgtranslate/svgbatch/internal/worker"
)

// cropWorker publishes a cropped variant of every task's main file and
// repoints the source and template cross-references at it.
type cropWorker struct {
	jobID int64
	deps  Deps
}

// NewCropFactory returns the factory for crop_main_files jobs.
func NewCropFactory(deps Deps) Factory {
	return func(jobID int64) worker.Processor {
		return &cropWorker{jobID: jobID, deps: deps}
	}
}

func (w *cropWorker) Execute(ctx context.Context, token *worker.Token) (*worker.Outcome, error) {
	items, err := loadWorkItems(ctx, w.deps.Tasks)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	p := pipeline.New(TypeCrop, w.steps(), itemID, w.deps.Config, w.deps.logger()).
		WithCheckpoint(checkpointer(w.jobID, TypeCrop, w.deps.Sink, w.deps.logger(), startedAt))
	summary := p.Run(ctx, items, token)

	syncStages(ctx, w.deps.Stages, "crop", 1, items, summary)
	return &worker.Outcome{Status: summary.Status, Payload: summary}, nil
}

func (w *cropWorker) steps() []pipeline.Step[*WorkItem] {
	host := w.deps.Host
	return []pipeline.Step[*WorkItem]{
		{Name: "check", Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			exists, err := host.Exists(ctx, croppedName(it.File))
			if err != nil {
				return pipeline.Failf("check cropped file: %v", err)
			}
			if exists {
				return pipeline.SkipDestructive("cropped file already exists")
			}
			return pipeline.Success()
		}},
		{Name: "fetch", Destructive: true, Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			path, err := host.Fetch(ctx, it.File)
			if err != nil {
				return pipeline.Failf("fetch source: %v", err)
			}
			it.localPath = path
			return pipeline.Success()
		}},
		{Name: "transform", Destructive: true, Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			path, err := host.Transform(ctx, it.localPath)
			if err != nil {
				return pipeline.Failf("transform: %v", err)
			}
			it.transformedPath = path
			return pipeline.Success()
		}},
		{Name: "publish", Destructive: true, Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			err := host.Publish(ctx, croppedName(it.File), it.transformedPath,
				fmt.Sprintf("Cropped version of %s", it.File))
			if errors.Is(err, remote.ErrAlreadyExists) {
				return pipeline.Skip("cropped file already exists")
			}
			if err != nil {
				return pipeline.Failf("publish: %v", err)
			}
			return pipeline.Success()
		}},
		{Name: "update_source_ref", Run: w.updateRef(func(it *WorkItem) string {
			return "File:" + it.File
		})},
		{Name: "update_template_ref", Run: w.updateRef(func(it *WorkItem) string {
			return "Template:" + it.Title
		})},
	}
}

// updateRef rewrites one cross-reference page so it points at the
// cropped file. Runs even when publishing was skipped: an existing
// cropped file may still have stale references.
func (w *cropWorker) updateRef(page func(*WorkItem) string) func(context.Context, *WorkItem) pipeline.StepStatus {
	host := w.deps.Host
	return func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
		identifier := page(it)
		text, err := host.GetReference(ctx, identifier)
		if err != nil {
			return pipeline.Failf("get reference %s: %v", identifier, err)
		}
		updated := strings.ReplaceAll(text, it.File, croppedName(it.File))
		if updated == text {
			return pipeline.Skip("reference already up to date")
		}
		if err := host.UpdateReference(ctx, identifier, updated); err != nil {
			return pipeline.Failf("update reference %s: %v", identifier, err)
		}
		return pipeline.Success()
	}
}
