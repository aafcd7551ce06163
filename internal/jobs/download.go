package jobs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/svgtranslate/svgbatch/internal/pipeline"
	"github.com/svgtranslate/svgbatch/internal/worker"
)

// downloadWorker mirrors every task's main file into the local download
// directory, skipping files that are already present.
type downloadWorker struct {
	jobID int64
	deps  Deps
	dir   string
}

// NewDownloadFactory returns the factory for download_main_files jobs.
// Downloads land in dir.
func NewDownloadFactory(deps Deps, dir string) Factory {
	return func(jobID int64) worker.Processor {
		return &downloadWorker{jobID: jobID, deps: deps, dir: dir}
	}
}

func (w *downloadWorker) Execute(ctx context.Context, token *worker.Token) (*worker.Outcome, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, err
	}
	items, err := loadWorkItems(ctx, w.deps.Tasks)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	p := pipeline.New(TypeDownload, w.steps(), itemID, w.deps.Config, w.deps.logger()).
		WithCheckpoint(checkpointer(w.jobID, TypeDownload, w.deps.Sink, w.deps.logger(), startedAt))
	summary := p.Run(ctx, items, token)

	syncStages(ctx, w.deps.Stages, "download", 1, items, summary)
	return &worker.Outcome{Status: summary.Status, Payload: summary}, nil
}

func (w *downloadWorker) steps() []pipeline.Step[*WorkItem] {
	host := w.deps.Host
	return []pipeline.Step[*WorkItem]{
		{Name: "check_local", Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			target := filepath.Join(w.dir, filepath.Base(it.File))
			if _, err := os.Stat(target); err == nil {
				return pipeline.SkipDestructive("already downloaded")
			}
			return pipeline.Success()
		}},
		{Name: "fetch", Destructive: true, Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			path, err := host.Fetch(ctx, it.File)
			if err != nil {
				return pipeline.Failf("fetch %s: %v", it.File, err)
			}
			it.localPath = path
			return pipeline.Success()
		}},
		{Name: "store", Destructive: true, Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			target := filepath.Join(w.dir, filepath.Base(it.File))
			if it.localPath == target {
				return pipeline.Success()
			}
			if err := os.Rename(it.localPath, target); err != nil {
				return pipeline.Failf("store %s: %v", it.File, err)
			}
			it.localPath = target
			return pipeline.Success()
		}},
	}
}
