package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/svgtranslate/svgbatch/internal/pipeline"
	"github.com/svgtranslate/svgbatch/internal/worker"
)

// repairWorker fixes broken cross-references left behind by earlier
// batch runs: doubled namespace prefixes and self-nested links.
type repairWorker struct {
	jobID int64
	deps  Deps
}

// NewRepairFactory returns the factory for repair_main_files jobs.
func NewRepairFactory(deps Deps) Factory {
	return func(jobID int64) worker.Processor {
		return &repairWorker{jobID: jobID, deps: deps}
	}
}

func (w *repairWorker) Execute(ctx context.Context, token *worker.Token) (*worker.Outcome, error) {
	items, err := loadWorkItems(ctx, w.deps.Tasks)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	p := pipeline.New(TypeRepair, w.steps(), itemID, w.deps.Config, w.deps.logger()).
		WithCheckpoint(checkpointer(w.jobID, TypeRepair, w.deps.Sink, w.deps.logger(), startedAt))
	summary := p.Run(ctx, items, token)

	syncStages(ctx, w.deps.Stages, "repair", 1, items, summary)
	return &worker.Outcome{Status: summary.Status, Payload: summary}, nil
}

func (w *repairWorker) steps() []pipeline.Step[*WorkItem] {
	host := w.deps.Host
	return []pipeline.Step[*WorkItem]{
		{Name: "get_ref", Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			text, err := host.GetReference(ctx, "File:"+it.File)
			if err != nil {
				return pipeline.Failf("get reference: %v", err)
			}
			it.refText = text
			return pipeline.Success()
		}},
		{Name: "analyze", Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			repaired := RepairReference(it.refText)
			if repaired == it.refText {
				return pipeline.SkipDestructive("reference intact")
			}
			it.repairedText = repaired
			return pipeline.Success()
		}},
		{Name: "update_ref", Destructive: true, Run: func(ctx context.Context, it *WorkItem) pipeline.StepStatus {
			if err := host.UpdateReference(ctx, "File:"+it.File, it.repairedText); err != nil {
				return pipeline.Failf("update reference: %v", err)
			}
			return pipeline.Success()
		}},
	}
}

// RepairReference collapses reference damage accumulated by repeated
// rewrites: doubled File:/Template: prefixes and doubled "(cropped)"
// markers.
func RepairReference(text string) string {
	for _, prefix := range []string{"File:", "Template:"} {
		doubled := prefix + prefix
		for strings.Contains(text, doubled) {
			text = strings.ReplaceAll(text, doubled, prefix)
		}
	}
	for strings.Contains(text, "(cropped) (cropped)") {
		text = strings.ReplaceAll(text, "(cropped) (cropped)", "(cropped)")
	}
	return text
}
