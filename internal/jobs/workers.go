package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/svgtranslate/svgbatch/internal/db"
	"github.com/svgtranslate/svgbatch/internal/pipeline"
	"github.com/svgtranslate/svgbatch/internal/remote"
	"github.com/svgtranslate/svgbatch/internal/worker"
)

// WorkItem is one unit of a batch run: a task's main file plus the
// local state accumulated as steps run.
type WorkItem struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	File   string `json:"file"`

	localPath       string
	transformedPath string
	refText         string
	repairedText    string
}

func itemID(it *WorkItem) string { return it.File }

// TaskLister loads tasks for work-list building. *db.TaskStore satisfies it.
type TaskLister interface {
	ListWithStages(ctx context.Context, f db.TaskFilter) ([]*db.Task, error)
}

// StageUpdater records per-task stage progress best-effort.
// *db.StageStore satisfies it.
type StageUpdater interface {
	UpsertSafe(ctx context.Context, taskID, stageName string, upd db.StageUpdate)
}

// Deps carries everything a worker needs. One Deps value is shared by
// all factories registered on a dispatcher.
type Deps struct {
	Tasks  TaskLister
	Stages StageUpdater
	Host   remote.ContentHost
	Sink   worker.ResultSink
	Config pipeline.Config
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// loadWorkItems builds the work list: every task carrying a main file.
func loadWorkItems(ctx context.Context, tasks TaskLister) ([]*WorkItem, error) {
	list, err := tasks.ListWithStages(ctx, db.TaskFilter{MainFileOnly: true, OrderBy: "created_at"})
	if err != nil {
		return nil, fmt.Errorf("load work list: %w", err)
	}
	items := make([]*WorkItem, 0, len(list))
	for _, t := range list {
		items = append(items, &WorkItem{TaskID: t.ID, Title: t.Title, File: t.MainFile})
	}
	return items, nil
}

// checkpointer persists partial summaries through the result sink so
// progress is observable mid-run.
func checkpointer(jobID int64, jobType string, sink worker.ResultSink, logger *slog.Logger, startedAt time.Time) pipeline.Checkpoint {
	return func(ctx context.Context, s *pipeline.Summary) {
		if sink == nil {
			return
		}
		partial := &worker.Result{
			JobID:     jobID,
			JobType:   jobType,
			Status:    s.Status,
			StartedAt: startedAt,
			Detail:    s,
		}
		if _, err := sink.Write(jobID, jobType, partial); err != nil {
			logger.Error("checkpoint write failed", "job_id", jobID, "error", err)
		}
	}
}

// syncStages mirrors per-item outcomes onto the owning tasks' stage
// rows, best-effort.
func syncStages(ctx context.Context, stages StageUpdater, stageName string, number int, items []*WorkItem, s *pipeline.Summary) {
	if stages == nil {
		return
	}
	byID := make(map[string]*WorkItem, len(items))
	for _, it := range items {
		byID[it.File] = it
	}
	for _, res := range s.Items {
		it, ok := byID[res.ID]
		if !ok {
			continue
		}
		status := stageStatus(res.Status)
		stages.UpsertSafe(ctx, it.TaskID, stageName, db.StageUpdate{
			Number:  db.Ptr(number),
			Status:  db.Ptr(status),
			Message: db.Ptr(res.Error),
		})
	}
}

func stageStatus(itemStatus string) string {
	switch itemStatus {
	case pipeline.StatusCompleted:
		return db.StageCompleted
	case pipeline.StatusFailed:
		return db.StageFailed
	case pipeline.StatusSkipped:
		return db.StageSkipped
	default:
		return db.StagePending
	}
}

// croppedName derives the published name of a cropped file:
// "chart.svg" -> "chart (cropped).svg".
func croppedName(file string) string {
	ext := filepath.Ext(file)
	return strings.TrimSuffix(file, ext) + " (cropped)" + ext
}
