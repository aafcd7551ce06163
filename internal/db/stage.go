package db

import (
	"context"
	"fmt"
	"time"
)

// Stage statuses.
const (
	StagePending   = "Pending"
	StageRunning   = "Running"
	StageCompleted = "Completed"
	StageFailed    = "Failed"
	StageSkipped   = "Skipped"
	StageCancelled = "Cancelled"
)

// Stage is one named phase of a task's pipeline.
type Stage struct {
	ID        int64
	TaskID    string
	Name      string
	Number    int
	Status    string
	SubName   string
	Message   string
	UpdatedAt time.Time
}

// StageUpdate carries the mutable stage fields for a partial upsert.
// Nil fields preserve the previously stored value.
type StageUpdate struct {
	Number  *int
	Status  *string
	SubName *string
	Message *string
}

// mutableStageColumns is the only set of columns the column-update path
// may touch. Column names never come from caller input.
var mutableStageColumns = map[string]string{
	"stage_number": "stage_number",
	"status":       "status",
	"sub_name":     "sub_name",
	"message":      "message",
}

// StageStore persists task stages.
type StageStore struct {
	exec *Executor
}

// NewStageStore creates a stage store over the given executor.
func NewStageStore(exec *Executor) *StageStore {
	return &StageStore{exec: exec}
}

// Upsert inserts or updates one stage in a single statement. Fields left
// nil in upd keep their previously stored value, so partial updates
// cannot clobber unrelated fields. A fresh insert fills absent fields
// with defaults.
func (s *StageStore) Upsert(ctx context.Context, taskID, stageName string, upd StageUpdate) error {
	now := s.exec.drv.Now()
	query := fmt.Sprintf(`
		INSERT INTO task_stages (task_id, stage_name, stage_number, status, sub_name, message, updated_at)
		VALUES (?, ?, COALESCE(?, 0), COALESCE(?, 'Pending'), COALESCE(?, ''), COALESCE(?, ''), %s)
		ON CONFLICT (task_id, stage_name) DO UPDATE SET
			stage_number = COALESCE(?, task_stages.stage_number),
			status = COALESCE(?, task_stages.status),
			sub_name = COALESCE(?, task_stages.sub_name),
			message = COALESCE(?, task_stages.message),
			updated_at = %s`, now, now)

	args := []any{
		taskID, stageName,
		intOrNil(upd.Number), strOrNil(upd.Status), strOrNil(upd.SubName), strOrNil(upd.Message),
		intOrNil(upd.Number), strOrNil(upd.Status), strOrNil(upd.SubName), strOrNil(upd.Message),
	}
	if _, err := s.exec.Exec(ctx, query, args); err != nil {
		return fmt.Errorf("upsert stage %s/%s: %w", taskID, stageName, err)
	}
	return nil
}

// UpsertSafe is Upsert for best-effort progress reporting: failures are
// logged by the executor and swallowed.
func (s *StageStore) UpsertSafe(ctx context.Context, taskID, stageName string, upd StageUpdate) {
	if err := s.Upsert(ctx, taskID, stageName, upd); err != nil {
		s.exec.logger.Error("stage upsert failed",
			"task_id", taskID,
			"stage", stageName,
			"error", err)
	}
}

// UpdateColumn sets one mutable column of an existing stage. The column
// must be in the allow-list.
func (s *StageStore) UpdateColumn(ctx context.Context, taskID, stageName, column string, value any) error {
	col, ok := mutableStageColumns[column]
	if !ok {
		return fmt.Errorf("column %q is not updatable", column)
	}
	query := fmt.Sprintf(
		"UPDATE task_stages SET %s = ?, updated_at = %s WHERE task_id = ? AND stage_name = ?",
		col, s.exec.drv.Now())
	if _, err := s.exec.Exec(ctx, query, []any{value, taskID, stageName}); err != nil {
		return fmt.Errorf("update stage column %s: %w", col, err)
	}
	return nil
}

// ListForTask returns a task's stages in increasing stage_number order.
func (s *StageStore) ListForTask(ctx context.Context, taskID string) ([]*Stage, error) {
	rows, err := s.exec.Query(ctx, `
		SELECT id, task_id, stage_name, stage_number, status, sub_name, message, updated_at
		FROM task_stages
		WHERE task_id = ?
		ORDER BY stage_number ASC, stage_name ASC`, []any{taskID}, ReadOnly())
	if err != nil {
		return nil, fmt.Errorf("list stages for %s: %w", taskID, err)
	}

	stages := make([]*Stage, 0, len(rows))
	for _, r := range rows {
		stages = append(stages, stageFromRow(r))
	}
	return stages, nil
}

func stageFromRow(r Row) *Stage {
	return &Stage{
		ID:        rowInt64(r, "id"),
		TaskID:    rowString(r, "task_id"),
		Name:      rowString(r, "stage_name"),
		Number:    int(rowInt64(r, "stage_number")),
		Status:    rowString(r, "status"),
		SubName:   rowString(r, "sub_name"),
		Message:   rowString(r, "message"),
		UpdatedAt: rowTime(r, "updated_at"),
	}
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func strOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// Ptr returns a pointer to v, for building partial updates inline.
func Ptr[T any](v T) *T {
	return &v
}
