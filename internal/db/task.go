package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
)

// Task statuses.
const (
	TaskPending   = "Pending"
	TaskRunning   = "Running"
	TaskCompleted = "Completed"
	TaskFailed    = "Failed"
	TaskCancelled = "Cancelled"
)

// terminalTaskStatuses are excluded from the duplicate-title check: a
// finished task never blocks a new one with the same title.
var terminalTaskStatuses = []string{TaskCompleted, TaskFailed, TaskCancelled}

// Task is a persisted unit of work with an ordered set of named stages.
type Task struct {
	ID              string
	Title           string
	NormalizedTitle string
	Status          string
	Owner           string
	MainFile        string
	FormData        string
	Results         string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Stages is populated by ListWithStages, keyed by stage name.
	Stages map[string]*Stage
}

// TaskExistsError reports a duplicate-title conflict. It carries the
// conflicting task so callers can offer to resume it instead of
// creating a duplicate.
type TaskExistsError struct {
	Existing *Task
	err      *apperrors.BatchError
}

func (e *TaskExistsError) Error() string { return e.err.Error() }

func (e *TaskExistsError) Unwrap() error { return e.err }

// NormalizeTitle produces the dedup key: underscores become spaces, runs
// of whitespace collapse, and the result is trimmed and case-folded.
func NormalizeTitle(title string) string {
	s := strings.ReplaceAll(title, "_", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// TaskStore persists tasks. Stage persistence is delegated to a
// StageStore collaborator rather than merged into this type.
type TaskStore struct {
	exec   *Executor
	stages *StageStore
}

// NewTaskStore creates a task store and its stage collaborator over the
// given executor.
func NewTaskStore(exec *Executor) *TaskStore {
	return &TaskStore{exec: exec, stages: NewStageStore(exec)}
}

// Stages returns the stage store collaborator.
func (s *TaskStore) Stages() *StageStore {
	return s.stages
}

// Create inserts a new task after checking that no non-terminal task
// already holds the same normalized title. On conflict it returns a
// *TaskExistsError carrying the existing task. A missing ID is filled
// with a fresh UUID; normalized title and default status are always
// derived here.
func (s *TaskStore) Create(ctx context.Context, t *Task) error {
	t.NormalizedTitle = NormalizeTitle(t.Title)
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}

	existing, err := s.findActiveByNormalizedTitle(ctx, t.NormalizedTitle)
	if err != nil {
		return err
	}
	if existing != nil {
		return &TaskExistsError{
			Existing: existing,
			err:      apperrors.ErrTaskAlreadyExists(t.Title),
		}
	}

	now := s.exec.drv.Now()
	query := fmt.Sprintf(`
		INSERT INTO tasks (id, title, normalized_title, status, owner, main_file, form_data, results, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, %s, %s)`, now, now)
	args := []any{t.ID, t.Title, t.NormalizedTitle, t.Status, t.Owner, t.MainFile, t.FormData, t.Results}
	if _, err := s.exec.Exec(ctx, query, args); err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

func (s *TaskStore) findActiveByNormalizedTitle(ctx context.Context, normalized string) (*Task, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(terminalTaskStatuses)), ", ")
	query := fmt.Sprintf(`
		SELECT id, title, normalized_title, status, owner, main_file, form_data, results, created_at, updated_at
		FROM tasks
		WHERE normalized_title = ? AND status NOT IN (%s)
		LIMIT 1`, placeholders)

	args := []any{normalized}
	for _, st := range terminalTaskStatuses {
		args = append(args, st)
	}
	rows, err := s.exec.Query(ctx, query, args, ReadOnly())
	if err != nil {
		return nil, fmt.Errorf("check duplicate title: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return taskFromRow(rows[0]), nil
}

// Get returns one task by ID, without stages.
func (s *TaskStore) Get(ctx context.Context, id string) (*Task, error) {
	rows, err := s.exec.Query(ctx, `
		SELECT id, title, normalized_title, status, owner, main_file, form_data, results, created_at, updated_at
		FROM tasks
		WHERE id = ?`, []any{id}, ReadOnly())
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrTaskNotFound(id)
	}
	return taskFromRow(rows[0]), nil
}

// UpdateStatus sets a task's status.
func (s *TaskStore) UpdateStatus(ctx context.Context, id, status string) error {
	query := fmt.Sprintf("UPDATE tasks SET status = ?, updated_at = %s WHERE id = ?", s.exec.drv.Now())
	n, err := s.exec.Exec(ctx, query, []any{status, id})
	if err != nil {
		return fmt.Errorf("update task %s status: %w", id, err)
	}
	if n == 0 {
		return apperrors.ErrTaskNotFound(id)
	}
	return nil
}

// UpdateResults stores the opaque results payload for a task.
func (s *TaskStore) UpdateResults(ctx context.Context, id, results string) error {
	query := fmt.Sprintf("UPDATE tasks SET results = ?, updated_at = %s WHERE id = ?", s.exec.drv.Now())
	n, err := s.exec.Exec(ctx, query, []any{results, id})
	if err != nil {
		return fmt.Errorf("update task %s results: %w", id, err)
	}
	if n == 0 {
		return apperrors.ErrTaskNotFound(id)
	}
	return nil
}

// mutableTaskColumns is the only set of columns the column-update path
// may touch. Column names never come from caller input.
var mutableTaskColumns = map[string]string{
	"status":    "status",
	"owner":     "owner",
	"main_file": "main_file",
	"form_data": "form_data",
	"results":   "results",
}

// TaskUpdate carries the mutable task fields for a partial update.
// Nil fields preserve the previously stored value.
type TaskUpdate struct {
	Status   *string
	Owner    *string
	MainFile *string
	FormData *string
	Results  *string
}

// Update applies a partial update in one statement; nil fields keep the
// stored values.
func (s *TaskStore) Update(ctx context.Context, id string, upd TaskUpdate) error {
	query := fmt.Sprintf(`
		UPDATE tasks SET
			status = COALESCE(?, status),
			owner = COALESCE(?, owner),
			main_file = COALESCE(?, main_file),
			form_data = COALESCE(?, form_data),
			results = COALESCE(?, results),
			updated_at = %s
		WHERE id = ?`, s.exec.drv.Now())
	args := []any{
		strOrNil(upd.Status), strOrNil(upd.Owner), strOrNil(upd.MainFile),
		strOrNil(upd.FormData), strOrNil(upd.Results), id,
	}
	n, err := s.exec.Exec(ctx, query, args)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if n == 0 {
		return apperrors.ErrTaskNotFound(id)
	}
	return nil
}

// UpdateColumn sets one mutable column of an existing task. The column
// must be in the allow-list.
func (s *TaskStore) UpdateColumn(ctx context.Context, id, column string, value any) error {
	col, ok := mutableTaskColumns[column]
	if !ok {
		return fmt.Errorf("column %q is not updatable", column)
	}
	query := fmt.Sprintf(
		"UPDATE tasks SET %s = ?, updated_at = %s WHERE id = ?",
		col, s.exec.drv.Now())
	n, err := s.exec.Exec(ctx, query, []any{value, id})
	if err != nil {
		return fmt.Errorf("update task column %s: %w", col, err)
	}
	if n == 0 {
		return apperrors.ErrTaskNotFound(id)
	}
	return nil
}

// UpdateMainFile records the task's main file name.
func (s *TaskStore) UpdateMainFile(ctx context.Context, id, mainFile string) error {
	return s.UpdateColumn(ctx, id, "main_file", mainFile)
}

// UpdateFormData stores the opaque form payload for a task.
func (s *TaskStore) UpdateFormData(ctx context.Context, id, formData string) error {
	return s.UpdateColumn(ctx, id, "form_data", formData)
}

// Delete removes a task; its stages go with it via the foreign key
// cascade.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	n, err := s.exec.Exec(ctx, "DELETE FROM tasks WHERE id = ?", []any{id})
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n == 0 {
		return apperrors.ErrTaskNotFound(id)
	}
	return nil
}

// Sort columns allowed in list queries. Anything else falls back to
// created_at.
var taskOrderColumns = map[string]string{
	"created_at": "t.created_at",
	"updated_at": "t.updated_at",
	"title":      "t.title",
	"status":     "t.status",
}

// effectively unbounded limit used when an offset arrives without one
const unboundedLimit = int64(1) << 60

// TaskFilter narrows and pages a task listing.
type TaskFilter struct {
	Statuses     []string
	Owner        string
	MainFileOnly bool // only tasks with a non-empty main_file
	OrderBy      string // allow-listed column, default created_at
	Desc         bool
	Limit        int64
	Offset       int64
}

// ListWithStages returns tasks matching the filter, each carrying its
// stage map. Tasks and stages are fetched in one join and regrouped
// client-side, so listing N tasks costs one round trip instead of N+1.
func (s *TaskStore) ListWithStages(ctx context.Context, f TaskFilter) ([]*Task, error) {
	var where []string
	var args []any
	if len(f.Statuses) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?, ", len(f.Statuses)), ", ")
		where = append(where, fmt.Sprintf("t.status IN (%s)", ph))
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.Owner != "" {
		where = append(where, "t.owner = ?")
		args = append(args, f.Owner)
	}
	if f.MainFileOnly {
		where = append(where, "t.main_file != ''")
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	orderCol, ok := taskOrderColumns[f.OrderBy]
	if !ok {
		orderCol = "t.created_at"
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}

	// An offset without a limit still needs a LIMIT clause to stay
	// well-formed, so fall back to an effectively unbounded one.
	limit := f.Limit
	if limit <= 0 {
		limit = unboundedLimit
	}

	query := fmt.Sprintf(`
		SELECT t.id, t.title, t.normalized_title, t.status, t.owner, t.main_file, t.form_data, t.results,
		       t.created_at, t.updated_at,
		       s.id AS stage_id, s.stage_name, s.stage_number, s.status AS stage_status,
		       s.sub_name, s.message, s.updated_at AS stage_updated_at
		FROM (
			SELECT * FROM tasks t %s ORDER BY %s %s LIMIT ? OFFSET ?
		) t
		LEFT JOIN task_stages s ON s.task_id = t.id
		ORDER BY %s %s, s.stage_number ASC`,
		whereClause, orderCol, dir, orderCol, dir)
	args = append(args, limit, f.Offset)

	rows, err := s.exec.Query(ctx, query, args, ReadOnly())
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return regroupTasks(rows), nil
}

// regroupTasks folds flat join rows into tasks carrying stage maps,
// preserving first-seen task order.
func regroupTasks(rows []Row) []*Task {
	var out []*Task
	byID := make(map[string]*Task)
	for _, r := range rows {
		id := rowString(r, "id")
		t, ok := byID[id]
		if !ok {
			t = taskFromRow(r)
			t.Stages = make(map[string]*Stage)
			byID[id] = t
			out = append(out, t)
		}
		if r["stage_id"] == nil {
			continue
		}
		st := &Stage{
			ID:        rowInt64(r, "stage_id"),
			TaskID:    id,
			Name:      rowString(r, "stage_name"),
			Number:    int(rowInt64(r, "stage_number")),
			Status:    rowString(r, "stage_status"),
			SubName:   rowString(r, "sub_name"),
			Message:   rowString(r, "message"),
			UpdatedAt: rowTime(r, "stage_updated_at"),
		}
		t.Stages[st.Name] = st
	}
	return out
}

func taskFromRow(r Row) *Task {
	return &Task{
		ID:              rowString(r, "id"),
		Title:           rowString(r, "title"),
		NormalizedTitle: rowString(r, "normalized_title"),
		Status:          rowString(r, "status"),
		Owner:           rowString(r, "owner"),
		MainFile:        rowString(r, "main_file"),
		FormData:        rowString(r, "form_data"),
		Results:         rowString(r, "results"),
		CreatedAt:       rowTime(r, "created_at"),
		UpdatedAt:       rowTime(r, "updated_at"),
	}
}
