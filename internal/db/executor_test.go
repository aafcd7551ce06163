package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/svgtranslate/svgbatch/internal/db/driver"
	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
)

func TestExecutorQueryExec(t *testing.T) {
	t.Parallel()

	exec := NewTestExecutor(t)
	ctx := context.Background()

	n, err := exec.Exec(ctx,
		"INSERT INTO tasks (id, title, normalized_title) VALUES (?, ?, ?)",
		[]any{"t1", "Title One", "title one"})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if n != 1 {
		t.Errorf("affected = %d, want 1", n)
	}

	rows, err := exec.Query(ctx, "SELECT id, title FROM tasks WHERE id = ?", []any{"t1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if got := rowString(rows[0], "title"); got != "Title One" {
		t.Errorf("title = %q, want %q", got, "Title One")
	}
}

func TestExecutorRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	exec := NewTestExecutor(t)

	var sleeps []time.Duration
	exec.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	exec.jitter = func() time.Duration { return 0 }
	exec.classify = func(error) driver.ErrorClass { return driver.ClassTransient }

	attempts := 0
	err := exec.withRetry(context.Background(), execOptions{}, func(ctx context.Context, sess driver.Session) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(sleeps))
	}
	if sleeps[1] <= sleeps[0] {
		t.Errorf("backoff not strictly increasing: %v then %v", sleeps[0], sleeps[1])
	}
	if sleeps[0] != 200*time.Millisecond || sleeps[1] != 400*time.Millisecond {
		t.Errorf("backoffs = %v, want [200ms 400ms]", sleeps)
	}
}

func TestExecutorNeverRetriesIntegrity(t *testing.T) {
	t.Parallel()

	exec := NewTestExecutor(t)
	exec.classify = func(error) driver.ErrorClass { return driver.ClassIntegrity }

	sentinel := errors.New("UNIQUE constraint failed")
	attempts := 0
	err := exec.withRetry(context.Background(), execOptions{}, func(ctx context.Context, sess driver.Session) error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel unchanged", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestExecutorCapacityExhaustedTyped(t *testing.T) {
	t.Parallel()

	exec := NewTestExecutor(t)
	exec.jitter = func() time.Duration { return 0 }
	exec.classify = func(error) driver.ErrorClass { return driver.ClassCapacity }

	attempts := 0
	err := exec.withRetry(context.Background(), execOptions{}, func(ctx context.Context, sess driver.Session) error {
		attempts++
		return errors.New("too many connections")
	})
	if attempts != maxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxAttempts)
	}
	be := apperrors.AsBatchError(err)
	if be == nil || be.Code != apperrors.CodeCapacityExhausted {
		t.Errorf("err = %v, want capacity-exhausted", err)
	}
}

func TestExecutorSafeVariants(t *testing.T) {
	t.Parallel()

	exec := NewTestExecutor(t)
	ctx := context.Background()

	if rows := exec.QuerySafe(ctx, "SELECT * FROM no_such_table", nil); rows != nil {
		t.Errorf("QuerySafe = %v, want nil", rows)
	}
	if n := exec.ExecSafe(ctx, "UPDATE no_such_table SET x = 1", nil); n != 0 {
		t.Errorf("ExecSafe = %d, want 0", n)
	}

	// Healthy statements pass through.
	if n := exec.ExecSafe(ctx,
		"INSERT INTO tasks (id, title, normalized_title) VALUES (?, ?, ?)",
		[]any{"t1", "T", "t"}); n != 1 {
		t.Errorf("ExecSafe healthy = %d, want 1", n)
	}
}

func TestExecManyChunkedMatchesUnchunked(t *testing.T) {
	t.Parallel()

	exec := NewTestExecutor(t)
	ctx := context.Background()

	const total = 25
	var params [][]any
	for i := 0; i < total; i++ {
		params = append(params, []any{taskID(i), "Title", "title", "Pending"})
	}

	query := "INSERT INTO tasks (id, title, normalized_title, status) VALUES (?, ?, ?, ?)"
	n, err := exec.ExecMany(ctx, query, params, 10)
	if err != nil {
		t.Fatalf("ExecMany: %v", err)
	}
	if n != total {
		t.Errorf("affected = %d, want %d", n, total)
	}

	rows, err := exec.Query(ctx, "SELECT COUNT(*) AS c FROM tasks", nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if got := rowInt64(rows[0], "c"); got != total {
		t.Errorf("stored rows = %d, want %d", got, total)
	}
}

func TestExecManyBisectsFailingChunk(t *testing.T) {
	t.Parallel()

	exec := NewTestExecutor(t)
	ctx := context.Background()

	// Treat every failure as transient so the bad row is isolated by
	// bisection instead of failing the whole chunk outright.
	exec.classify = func(error) driver.ErrorClass { return driver.ClassTransient }

	var params [][]any
	for i := 0; i < 8; i++ {
		id := any(taskID(i))
		if i == 5 {
			id = nil // violates NOT NULL
		}
		params = append(params, []any{id, "Title", "title"})
	}

	query := "INSERT INTO tasks (id, title, normalized_title) VALUES (?, ?, ?)"
	n, err := exec.ExecMany(ctx, query, params, 8)
	if err == nil {
		t.Fatal("expected error for poisoned row")
	}
	if n != 5 {
		t.Errorf("affected = %d, want 5 rows before the poisoned one", n)
	}

	rows, qerr := exec.Query(ctx, "SELECT COUNT(*) AS c FROM tasks", nil)
	if qerr != nil {
		t.Fatalf("count: %v", qerr)
	}
	if got := rowInt64(rows[0], "c"); got != 5 {
		t.Errorf("stored rows = %d, want 5", got)
	}
}

func taskID(i int) string {
	return string(rune('a'+i%26)) + "-task"
}
