package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/svgtranslate/svgbatch/internal/db/driver"
)

func TestPoolsLazySingleConstruction(t *testing.T) {
	t.Parallel()

	pools := NewTestPools(t)

	const callers = 8
	got := make([]*Pool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := pools.Background()
			if err != nil {
				t.Errorf("background pool: %v", err)
				return
			}
			got[i] = p
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if got[i] != got[0] {
			t.Fatalf("caller %d got a different pool instance", i)
		}
	}
}

func TestPoolIsolation(t *testing.T) {
	t.Parallel()

	pools := NewTestPools(t)

	bg, err := pools.Background()
	if err != nil {
		t.Fatalf("background pool: %v", err)
	}
	ia, err := pools.Interactive()
	if err != nil {
		t.Fatalf("interactive pool: %v", err)
	}

	// Hold every background connection.
	ctx := context.Background()
	size := bg.Config().Size + bg.Config().Overflow
	conns := make([]*sql.Conn, 0, size)
	for i := 0; i < size; i++ {
		conn, err := bg.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire background conn %d: %v", i, err)
		}
		conns = append(conns, conn)
	}
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	// An interactive query must still complete promptly.
	exec := NewExecutor(ia, slog.Default())
	done := make(chan error, 1)
	go func() {
		_, err := exec.Query(ctx, "SELECT 1 AS one", nil)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("interactive query: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interactive query blocked behind exhausted background pool")
	}
}

func TestPoolWithTxCommitAndRollback(t *testing.T) {
	t.Parallel()

	pools := NewTestPools(t)
	pool, err := pools.Background()
	if err != nil {
		t.Fatalf("background pool: %v", err)
	}
	ctx := context.Background()

	err = pool.WithTx(ctx, false, func(tx driver.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO tasks (id, title, normalized_title) VALUES (?, ?, ?)",
			"committed", "T", "t")
		return err
	})
	if err != nil {
		t.Fatalf("commit tx: %v", err)
	}

	boom := errors.New("boom")
	err = pool.WithTx(ctx, false, func(tx driver.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO tasks (id, title, normalized_title) VALUES (?, ?, ?)",
			"rolled-back", "T", "t"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("rollback tx err = %v, want boom", err)
	}

	exec := NewExecutor(pool, slog.Default())
	rows, err := exec.Query(ctx, "SELECT id FROM tasks ORDER BY id", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rowString(rows[0], "id") != "committed" {
		t.Errorf("unexpected rows after rollback: %v", rows)
	}
}

func TestPoolsStatsAndDispose(t *testing.T) {
	t.Parallel()

	pools := NewTestPools(t)
	if stats := pools.Stats(); len(stats) != 0 {
		t.Errorf("stats before first use = %v, want empty", stats)
	}

	if _, err := pools.Interactive(); err != nil {
		t.Fatalf("interactive pool: %v", err)
	}
	stats := pools.Stats()
	if len(stats) != 1 || stats[0].Name != "interactive" {
		t.Fatalf("stats = %+v, want one interactive entry", stats)
	}
	if stats[0].Size != DefaultInteractiveSize {
		t.Errorf("size = %d, want %d", stats[0].Size, DefaultInteractiveSize)
	}

	if err := pools.DisposeAll(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if stats := pools.Stats(); len(stats) != 0 {
		t.Errorf("stats after dispose = %v, want empty", stats)
	}
}
