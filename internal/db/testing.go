// Test helpers for database-backed tests. A temp-file SQLite database is
// used rather than :memory: because the pools open multiple connections,
// and each :memory: connection would see its own empty database.
package db

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/svgtranslate/svgbatch/internal/db/driver"
)

// NewTestPools creates a migrated SQLite database in a temp directory and
// returns a pool manager over it. Pools are disposed when the test
// completes.
func NewTestPools(t testing.TB) *Pools {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "svgbatch_test.db")

	database, err := Open(dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate("app"); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close migration handle: %v", err)
	}

	pools := NewPools(PoolsConfig{
		Dialect: driver.DialectSQLite,
		DSN:     dsn,
	}, slog.Default())

	t.Cleanup(func() {
		_ = pools.DisposeAll()
	})

	return pools
}

// NewTestExecutor returns an executor over a fresh test database's
// background pool, with sleeps disabled so retry paths don't slow tests.
func NewTestExecutor(t testing.TB) *Executor {
	t.Helper()

	pools := NewTestPools(t)
	pool, err := pools.Background()
	if err != nil {
		t.Fatalf("background pool: %v", err)
	}
	exec := NewExecutor(pool, slog.Default())
	exec.sleep = func(time.Duration) {}
	return exec
}
