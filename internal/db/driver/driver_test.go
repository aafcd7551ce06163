package driver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "modernc.org/sqlite/lib"
)

func TestParseDialect(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"sqlite3", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"postgresql", DialectPostgres, false},
		{"pg", DialectPostgres, false},
		{"mysql", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ParseDialect(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDialect(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDialect(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseDialect(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRebindPositional(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"SELECT * FROM tasks WHERE id = ?", "SELECT * FROM tasks WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT '?' AS lit, id FROM t WHERE id = ?", "SELECT '?' AS lit, id FROM t WHERE id = $1"},
		{"SELECT 1", "SELECT 1"},
	}
	for _, tc := range cases {
		if got := rebindPositional(tc.in); got != tc.want {
			t.Errorf("rebindPositional(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSQLiteOpenAndExec(t *testing.T) {
	t.Parallel()

	d := NewSQLite()
	if err := d.Open(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = d.Close() }()

	ctx := context.Background()
	if _, err := d.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := d.Exec(ctx, "INSERT INTO t (name) VALUES (?)", "alpha"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var name string
	if err := d.QueryRow(ctx, "SELECT name FROM t WHERE id = ?", 1).Scan(&name); err != nil {
		t.Fatalf("query: %v", err)
	}
	if name != "alpha" {
		t.Errorf("name = %q, want alpha", name)
	}
}

func TestSQLiteClassify(t *testing.T) {
	t.Parallel()

	d := NewSQLite()
	if err := d.Open(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = d.Close() }()

	ctx := context.Background()
	if _, err := d.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT UNIQUE)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := d.Exec(ctx, "INSERT INTO t (name) VALUES (?)", "dup"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := d.Exec(ctx, "INSERT INTO t (name) VALUES (?)", "dup")
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if got := d.Classify(err); got != ClassIntegrity {
		t.Errorf("Classify(unique violation) = %v, want ClassIntegrity", got)
	}

	if got := d.Classify(errors.New("plain")); got != ClassOther {
		t.Errorf("Classify(plain) = %v, want ClassOther", got)
	}
	if got := d.Classify(nil); got != ClassOther {
		t.Errorf("Classify(nil) = %v, want ClassOther", got)
	}
}

func TestSQLiteClassifyCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want ErrorClass
	}{
		{sqlite3.SQLITE_BUSY, ClassTransient},
		{sqlite3.SQLITE_LOCKED, ClassTransient},
		{sqlite3.SQLITE_IOERR, ClassTransient},
		{sqlite3.SQLITE_CONSTRAINT, ClassIntegrity},
		{sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, ClassIntegrity},
		{sqlite3.SQLITE_CONSTRAINT_UNIQUE, ClassIntegrity},
		{sqlite3.SQLITE_IOERR | (1 << 8), ClassTransient}, // extended I/O error
		{sqlite3.SQLITE_ERROR, ClassOther},
	}
	for _, tc := range cases {
		if got := classifySQLiteCode(tc.code); got != tc.want {
			t.Errorf("classifySQLiteCode(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestPostgresClassify(t *testing.T) {
	t.Parallel()

	d := NewPostgres()
	cases := []struct {
		code string
		want ErrorClass
	}{
		{"23505", ClassIntegrity},
		{"53300", ClassCapacity},
		{"57P01", ClassTransient},
		{"57P03", ClassTransient},
		{"08006", ClassTransient},
		{"08003", ClassTransient},
		{"42601", ClassOther},
	}
	for _, tc := range cases {
		err := &pgconn.PgError{Code: tc.code}
		if got := d.Classify(err); got != tc.want {
			t.Errorf("Classify(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}

	if got := d.Classify(errors.New("plain")); got != ClassOther {
		t.Errorf("Classify(plain) = %v, want ClassOther", got)
	}
}

func TestPostgresRebind(t *testing.T) {
	t.Parallel()

	d := NewPostgres()
	got := d.Rebind("UPDATE jobs SET status = ? WHERE id = ? AND job_type = ?")
	want := "UPDATE jobs SET status = $1 WHERE id = $2 AND job_type = $3"
	if got != want {
		t.Errorf("Rebind = %q, want %q", got, want)
	}
}
