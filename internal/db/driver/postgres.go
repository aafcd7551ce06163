package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

// PostgreSQL SQLSTATE codes relevant to retry classification.
const (
	pgUniqueViolation    = "23505"
	pgTooManyConnections = "53300"
)

// PostgresDriver implements the Driver interface for PostgreSQL.
type PostgresDriver struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL driver.
func NewPostgres() *PostgresDriver {
	return &PostgresDriver{}
}

// Open opens a PostgreSQL connection with the given DSN.
func (d *PostgresDriver) Open(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	d.db = db
	return nil
}

// Close closes the database connection.
func (d *PostgresDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Exec executes a query without returning rows.
func (d *PostgresDriver) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.Rebind(query), args...)
}

// Query executes a query that returns rows.
func (d *PostgresDriver) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.Rebind(query), args...)
}

// QueryRow executes a query that returns at most one row.
func (d *PostgresDriver) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.Rebind(query), args...)
}

// BeginTx starts a transaction.
func (d *PostgresDriver) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

// Migrate runs all migrations for the given schema type.
func (d *PostgresDriver) Migrate(ctx context.Context, schemaFS SchemaFS, schemaType string) error {
	if _, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := d.db.QueryContext(ctx, "SELECT version FROM _migrations")
	if err != nil {
		return fmt.Errorf("query migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate migrations: %w", err)
	}

	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}

	var migrations []string
	prefix := schemaType + "_"
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".sql") {
			migrations = append(migrations, e.Name())
		}
	}
	sort.Strings(migrations)

	for _, name := range migrations {
		version := extractVersion(name, prefix)
		if applied[version] {
			continue
		}

		content, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, translateSchema(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (version) VALUES ($1)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}

	return nil
}

// Dialect returns the PostgreSQL dialect identifier.
func (d *PostgresDriver) Dialect() Dialect {
	return DialectPostgres
}

// Rebind translates ? placeholders to $1..$N.
func (d *PostgresDriver) Rebind(query string) string {
	return rebindPositional(query)
}

// Now returns the PostgreSQL NOW() expression.
func (d *PostgresDriver) Now() string {
	return "NOW()"
}

// Classify maps SQLSTATE codes onto the retry taxonomy. Connection
// failures (class 08) and admin shutdowns (57P0x) are retryable; unique
// violations are integrity errors; 53300 means the server is out of
// connection slots.
func (d *PostgresDriver) Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	var pge *pgconn.PgError
	if !errors.As(err, &pge) {
		return ClassOther
	}
	code := pge.SQLState()
	switch code {
	case pgUniqueViolation:
		return ClassIntegrity
	case pgTooManyConnections:
		return ClassCapacity
	case "57P01", "57P02", "57P03":
		return ClassTransient
	}
	if strings.HasPrefix(code, "08") {
		return ClassTransient
	}
	return ClassOther
}

// SetStatementTimeout applies a session-local statement_timeout.
func (d *PostgresDriver) SetStatementTimeout(ctx context.Context, sess Session, ms int64) error {
	_, err := sess.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", ms))
	if err != nil {
		return fmt.Errorf("set statement_timeout: %w", err)
	}
	return nil
}

// ResetStatementTimeout restores the session default.
func (d *PostgresDriver) ResetStatementTimeout(ctx context.Context, sess Session) error {
	_, err := sess.Exec(ctx, "RESET statement_timeout")
	if err != nil {
		return fmt.Errorf("reset statement_timeout: %w", err)
	}
	return nil
}

// DB returns the underlying sql.DB for advanced operations.
func (d *PostgresDriver) DB() *sql.DB {
	return d.db
}

// translateSchema rewrites SQLite-flavored DDL for PostgreSQL. Schema
// files are written once in SQLite syntax; the differences the app
// schema relies on are mechanical.
func translateSchema(ddl string) string {
	r := strings.NewReplacer(
		"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY",
		"TEXT DEFAULT (datetime('now'))", "TIMESTAMPTZ DEFAULT NOW()",
		"datetime('now')", "NOW()",
	)
	return r.Replace(ddl)
}
