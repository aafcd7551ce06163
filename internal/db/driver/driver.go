// Package driver provides database driver abstraction for SQLite and PostgreSQL.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect represents the database dialect.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ErrorClass classifies driver errors for the retry layer.
type ErrorClass int

const (
	// ClassOther is any error with no special handling.
	ClassOther ErrorClass = iota
	// ClassTransient covers connection-loss and lock-contention errors
	// that are safe to retry.
	ClassTransient
	// ClassIntegrity covers constraint violations (duplicate key). Never
	// retried; callers map these to "already exists" semantics.
	ClassIntegrity
	// ClassCapacity means the server refused the connection outright
	// (too many connections).
	ClassCapacity
)

// Driver abstracts database operations for SQLite and PostgreSQL.
type Driver interface {
	// Connection
	Open(dsn string) error
	Close() error

	// Query execution
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row

	// Transactions
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)

	// Migrations
	Migrate(ctx context.Context, schemaFS SchemaFS, schemaType string) error

	// Dialect-specific
	Dialect() Dialect
	Rebind(query string) string // translate ? placeholders to $N for Postgres
	Now() string                // datetime('now') for SQLite, NOW() for Postgres

	// Classify maps a driver error onto the retry taxonomy.
	Classify(err error) ErrorClass

	// SetStatementTimeout applies a per-session execution-time limit on
	// the given session. ResetStatementTimeout must always be called
	// afterwards, including on failure. Drivers without session limits
	// implement both as no-ops; callers also bound the statement with a
	// context deadline.
	SetStatementTimeout(ctx context.Context, sess Session, ms int64) error
	ResetStatementTimeout(ctx context.Context, sess Session) error

	// Raw access
	DB() *sql.DB
}

// Session is anything a statement can run on: a borrowed connection or
// an open transaction.
type Session interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a Session with transaction control.
type Tx interface {
	Session
	Commit() error
	Rollback() error
}

// SchemaFS provides access to embedded schema files.
type SchemaFS interface {
	ReadDir(name string) ([]DirEntry, error)
	ReadFile(name string) ([]byte, error)
}

// DirEntry represents a directory entry.
type DirEntry interface {
	Name() string
	IsDir() bool
}

// New creates a driver based on dialect.
func New(dialect Dialect) (Driver, error) {
	switch dialect {
	case DialectSQLite:
		return NewSQLite(), nil
	case DialectPostgres:
		return NewPostgres(), nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

// ParseDialect parses a dialect string.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unknown dialect: %s", s)
	}
}

// rebindPositional converts ? placeholders to $1..$N, skipping quoted
// literals.
func rebindPositional(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// sqlTx wraps a sql.Tx to implement the Tx interface.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *sqlTx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

// WrapTx adapts a *sql.Tx into a Tx.
func WrapTx(tx *sql.Tx) Tx {
	return &sqlTx{tx: tx}
}

// sqlConn wraps a *sql.Conn to implement the Session interface.
type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *sqlConn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// WrapConn adapts a *sql.Conn into a Session.
func WrapConn(conn *sql.Conn) Session {
	return &sqlConn{conn: conn}
}
