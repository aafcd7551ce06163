package db

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/svgtranslate/svgbatch/internal/db/driver"
	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
)

// Retry policy. Only errors the driver classifies as transient or
// capacity are retried; integrity violations and unknown errors
// propagate on the first attempt.
const (
	maxAttempts  = 3
	baseBackoff  = 200 * time.Millisecond
	maxJitter    = 100 * time.Millisecond
	DefaultChunk = 100
)

// Row is one result row keyed by column name.
type Row map[string]any

// Executor runs statements against one pool with retry, backoff, and
// error classification. Safe variants never return errors; they degrade
// to empty results and log instead, for best-effort status paths.
type Executor struct {
	pool   *Pool
	drv    driver.Driver
	logger *slog.Logger

	// Injectable for deterministic tests.
	sleep    func(time.Duration)
	jitter   func() time.Duration
	classify func(error) driver.ErrorClass
}

// NewExecutor creates an executor over the given pool.
func NewExecutor(pool *Pool, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		pool:   pool,
		drv:    pool.DB().Driver(),
		logger: logger,
		sleep:  time.Sleep,
		jitter: func() time.Duration {
			return time.Duration(rand.Int64N(int64(maxJitter)))
		},
		classify: pool.DB().Driver().Classify,
	}
}

type execOptions struct {
	timeout  time.Duration
	readOnly bool
}

// Option adjusts a single statement execution.
type Option func(*execOptions)

// WithStatementTimeout bounds the statement's execution time. The limit
// is set on the borrowed session before the statement and always cleared
// afterwards.
func WithStatementTimeout(d time.Duration) Option {
	return func(o *execOptions) { o.timeout = d }
}

// ReadOnly marks the statement as non-mutating.
func ReadOnly() Option {
	return func(o *execOptions) { o.readOnly = true }
}

// Query executes a read and returns all rows as column-keyed maps.
func (e *Executor) Query(ctx context.Context, query string, args []any, opts ...Option) ([]Row, error) {
	var rows []Row
	err := e.withRetry(ctx, applyOptions(opts), func(ctx context.Context, sess driver.Session) error {
		rs, err := sess.Query(ctx, e.drv.Rebind(query), args...)
		if err != nil {
			return err
		}
		defer func() { _ = rs.Close() }()
		rows, err = scanRows(rs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QuerySafe is Query that never fails: driver errors are logged and an
// empty result is returned.
func (e *Executor) QuerySafe(ctx context.Context, query string, args []any, opts ...Option) []Row {
	rows, err := e.Query(ctx, query, args, opts...)
	if err != nil {
		e.logger.Error("query failed, returning empty result",
			"pool", e.pool.Name(),
			"error", err)
		return nil
	}
	return rows
}

// Exec executes a write and returns the affected-row count.
func (e *Executor) Exec(ctx context.Context, query string, args []any, opts ...Option) (int64, error) {
	var affected int64
	err := e.withRetry(ctx, applyOptions(opts), func(ctx context.Context, sess driver.Session) error {
		res, err := sess.Exec(ctx, e.drv.Rebind(query), args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// ExecSafe is Exec that never fails: driver errors are logged and zero
// is returned.
func (e *Executor) ExecSafe(ctx context.Context, query string, args []any, opts ...Option) int64 {
	n, err := e.Exec(ctx, query, args, opts...)
	if err != nil {
		e.logger.Error("exec failed, returning zero",
			"pool", e.pool.Name(),
			"error", err)
		return 0
	}
	return n
}

// ExecMany executes the same statement once per parameter set, in chunks
// of chunkSize inside one transaction each. A transient failure inside a
// chunk bisects it and retries each half, isolating the faulting rows
// instead of failing the whole batch. Returns the total affected count.
func (e *Executor) ExecMany(ctx context.Context, query string, paramSets [][]any, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunk
	}
	var total int64
	for start := 0; start < len(paramSets); start += chunkSize {
		end := start + chunkSize
		if end > len(paramSets) {
			end = len(paramSets)
		}
		n, err := e.execChunk(ctx, query, paramSets[start:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (e *Executor) execChunk(ctx context.Context, query string, chunk [][]any) (int64, error) {
	n, err := e.execChunkOnce(ctx, query, chunk)
	if err == nil {
		return n, nil
	}
	class := e.classify(err)
	if (class != driver.ClassTransient && class != driver.ClassCapacity) || len(chunk) == 1 {
		return 0, err
	}

	// Binary-search fault isolation: split and retry each half.
	mid := len(chunk) / 2
	e.logger.Warn("bisecting failed chunk",
		"pool", e.pool.Name(),
		"size", len(chunk),
		"error", err)
	left, lerr := e.execChunk(ctx, query, chunk[:mid])
	if lerr != nil {
		return left, lerr
	}
	right, rerr := e.execChunk(ctx, query, chunk[mid:])
	return left + right, rerr
}

func (e *Executor) execChunkOnce(ctx context.Context, query string, chunk [][]any) (int64, error) {
	var affected int64
	rebound := e.drv.Rebind(query)
	err := e.pool.WithTx(ctx, false, func(tx driver.Tx) error {
		for _, args := range chunk {
			res, err := tx.Exec(ctx, rebound, args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func applyOptions(opts []Option) execOptions {
	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// withRetry borrows a connection and runs fn, retrying transient and
// capacity errors with exponential backoff plus jitter. Capacity errors
// that survive all attempts surface as a typed capacity-exhausted error.
func (e *Executor) withRetry(ctx context.Context, opts execOptions, fn func(context.Context, driver.Session) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := e.once(ctx, opts, fn)
		if err == nil {
			return nil
		}

		class := e.classify(err)
		if class != driver.ClassTransient && class != driver.ClassCapacity {
			// Integrity violations and unknown errors are never retried.
			return err
		}
		lastErr = err

		if attempt < maxAttempts {
			backoff := baseBackoff*(1<<(attempt-1)) + e.jitter()
			e.logger.Warn("retrying statement",
				"pool", e.pool.Name(),
				"attempt", attempt,
				"backoff", backoff.String(),
				"error", err)
			e.sleep(backoff)
		}
	}

	if e.classify(lastErr) == driver.ClassCapacity {
		return apperrors.ErrCapacityExhausted().WithCause(lastErr)
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", maxAttempts, lastErr)
}

// once runs fn on a freshly borrowed connection, applying and clearing
// the statement timeout around it.
func (e *Executor) once(ctx context.Context, opts execOptions, fn func(context.Context, driver.Session) error) error {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	sess := driver.WrapConn(conn)

	if opts.timeout > 0 {
		if err := e.drv.SetStatementTimeout(ctx, sess, opts.timeout.Milliseconds()); err != nil {
			return err
		}
		// Reset must run even when the statement fails or the caller's
		// context is already done, or the limit leaks with the pooled
		// connection.
		defer func() {
			resetCtx := context.WithoutCancel(ctx)
			if err := e.drv.ResetStatementTimeout(resetCtx, sess); err != nil {
				e.logger.Error("reset statement timeout", "error", err)
			}
		}()

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	return fn(ctx, sess)
}
