package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/svgtranslate/svgbatch/internal/db/driver"
)

// Pool defaults. Interactive serves request-path queries and stays small;
// background is sized for batch jobs and isolated so slow jobs cannot
// starve interactive capacity.
const (
	DefaultInteractiveSize     = 3
	DefaultInteractiveOverflow = 1
	DefaultBackgroundSize      = 4
	DefaultBackgroundOverflow  = 0
	DefaultConnMaxAge          = time.Hour
	DefaultInteractiveAcquire  = 30 * time.Second
	DefaultBackgroundAcquire   = 60 * time.Second

	// Borrows slower than this are logged as a capacity warning.
	slowAcquireThreshold = time.Second
)

// PoolConfig describes one connection pool.
type PoolConfig struct {
	Size           int
	Overflow       int
	MaxAge         time.Duration
	AcquireTimeout time.Duration
}

// InteractivePoolConfig returns the default interactive pool configuration.
func InteractivePoolConfig() PoolConfig {
	return PoolConfig{
		Size:           DefaultInteractiveSize,
		Overflow:       DefaultInteractiveOverflow,
		MaxAge:         DefaultConnMaxAge,
		AcquireTimeout: DefaultInteractiveAcquire,
	}
}

// BackgroundPoolConfig returns the default background pool configuration.
func BackgroundPoolConfig() PoolConfig {
	return PoolConfig{
		Size:           DefaultBackgroundSize,
		Overflow:       DefaultBackgroundOverflow,
		MaxAge:         DefaultConnMaxAge,
		AcquireTimeout: DefaultBackgroundAcquire,
	}
}

// Pool wraps one bounded connection pool.
type Pool struct {
	name   string
	db     *DB
	cfg    PoolConfig
	logger *slog.Logger
}

// DB returns the wrapped database handle.
func (p *Pool) DB() *DB {
	return p.db
}

// Name returns the pool name ("interactive" or "background").
func (p *Pool) Name() string {
	return p.name
}

// Config returns the pool configuration.
func (p *Pool) Config() PoolConfig {
	return p.cfg
}

// Acquire borrows a connection, bounded by the pool's acquire timeout,
// and verifies liveness before handing it out. database/sql already
// recycles connections past MaxAge; the ping catches ones the server
// dropped in between. The caller must Close the connection to return it
// to the pool.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	start := time.Now()
	conn, err := p.db.DB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire %s connection: %w", p.name, err)
	}
	if elapsed := time.Since(start); elapsed > slowAcquireThreshold {
		p.logger.Warn("slow connection acquire",
			"pool", p.name,
			"elapsed", elapsed.String())
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s connection: %w", p.name, err)
	}
	return conn, nil
}

// WithTx borrows a connection, runs fn inside a transaction, commits
// unless read-only, rolls back on error, and always returns the
// connection to the pool.
func (p *Pool) WithTx(ctx context.Context, readOnly bool, fn func(tx driver.Tx) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	sqlTx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", p.name, err)
	}
	tx := driver.WrapTx(sqlTx)

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if readOnly {
		_ = tx.Rollback()
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s transaction: %w", p.name, err)
	}
	return nil
}

// Stats returns a point-in-time snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	s := p.db.DB().Stats()
	return PoolStats{
		Name:       p.name,
		Size:       p.cfg.Size,
		Overflow:   p.cfg.Overflow,
		Open:       s.OpenConnections,
		InUse:      s.InUse,
		Idle:       s.Idle,
		WaitCount:  s.WaitCount,
		WaitTotal:  s.WaitDuration,
		MaxClosed:  s.MaxLifetimeClosed,
		IdleClosed: s.MaxIdleClosed,
	}
}

// PoolStats is a point-in-time pool snapshot for health reporting.
type PoolStats struct {
	Name       string        `json:"name"`
	Size       int           `json:"size"`
	Overflow   int           `json:"overflow"`
	Open       int           `json:"open"`
	InUse      int           `json:"in_use"`
	Idle       int           `json:"idle"`
	WaitCount  int64         `json:"wait_count"`
	WaitTotal  time.Duration `json:"wait_total"`
	MaxClosed  int64         `json:"max_lifetime_closed"`
	IdleClosed int64         `json:"max_idle_closed"`
}

// PoolsConfig configures the pool manager.
type PoolsConfig struct {
	Dialect     driver.Dialect
	DSN         string
	Interactive PoolConfig
	Background  PoolConfig
}

// Pools owns the interactive and background pools. Both are built lazily
// on first use; construction is mutex-guarded so concurrent first callers
// cannot build a pool twice.
type Pools struct {
	cfg    PoolsConfig
	logger *slog.Logger

	mu          sync.Mutex
	interactive *Pool
	background  *Pool
}

// NewPools creates a pool manager. No connections are opened until a
// pool is first requested.
func NewPools(cfg PoolsConfig, logger *slog.Logger) *Pools {
	if cfg.Interactive == (PoolConfig{}) {
		cfg.Interactive = InteractivePoolConfig()
	}
	if cfg.Background == (PoolConfig{}) {
		cfg.Background = BackgroundPoolConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pools{cfg: cfg, logger: logger}
}

// Interactive returns the interactive pool, building it on first use.
func (p *Pools) Interactive() (*Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interactive != nil {
		return p.interactive, nil
	}
	pool, err := p.build("interactive", p.cfg.Interactive)
	if err != nil {
		return nil, err
	}
	p.interactive = pool
	return pool, nil
}

// Background returns the background pool, building it on first use.
func (p *Pools) Background() (*Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.background != nil {
		return p.background, nil
	}
	pool, err := p.build("background", p.cfg.Background)
	if err != nil {
		return nil, err
	}
	p.background = pool
	return pool, nil
}

func (p *Pools) build(name string, cfg PoolConfig) (*Pool, error) {
	database, err := OpenWithDialect(p.cfg.DSN, p.cfg.Dialect)
	if err != nil {
		return nil, fmt.Errorf("open %s pool: %w", name, err)
	}

	sqlDB := database.DB()
	sqlDB.SetMaxOpenConns(cfg.Size + cfg.Overflow)
	sqlDB.SetMaxIdleConns(cfg.Size)
	sqlDB.SetConnMaxLifetime(cfg.MaxAge)

	p.logger.Info("pool initialized",
		"pool", name,
		"size", cfg.Size,
		"overflow", cfg.Overflow,
		"max_age", cfg.MaxAge.String())

	return &Pool{name: name, db: database, cfg: cfg, logger: p.logger}, nil
}

// Stats returns snapshots for every pool built so far.
func (p *Pools) Stats() []PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PoolStats
	if p.interactive != nil {
		out = append(out, p.interactive.Stats())
	}
	if p.background != nil {
		out = append(out, p.background.Stats())
	}
	return out
}

// DisposeAll closes both pools. Safe to call when pools were never built.
func (p *Pools) DisposeAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.interactive != nil {
		if err := p.interactive.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.interactive = nil
	}
	if p.background != nil {
		if err := p.background.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.background = nil
	}
	return firstErr
}
