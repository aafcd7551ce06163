// Package config provides configuration management for svgbatch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/svgtranslate/svgbatch/internal/db"
	"github.com/svgtranslate/svgbatch/internal/db/driver"
	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
	"github.com/svgtranslate/svgbatch/internal/pipeline"
	"github.com/svgtranslate/svgbatch/internal/remote"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// AppDir is the svgbatch configuration directory
	AppDir = ".svgbatch"
)

// DatabaseConfig selects the backing database.
type DatabaseConfig struct {
	// Dialect is "sqlite" or "postgres"
	Dialect string `yaml:"dialect"`
	// DSN is a file path for sqlite or a connection string for postgres
	DSN string `yaml:"dsn"`
}

// PoolConfig sizes one connection pool.
type PoolConfig struct {
	Size           int           `yaml:"size"`
	Overflow       int           `yaml:"overflow"`
	MaxAge         time.Duration `yaml:"max_age"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// PoolsConfig holds both pool profiles.
type PoolsConfig struct {
	Interactive PoolConfig `yaml:"interactive"`
	Background  PoolConfig `yaml:"background"`
}

// RemoteConfig configures the content-host client.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token,omitempty"`
	WorkDir string        `yaml:"work_dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig tunes per-item processing for all job types.
type PipelineConfig struct {
	CheckpointEvery  int `yaml:"checkpoint_every"`
	FailureThreshold int `yaml:"failure_threshold"`
	// DevLimit caps items during development; zero disables
	DevLimit int `yaml:"dev_limit,omitempty"`
	// Limit is the operator-requested item cap; zero disables
	Limit int `yaml:"limit,omitempty"`
}

// ScheduleConfig binds a cron expression to a job type.
type ScheduleConfig struct {
	Cron    string `yaml:"cron"`
	JobType string `yaml:"job_type"`
}

// Config represents the svgbatch configuration.
type Config struct {
	// Version is the config file version
	Version int `yaml:"version"`

	Database DatabaseConfig `yaml:"database"`
	Pools    PoolsConfig    `yaml:"pools"`
	Remote   RemoteConfig   `yaml:"remote"`
	Pipeline PipelineConfig `yaml:"pipeline"`

	// ResultsDir stores job result files
	ResultsDir string `yaml:"results_dir"`
	// DownloadDir receives files saved by download jobs
	DownloadDir string `yaml:"download_dir"`

	// Schedules run jobs on a cron cadence
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Dialect: "sqlite",
			DSN:     filepath.Join(AppDir, "svgbatch.db"),
		},
		Pools: PoolsConfig{
			Interactive: PoolConfig{
				Size:           db.DefaultInteractiveSize,
				Overflow:       db.DefaultInteractiveOverflow,
				MaxAge:         db.DefaultConnMaxAge,
				AcquireTimeout: db.DefaultInteractiveAcquire,
			},
			Background: PoolConfig{
				Size:           db.DefaultBackgroundSize,
				Overflow:       db.DefaultBackgroundOverflow,
				MaxAge:         db.DefaultConnMaxAge,
				AcquireTimeout: db.DefaultBackgroundAcquire,
			},
		},
		Remote: RemoteConfig{
			WorkDir: filepath.Join(AppDir, "work"),
			Timeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			CheckpointEvery:  pipeline.DefaultCheckpointEvery,
			FailureThreshold: pipeline.DefaultFailureThreshold,
		},
		ResultsDir:  filepath.Join(AppDir, "results"),
		DownloadDir: filepath.Join(AppDir, "downloads"),
		LogLevel:    "info",
	}
}

// Load loads the config from the default location.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(AppDir, ConfigFileName))
}

// LoadFrom loads the config from a specific path. A missing file yields
// the defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the config to a specific path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

var logLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for values that cannot work at
// runtime.
func (c *Config) Validate() error {
	if _, err := driver.ParseDialect(c.Database.Dialect); err != nil {
		return apperrors.ErrConfigInvalid("database.dialect", err.Error())
	}
	if c.Database.DSN == "" {
		return apperrors.ErrConfigInvalid("database.dsn", "must not be empty")
	}
	if err := c.Pools.Interactive.validate("pools.interactive"); err != nil {
		return err
	}
	if err := c.Pools.Background.validate("pools.background"); err != nil {
		return err
	}
	if c.Pipeline.CheckpointEvery < 0 {
		return apperrors.ErrConfigInvalid("pipeline.checkpoint_every", "must not be negative")
	}
	if c.Pipeline.FailureThreshold < 0 {
		return apperrors.ErrConfigInvalid("pipeline.failure_threshold", "must not be negative")
	}
	if c.Pipeline.DevLimit < 0 {
		return apperrors.ErrConfigInvalid("pipeline.dev_limit", "must not be negative")
	}
	if c.Pipeline.Limit < 0 {
		return apperrors.ErrConfigInvalid("pipeline.limit", "must not be negative")
	}
	for i, s := range c.Schedules {
		if s.Cron == "" {
			return apperrors.ErrConfigInvalid(fmt.Sprintf("schedules[%d].cron", i), "must not be empty")
		}
		if s.JobType == "" {
			return apperrors.ErrConfigInvalid(fmt.Sprintf("schedules[%d].job_type", i), "must not be empty")
		}
	}
	if !logLevels[c.LogLevel] {
		return apperrors.ErrConfigInvalid("log_level", fmt.Sprintf("unknown level %q", c.LogLevel))
	}
	return nil
}

func (p PoolConfig) validate(field string) error {
	if p.Size < 1 {
		return apperrors.ErrConfigInvalid(field+".size", "must be at least 1")
	}
	if p.Overflow < 0 {
		return apperrors.ErrConfigInvalid(field+".overflow", "must not be negative")
	}
	if p.AcquireTimeout <= 0 {
		return apperrors.ErrConfigInvalid(field+".acquire_timeout", "must be positive")
	}
	return nil
}

// DBPools converts to the pool layer's configuration. The dialect must
// already be validated.
func (c *Config) DBPools() db.PoolsConfig {
	dialect, _ := driver.ParseDialect(c.Database.Dialect)
	return db.PoolsConfig{
		Dialect:     dialect,
		DSN:         c.Database.DSN,
		Interactive: c.Pools.Interactive.toDB(),
		Background:  c.Pools.Background.toDB(),
	}
}

func (p PoolConfig) toDB() db.PoolConfig {
	return db.PoolConfig{
		Size:           p.Size,
		Overflow:       p.Overflow,
		MaxAge:         p.MaxAge,
		AcquireTimeout: p.AcquireTimeout,
	}
}

// RemoteClient converts to the content-host client configuration.
func (c *Config) RemoteClient() remote.ClientConfig {
	return remote.ClientConfig{
		BaseURL: c.Remote.BaseURL,
		Token:   c.Remote.Token,
		WorkDir: c.Remote.WorkDir,
		Timeout: c.Remote.Timeout,
	}
}

// PipelineSettings converts to the processing pipeline configuration.
func (c *Config) PipelineSettings() pipeline.Config {
	return pipeline.Config{
		CheckpointEvery:  c.Pipeline.CheckpointEvery,
		FailureThreshold: c.Pipeline.FailureThreshold,
		DevLimit:         c.Pipeline.DevLimit,
		Limit:            c.Pipeline.Limit,
	}
}
