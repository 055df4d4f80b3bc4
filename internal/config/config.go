// Package config provides configuration management for the aggregator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bryan-buckman/ainews/internal/database"
	"github.com/bryan-buckman/ainews/internal/logger"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrMissingDataDir        = errors.New("data_dir is required")
	ErrInvalidConcurrency    = errors.New("fetch.max_concurrent and fetch.max_per_domain must be at least 1")
	ErrInvalidTimeout        = errors.New("fetch.timeout, run.timeout and run.lock_timeout must be positive")
	ErrInvalidBodyLimit      = errors.New("fetch.max_body_bytes must be positive")
	ErrInvalidThreshold      = errors.New("dedup.title_similarity must be in (0, 1]")
	ErrInvalidWindow         = errors.New("dedup.publish_window must be non-negative")
	ErrInvalidSchedule       = errors.New("run.schedule is not a valid cron expression")
	ErrInvalidDatabaseDriver = errors.New("database.driver must be one of: sqlite, postgres, none")
	ErrMissingDatabaseDSN    = errors.New("database.dsn is required for postgres")
	ErrInvalidLogLevel       = errors.New("logging.level must be one of: debug, info, warn, error")
)

// Config represents the complete aggregator configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Run      RunConfig      `yaml:"run"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Logging  logger.Config  `yaml:"logging"`
}

// FetchConfig controls network retrieval.
type FetchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	UserAgent     string        `yaml:"user_agent"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxPerDomain  int           `yaml:"max_per_domain"`
	DomainDelay   time.Duration `yaml:"domain_delay"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
}

// RunConfig controls whole-run limits and scheduling.
type RunConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	Schedule    string        `yaml:"schedule"`
}

// DedupConfig tunes cross-source duplicate detection.
type DedupConfig struct {
	TitleSimilarity float64       `yaml:"title_similarity"`
	PublishWindow   time.Duration `yaml:"publish_window"`
}

// DatabaseConfig selects the run-history backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataDir: "data",
		Fetch: FetchConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "AiNews/1.0 (+https://github.com/ainews)",
			MaxConcurrent: 10,
			MaxPerDomain:  2,
			DomainDelay:   500 * time.Millisecond,
			MaxBodyBytes:  10 << 20,
		},
		Run: RunConfig{
			Timeout:     10 * time.Minute,
			LockTimeout: 30 * time.Second,
			Schedule:    "0 */6 * * *",
		},
		Dedup: DedupConfig{
			TitleSimilarity: 0.8,
			PublishWindow:   24 * time.Hour,
		},
		Database: DatabaseConfig{Driver: database.DriverSQLite},
		Server:   ServerConfig{Addr: ":8080"},
		Logging:  logger.Config{Level: "info"},
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves configuration to a YAML file.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrMissingDataDir
	}

	if c.Fetch.MaxConcurrent < 1 || c.Fetch.MaxPerDomain < 1 {
		return ErrInvalidConcurrency
	}
	if c.Fetch.Timeout <= 0 || c.Run.Timeout <= 0 || c.Run.LockTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return ErrInvalidBodyLimit
	}

	if c.Dedup.TitleSimilarity <= 0 || c.Dedup.TitleSimilarity > 1 {
		return ErrInvalidThreshold
	}
	if c.Dedup.PublishWindow < 0 {
		return ErrInvalidWindow
	}

	if c.Run.Schedule != "" {
		if _, err := cron.ParseStandard(c.Run.Schedule); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}

	switch c.Database.Driver {
	case database.DriverSQLite, database.DriverNone:
	case database.DriverPostgres:
		if c.Database.DSN == "" {
			return ErrMissingDatabaseDSN
		}
	default:
		return ErrInvalidDatabaseDriver
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	return nil
}

// SourcesFile is the path of the source registry.
func (c *Config) SourcesFile() string {
	return filepath.Join(c.DataDir, "sources.json")
}

// ArticlesDir is the directory holding date partitions.
func (c *Config) ArticlesDir() string {
	return filepath.Join(c.DataDir, "articles")
}

// DatabaseDSN returns the run-log DSN, defaulting SQLite to a file in the data dir.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == database.DriverSQLite && c.Database.DSN == "" {
		return filepath.Join(c.DataDir, "runs.db")
	}
	return c.Database.DSN
}

// EnsureDirectories creates the data directories if they don't exist.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.ArticlesDir(), 0o755); err != nil {
		return fmt.Errorf("create data dirs: %w", err)
	}
	return nil
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, MaxConcurrent: %d, Timeout: %s, Database: %s}",
		c.DataDir,
		c.Fetch.MaxConcurrent,
		c.Fetch.Timeout,
		c.Database.Driver,
	)
}
