// Package config provides configuration for the event buffer and its tools.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "SA_"

// Config holds the configuration of the event buffer.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Queue configuration
	Queue QueueConfig `json:"queue" yaml:"queue"`

	// Session state configuration
	Session SessionConfig `json:"session" yaml:"session"`

	// Flush loop configuration
	Flush FlushConfig `json:"flush" yaml:"flush"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	// Path is the database file (default <data_dir>/events.db)
	Path string `json:"path" yaml:"path"`

	// BusyTimeout is how long a locked database is retried
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`
}

// QueueConfig holds event queue settings.
type QueueConfig struct {
	// MaxCacheSize is the queue budget in bytes (default 32 MiB)
	MaxCacheSize int64 `json:"max_cache_size" yaml:"max_cache_size"`

	// ReclaimBatchSize is the number of oldest rows dropped per reclamation pass
	ReclaimBatchSize int `json:"reclaim_batch_size" yaml:"reclaim_batch_size"`

	// FlushBatchSize is the extraction limit used by the flusher
	FlushBatchSize int `json:"flush_batch_size" yaml:"flush_batch_size"`

	// FailureWindow is how long a failure code stays in the stats
	FailureWindow time.Duration `json:"failure_window" yaml:"failure_window"`
}

// SessionConfig holds session state settings.
type SessionConfig struct {
	// DefaultInterval is the session timeout until one is stored
	DefaultInterval time.Duration `json:"default_interval" yaml:"default_interval"`
}

// FlushConfig holds settings for the archive flush loop.
type FlushConfig struct {
	// Enabled controls whether Run starts the flush loop
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is the time between flushes
	Interval time.Duration `json:"interval" yaml:"interval"`

	// ArchiveDir is where flushed batches are written (default <data_dir>/archive)
	ArchiveDir string `json:"archive_dir" yaml:"archive_dir"`

	// Compress enables snappy compression of archived batches
	Compress bool `json:"compress" yaml:"compress"`

	// Eager flushes as soon as a full window is queued
	Eager bool `json:"eager" yaml:"eager"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is one of console, text, json
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/saqueue",
		Database: DatabaseConfig{
			Path:        "",
			BusyTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			MaxCacheSize:     32 * 1024 * 1024,
			ReclaimBatchSize: 100,
			FlushBatchSize:   50,
			FailureWindow:    time.Hour,
		},
		Session: SessionConfig{
			DefaultInterval: 30 * time.Second,
		},
		Flush: FlushConfig{
			Enabled:    true,
			Interval:   15 * time.Second,
			ArchiveDir: "",
			Compress:   true,
			Eager:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/saqueue"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "events.db")
	}
	if c.Flush.ArchiveDir == "" {
		c.Flush.ArchiveDir = filepath.Join(c.DataDir, "archive")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative, got %s", c.Database.BusyTimeout)
	}
	if c.Queue.MaxCacheSize <= 0 {
		return fmt.Errorf("queue.max_cache_size must be positive, got %d", c.Queue.MaxCacheSize)
	}
	if c.Queue.ReclaimBatchSize <= 0 {
		return fmt.Errorf("queue.reclaim_batch_size must be positive, got %d", c.Queue.ReclaimBatchSize)
	}
	if c.Queue.FlushBatchSize <= 0 {
		return fmt.Errorf("queue.flush_batch_size must be positive, got %d", c.Queue.FlushBatchSize)
	}
	if c.Queue.FailureWindow <= 0 {
		return fmt.Errorf("queue.failure_window must be positive, got %s", c.Queue.FailureWindow)
	}
	if c.Session.DefaultInterval <= 0 {
		return fmt.Errorf("session.default_interval must be positive, got %s", c.Session.DefaultInterval)
	}
	if c.Flush.Enabled && c.Flush.Interval <= 0 {
		return fmt.Errorf("flush.interval must be positive when flush is enabled, got %s", c.Flush.Interval)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be console, text, or json)", c.Logging.Format)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already set take precedence. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Database configuration
	if v := getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := getenv("DATABASE_BUSY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Database.BusyTimeout = d
		}
	}

	// Queue configuration
	if v := getenv("QUEUE_MAX_CACHE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Queue.MaxCacheSize)
	}
	if v := getenv("QUEUE_RECLAIM_BATCH_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Queue.ReclaimBatchSize)
	}
	if v := getenv("QUEUE_FLUSH_BATCH_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Queue.FlushBatchSize)
	}
	if v := getenv("QUEUE_FAILURE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.FailureWindow = d
		}
	}

	// Session configuration
	if v := getenv("SESSION_DEFAULT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.DefaultInterval = d
		}
	}

	// Flush configuration
	if v := getenv("FLUSH_ENABLED"); v != "" {
		cfg.Flush.Enabled = v == "true" || v == "1"
	}
	if v := getenv("FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Flush.Interval = d
		}
	}
	if v := getenv("FLUSH_ARCHIVE_DIR"); v != "" {
		cfg.Flush.ArchiveDir = v
	}
	if v := getenv("FLUSH_COMPRESS"); v != "" {
		cfg.Flush.Compress = v == "true" || v == "1"
	}
	if v := getenv("FLUSH_EAGER"); v != "" {
		cfg.Flush.Eager = v == "true" || v == "1"
	}

	// Logging configuration
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Database.Path),
		c.Flush.ArchiveDir,
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
