// Package config loads sleuth configuration from defaults, an optional YAML
// file, an optional .env file and SLEUTH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/sleuth/internal/ai"
	"github.com/steveyegge/sleuth/internal/cost"
	"github.com/steveyegge/sleuth/internal/dialog"
	"github.com/steveyegge/sleuth/internal/logging"
	"github.com/steveyegge/sleuth/internal/safety"
)

// Config is the complete application configuration.
type Config struct {
	Dialog   dialog.Config  `yaml:"dialog"`
	Safety   SafetyConfig   `yaml:"safety"`
	AI       AIConfig       `yaml:"ai"`
	Cost     cost.Config    `yaml:"cost"`
	Storage  StorageConfig  `yaml:"storage"`
	Postgres PostgresConfig `yaml:"postgres"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SafetyConfig holds the monitor thresholds in operator-facing units.
type SafetyConfig struct {
	MaxCPUPercent         float64       `yaml:"max_cpu_percent"`
	MaxWaitMs             float64       `yaml:"max_wait_ms"`
	MaxBlockingCount      int           `yaml:"max_blocking_count"`
	MaxDurationMinutes    int           `yaml:"max_duration_minutes"`
	SampleIntervalSeconds int           `yaml:"sample_interval_seconds"`
	ViolationTripCount    int           `yaml:"violation_trip_count"`
	HistoryWindow         time.Duration `yaml:"history_window"`
	StopTimeout           time.Duration `yaml:"stop_timeout"`
}

// Thresholds converts the configuration into monitor thresholds.
func (s SafetyConfig) Thresholds() safety.Thresholds {
	return safety.Thresholds{
		MaxCPUPercent:    s.MaxCPUPercent,
		MaxWaitMs:        s.MaxWaitMs,
		MaxBlockingCount: s.MaxBlockingCount,
		MaxDuration:      time.Duration(s.MaxDurationMinutes) * time.Minute,
		SampleInterval:   time.Duration(s.SampleIntervalSeconds) * time.Second,
		TripCount:        s.ViolationTripCount,
		HistoryWindow:    s.HistoryWindow,
		StopTimeout:      s.StopTimeout,
	}
}

// AIConfig configures the reasoning backend.
type AIConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Model           string `yaml:"model"`
	APIKey          string `yaml:"api_key"`
	MaxOutputTokens int64  `yaml:"max_output_tokens"`
	MaxRetries      int    `yaml:"max_retries"`
}

// StorageConfig locates the audit database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig points the engine metrics source at a database. Empty disables it.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the default configuration.
func Default() *Config {
	th := safety.DefaultThresholds()
	return &Config{
		Dialog: dialog.DefaultConfig(),
		Safety: SafetyConfig{
			MaxCPUPercent:         th.MaxCPUPercent,
			MaxWaitMs:             th.MaxWaitMs,
			MaxBlockingCount:      th.MaxBlockingCount,
			MaxDurationMinutes:    int(th.MaxDuration / time.Minute),
			SampleIntervalSeconds: int(th.SampleInterval / time.Second),
			ViolationTripCount:    th.TripCount,
			HistoryWindow:         th.HistoryWindow,
			StopTimeout:           th.StopTimeout,
		},
		AI: AIConfig{
			Enabled:         true,
			Model:           ai.DefaultModel,
			MaxOutputTokens: ai.DefaultMaxOutputTokens,
		},
		Cost:    *cost.DefaultConfig(),
		Storage: StorageConfig{Path: DefaultStoragePath()},
		Log:     LogConfig{Level: "info", Format: "auto"},
	}
}

// DefaultStoragePath returns ~/.sleuth/sleuth.db, or a relative path when
// the home directory is unknown.
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".sleuth", "sleuth.db")
	}
	return filepath.Join(home, ".sleuth", "sleuth.db")
}

// Load builds the configuration. path is an optional YAML file. envFile is an
// optional .env file; when empty, a .env in the working directory is used if present.
// Variables already set in the environment take precedence over .env entries.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.Dialog.Validate(); err != nil {
		return fmt.Errorf("dialog: %w", err)
	}
	if err := c.Safety.Thresholds().Validate(); err != nil {
		return fmt.Errorf("safety: %w", err)
	}
	if err := c.Cost.Validate(); err != nil {
		return fmt.Errorf("cost: %w", err)
	}
	if c.AI.Enabled {
		if strings.TrimSpace(c.AI.Model) == "" {
			return fmt.Errorf("ai: model must not be empty")
		}
		if c.AI.MaxOutputTokens <= 0 {
			return fmt.Errorf("ai: max_output_tokens must be positive, got %d", c.AI.MaxOutputTokens)
		}
		if c.AI.MaxRetries < 0 {
			return fmt.Errorf("ai: max_retries must be non-negative, got %d", c.AI.MaxRetries)
		}
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage: path must not be empty")
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "json", "console":
	default:
		return fmt.Errorf("log: format must be auto, json or console, got %q", c.Log.Format)
	}
	return nil
}

// String returns a one-line summary with secrets redacted.
func (c *Config) String() string {
	key := "unset"
	if c.AI.APIKey != "" {
		key = "set"
	}
	return fmt.Sprintf(
		"Config{threshold: %.2f, cost_budget: %d, turn_budget: %d, questions: %d, "+
			"max_cpu: %.0f%%, max_wait: %.0fms, max_blocking: %d, trip: %d, "+
			"ai: %t (%s, key %s), db: %s, postgres: %t}",
		c.Dialog.ConfidenceThreshold, c.Dialog.CostBudget, c.Dialog.TurnBudget, c.Dialog.QuestionsPerTurn,
		c.Safety.MaxCPUPercent, c.Safety.MaxWaitMs, c.Safety.MaxBlockingCount, c.Safety.ViolationTripCount,
		c.AI.Enabled, c.AI.Model, key, c.Storage.Path, c.Postgres.DSN != "",
	)
}
