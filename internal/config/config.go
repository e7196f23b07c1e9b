// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrDatabaseURLRequired is returned when DATABASE_URL is not set.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required")
	// ErrBrokerURLRequired is returned when BROKER_URL is not set.
	ErrBrokerURLRequired = errors.New("config: BROKER_URL is required")
	// ErrObjectStoreURLRequired is returned when OBJECT_STORE_URL is not set.
	ErrObjectStoreURLRequired = errors.New("config: OBJECT_STORE_URL is required")
	// ErrUnknownTTSEngine is returned when TTS_ENGINE is not a known engine name.
	ErrUnknownTTSEngine = errors.New("config: unknown TTS_ENGINE")
)

// knownEngines are the synthesizer implementations selectable via TTS_ENGINE.
var knownEngines = map[string]bool{
	"melotts":    true,
	"neuphonic":  true,
	"fishspeech": true,
	"chatterbox": true,
}

// Config holds all configuration for the API server and the workers.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Relational store
	DatabaseURL string `env:"DATABASE_URL, required" json:"-"` // Masked in JSON

	// Broker settings
	BrokerURL        string `env:"BROKER_URL, required" json:"-"`
	ResultBackendURL string `env:"RESULT_BACKEND_URL" json:"-"` // Defaults to BrokerURL

	// Object store settings (S3-compatible)
	ObjectStoreURL       string `env:"OBJECT_STORE_URL, required" json:"object_store_url"`
	ObjectStoreAccessKey string `env:"OBJECT_STORE_ACCESS_KEY" json:"-"`
	ObjectStoreSecretKey string `env:"OBJECT_STORE_SECRET_KEY" json:"-"`
	ObjectStoreRegion    string `env:"OBJECT_STORE_REGION, default=us-east-1" json:"object_store_region"`

	// External slide renderer
	RendererURL string `env:"RENDERER_URL, default=http://libreoffice:8100" json:"renderer_url"`

	// Speech synthesis settings
	TTSEngine        string `env:"TTS_ENGINE, default=melotts" json:"tts_engine"`
	TTSEngineURL     string `env:"TTS_ENGINE_URL, default=http://tts:9000" json:"tts_engine_url"`
	TTSSoftTimeLimit int    `env:"TTS_SOFT_TIME_LIMIT, default=300" json:"tts_soft_time_limit"`
	TTSHardTimeLimit int    `env:"TTS_HARD_TIME_LIMIT, default=360" json:"tts_hard_time_limit"`

	// Barrier settings
	AssemblyBarrierDeadline int `env:"ASSEMBLY_BARRIER_DEADLINE, default=600" json:"assembly_barrier_deadline"`

	// Worker settings
	WorkerQueue string `env:"WORKER_QUEUE, default=cpu" json:"worker_queue"`
	TempDir     string `env:"TEMP_DIR, default=/tmp/slidecast" json:"temp_dir"`

	// Retention settings
	CleanupSchedule string `env:"CLEANUP_SCHEDULE" json:"cleanup_schedule,omitempty"` // Cron expression; empty disables
	CleanupAgeDays  int    `env:"CLEANUP_AGE_DAYS, default=7" json:"cleanup_age_days"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		switch {
		case strings.Contains(err.Error(), "DATABASE_URL"):
			return nil, ErrDatabaseURLRequired
		case strings.Contains(err.Error(), "BROKER_URL"):
			return nil, ErrBrokerURLRequired
		case strings.Contains(err.Error(), "OBJECT_STORE_URL"):
			return nil, ErrObjectStoreURLRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.ResultBackendURL == "" {
		cfg.ResultBackendURL = cfg.BrokerURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	if c.BrokerURL == "" {
		return ErrBrokerURLRequired
	}
	if c.ObjectStoreURL == "" {
		return ErrObjectStoreURLRequired
	}
	if !knownEngines[strings.ToLower(c.TTSEngine)] {
		return fmt.Errorf("%w: %q", ErrUnknownTTSEngine, c.TTSEngine)
	}
	return nil
}

// SoftTimeLimit returns the synthesis soft time limit as a duration.
func (c *Config) SoftTimeLimit() time.Duration {
	return time.Duration(c.TTSSoftTimeLimit) * time.Second
}

// HardTimeLimit returns the synthesis hard time limit as a duration.
func (c *Config) HardTimeLimit() time.Duration {
	return time.Duration(c.TTSHardTimeLimit) * time.Second
}

// BarrierDeadline returns the global synthesis barrier deadline as a duration.
func (c *Config) BarrierDeadline() time.Duration {
	return time.Duration(c.AssemblyBarrierDeadline) * time.Second
}

// CleanupAge returns the scheduled sweep age threshold as a duration.
func (c *Config) CleanupAge() time.Duration {
	return time.Duration(c.CleanupAgeDays) * 24 * time.Hour
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, ObjectStoreURL: %s, RendererURL: %s, TTSEngine: %s, TTSSoftTimeLimit: %d, TTSHardTimeLimit: %d, AssemblyBarrierDeadline: %d, WorkerQueue: %s, TempDir: %s, CleanupSchedule: %s, CleanupAgeDays: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.ObjectStoreURL,
		c.RendererURL,
		c.TTSEngine,
		c.TTSSoftTimeLimit,
		c.TTSHardTimeLimit,
		c.AssemblyBarrierDeadline,
		c.WorkerQueue,
		c.TempDir,
		c.CleanupSchedule,
		c.CleanupAgeDays,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
