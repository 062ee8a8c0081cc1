package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Fetcher     FetcherConfig   `toml:"fetcher"`
	Waveform    WaveformConfig  `toml:"waveform"`
	Import      ImportConfig    `toml:"import"`
	Schedules   SchedulesConfig `toml:"schedules"`
	Logging     LoggingConfig   `toml:"logging"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency" validate:"gte=1"`
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive" validate:"gte=1"`
	QueueName         string `toml:"queue_name"` // Queue name prefix in Badger
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type FilesystemConfig struct {
	Root        string `toml:"root" validate:"required"` // Object store root directory
	TempDir     string `toml:"temp_dir"`                 // Scratch directory for streaming downloads ("" = os default)
	URLBase     string `toml:"url_base"`                 // Base for temporary download URLs
	ArtifactTTL string `toml:"artifact_ttl"`             // How long orphaned artifacts are kept before cleanup
}

// FetcherConfig controls remote file retrieval
type FetcherConfig struct {
	SizeThresholdBytes int64  `toml:"size_threshold_bytes" validate:"gt=0"` // Above this, stream to disk instead of buffering
	MaxBatchBytes      int64  `toml:"max_batch_bytes" validate:"gt=0"`      // Aggregate declared size cap per import
	MaxBodyBytes       int64  `toml:"max_body_bytes"`                       // Per-response body cap (0 = unlimited)
	RequestTimeout     string `toml:"request_timeout"`
	RateLimit          int    `toml:"rate_limit" validate:"gte=1"` // Requests per second against remote sources
	UserAgent          string `toml:"user_agent"`
}

// WaveformConfig controls audio analysis
type WaveformConfig struct {
	ServiceURL     string `toml:"service_url"` // External analysis endpoint ("" = local estimation only)
	PeakCount      int    `toml:"peak_count" validate:"gte=16"`
	RequestTimeout string `toml:"request_timeout"`
}

// ImportConfig controls the retry policy applied to import and processing jobs
type ImportConfig struct {
	MaxAttempts    int      `toml:"max_attempts" validate:"gte=1"`
	Backoff        []string `toml:"backoff"` // Delay per retry, e.g. ["10s", "1m", "5m"]; last entry repeats
	AttemptTimeout string   `toml:"attempt_timeout"`
	LockTTL        string   `toml:"lock_ttl"` // Uniqueness lease TTL; should exceed attempt_timeout
}

// SchedulesConfig holds cron expressions for the periodic processors
type SchedulesConfig struct {
	Payouts    string `toml:"payouts"`    // Payout disbursement scan
	Deadlines  string `toml:"deadlines"`  // Expired request closure scan
	StaleJobs  string `toml:"stale_jobs"` // Stuck job watchdog
	Cleanup    string `toml:"cleanup"`    // Abandoned artifact sweep
	StaleAfter string `toml:"stale_after"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultConfig returns the baseline configuration before file/env overrides
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "mixforge",
		},
		Storage: StorageConfig{
			Badger:     BadgerConfig{Path: "./data/badger"},
			Filesystem: FilesystemConfig{Root: "./data/files", ArtifactTTL: "24h"},
		},
		Fetcher: FetcherConfig{
			SizeThresholdBytes: 50 * 1024 * 1024,
			MaxBatchBytes:      2 * 1024 * 1024 * 1024,
			RequestTimeout:     "30s",
			RateLimit:          10,
			UserAgent:          "mixforge/" + Version,
		},
		Waveform: WaveformConfig{
			PeakCount:      200,
			RequestTimeout: "60s",
		},
		Import: ImportConfig{
			MaxAttempts:    3,
			Backoff:        []string{"10s", "1m", "5m"},
			AttemptTimeout: "15m",
			LockTTL:        "16m",
		},
		Schedules: SchedulesConfig{
			Payouts:    "*/5 * * * *",
			Deadlines:  "*/10 * * * *",
			StaleJobs:  "*/15 * * * *",
			Cleanup:    "0 * * * *",
			StaleAfter: "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadConfig loads configuration in order: defaults -> files -> environment.
// Later sources override earlier ones.
func LoadConfig(paths ...string) (*Config, error) {
	// .env is optional; ignore when absent
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints and duration fields
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"fetcher.request_timeout":  c.Fetcher.RequestTimeout,
		"waveform.request_timeout": c.Waveform.RequestTimeout,
		"import.attempt_timeout":   c.Import.AttemptTimeout,
		"import.lock_ttl":          c.Import.LockTTL,
		"schedules.stale_after":    c.Schedules.StaleAfter,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, value)
		}
	}
	for i, b := range c.Import.Backoff {
		if _, err := time.ParseDuration(b); err != nil {
			return fmt.Errorf("invalid duration in import.backoff[%d]: %q", i, b)
		}
	}
	return nil
}

// Duration parses a configured duration string with a fallback
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// BackoffSchedule converts the configured backoff strings into durations
func (c *ImportConfig) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, 0, len(c.Backoff))
	for _, b := range c.Backoff {
		if d, err := time.ParseDuration(b); err == nil {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		out = []time.Duration{time.Minute}
	}
	return out
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIXFORGE_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("MIXFORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIXFORGE_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = strings.Split(v, ",")
	}
	if v := os.Getenv("MIXFORGE_BADGER_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("MIXFORGE_FILES_ROOT"); v != "" {
		cfg.Storage.Filesystem.Root = v
	}
	if v := os.Getenv("MIXFORGE_WAVEFORM_SERVICE_URL"); v != "" {
		cfg.Waveform.ServiceURL = v
	}
	if v := os.Getenv("MIXFORGE_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("MIXFORGE_FETCHER_SIZE_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Fetcher.SizeThresholdBytes = n
		}
	}
}
