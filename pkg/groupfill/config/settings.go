package config

import (
	"fmt"
	"time"
)

// Defaults for run settings.
const (
	DefaultBatchSize        = 100
	DefaultParallelism      = 10
	DefaultMaxRetries       = 3
	DefaultBackoffBase      = 2.0
	DefaultMaxBatchFailures = 5
	DefaultRateLimitCalls   = 50
	DefaultRateLimitPeriod  = 10 * time.Second
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
	DefaultAttemptTimeout   = 30 * time.Second
	DefaultSourceKind       = "csv"
	DefaultCheckpointKind   = "file"
	DefaultLogLevel         = "info"
)

// Settings is the resolved run configuration.
type Settings struct {
	// Input selection.
	SourceKind string // "csv" or "sqlite"
	InputPath  string

	// Remote API.
	BaseURL string
	Token   string

	// Batch engine.
	BatchSize        int
	Parallelism      int
	MaxBatchFailures int

	// Retry policy.
	MaxRetries     int
	BackoffBase    float64
	AttemptTimeout time.Duration

	// Rate limiting.
	RateLimitCalls  int
	RateLimitPeriod time.Duration

	// Circuit breaker.
	FailureThreshold int
	Cooldown         time.Duration

	// Checkpointing.
	CheckpointKind string // "file" or "sqlite"
	CheckpointPath string
	RunKey         string
	Resume         bool

	// Run mode.
	DryRun bool

	// Dead-letter journal path; empty disables journaling.
	DeadLetterPath string

	// Group resolution.
	GroupMapping map[string]string
	KnownGroups  []string

	LogLevel string
}

// Defaults returns settings populated with default values.
func Defaults() Settings {
	return Settings{
		SourceKind:       DefaultSourceKind,
		BatchSize:        DefaultBatchSize,
		Parallelism:      DefaultParallelism,
		MaxBatchFailures: DefaultMaxBatchFailures,
		MaxRetries:       DefaultMaxRetries,
		BackoffBase:      DefaultBackoffBase,
		AttemptTimeout:   DefaultAttemptTimeout,
		RateLimitCalls:   DefaultRateLimitCalls,
		RateLimitPeriod:  DefaultRateLimitPeriod,
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
		CheckpointKind:   DefaultCheckpointKind,
		LogLevel:         DefaultLogLevel,
	}
}

// FromConfig builds settings from a loaded config file, starting from
// defaults. Keys absent from the config keep their defaults.
func FromConfig(cfg Config) Settings {
	s := Defaults()
	s.SourceKind = cfg.String("source", s.SourceKind)
	s.InputPath = cfg.String("input", s.InputPath)
	s.BaseURL = cfg.String("base_url", s.BaseURL)
	s.Token = cfg.String("token", s.Token)
	s.BatchSize = cfg.Int("batch_size", s.BatchSize)
	s.Parallelism = cfg.Int("parallelism", s.Parallelism)
	s.MaxBatchFailures = cfg.Int("max_batch_failures", s.MaxBatchFailures)
	s.MaxRetries = cfg.Int("max_retries", s.MaxRetries)
	s.BackoffBase = cfg.Float("retry_backoff_base", s.BackoffBase)
	s.AttemptTimeout = cfg.Duration("attempt_timeout", s.AttemptTimeout)
	s.RateLimitCalls = cfg.Int("rate_limit_calls", s.RateLimitCalls)
	s.RateLimitPeriod = cfg.Duration("rate_limit_period", s.RateLimitPeriod)
	s.FailureThreshold = cfg.Int("circuit_failure_threshold", s.FailureThreshold)
	s.Cooldown = cfg.Duration("circuit_cooldown", s.Cooldown)
	s.CheckpointKind = cfg.String("checkpoint", s.CheckpointKind)
	s.CheckpointPath = cfg.String("checkpoint_path", s.CheckpointPath)
	s.RunKey = cfg.String("run_key", s.RunKey)
	s.Resume = cfg.Bool("resume", s.Resume)
	s.DryRun = cfg.Bool("dry_run", s.DryRun)
	s.DeadLetterPath = cfg.String("dead_letter", s.DeadLetterPath)
	s.GroupMapping = cfg.StringMap("group_mapping", s.GroupMapping)
	s.KnownGroups = cfg.StringSlice("known_groups", s.KnownGroups)
	s.LogLevel = cfg.String("log_level", s.LogLevel)
	return s
}

// Validate checks that the settings describe a runnable configuration.
func (s Settings) Validate() error {
	if s.SourceKind != "csv" && s.SourceKind != "sqlite" {
		return fmt.Errorf("source must be csv or sqlite, got %q", s.SourceKind)
	}
	if s.InputPath == "" {
		return fmt.Errorf("input path is required")
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", s.BatchSize)
	}
	if s.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", s.Parallelism)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", s.MaxRetries)
	}
	if s.BackoffBase < 1 {
		return fmt.Errorf("retry_backoff_base must be at least 1, got %g", s.BackoffBase)
	}
	if s.RateLimitCalls <= 0 {
		return fmt.Errorf("rate_limit_calls must be positive, got %d", s.RateLimitCalls)
	}
	if s.RateLimitPeriod <= 0 {
		return fmt.Errorf("rate_limit_period must be positive, got %s", s.RateLimitPeriod)
	}
	if s.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_failure_threshold must be positive, got %d", s.FailureThreshold)
	}
	if s.Cooldown <= 0 {
		return fmt.Errorf("circuit_cooldown must be positive, got %s", s.Cooldown)
	}
	if s.CheckpointKind != "file" && s.CheckpointKind != "sqlite" {
		return fmt.Errorf("checkpoint must be file or sqlite, got %q", s.CheckpointKind)
	}
	return nil
}
