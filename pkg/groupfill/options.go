package groupfill

import (
	"log/slog"

	"github.com/kfarrell/groupfill/pkg/groupfill/breaker"
	"github.com/kfarrell/groupfill/pkg/groupfill/checkpoint"
	"github.com/kfarrell/groupfill/pkg/groupfill/deadletter"
	"github.com/kfarrell/groupfill/pkg/groupfill/integrity"
	"github.com/kfarrell/groupfill/pkg/groupfill/observability"
	"github.com/kfarrell/groupfill/pkg/groupfill/ratelimit"
	"github.com/kfarrell/groupfill/pkg/groupfill/remote"
	"github.com/kfarrell/groupfill/pkg/groupfill/retry"
)

// procConfig holds processor configuration assembled from options.
type procConfig struct {
	batchSize        int
	parallelism      int
	maxBatchFailures int
	dryRun           bool
	resume           bool
	runKey           string

	retryCfg   retry.Config
	breakerCfg breaker.Config
	limiter    *ratelimit.Limiter

	store   checkpoint.Store
	journal deadletter.Journal
	checker *integrity.Checker
	reader  remote.Reader

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// defaultProcConfig returns the default processor configuration.
func defaultProcConfig() procConfig {
	return procConfig{
		batchSize:        100,
		parallelism:      10,
		maxBatchFailures: 5,
		retryCfg:         retry.DefaultConfig,
		breakerCfg:       breaker.DefaultConfig,
		checker:          &integrity.Checker{},
		metrics:          observability.NoopMetrics{},
		spans:            observability.NoopSpanManager{},
	}
}

// Option configures a Processor.
type Option func(*procConfig)

// WithBatchSize sets the number of records per batch. Default: 100.
func WithBatchSize(n int) Option {
	return func(c *procConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithParallelism bounds the number of concurrent in-flight items within a
// batch. Default: 10.
func WithParallelism(n int) Option {
	return func(c *procConfig) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithMaxBatchFailures sets the failed-item count within one batch beyond
// which the run aborts. Default: 5.
func WithMaxBatchFailures(n int) Option {
	return func(c *procConfig) {
		if n >= 0 {
			c.maxBatchFailures = n
		}
	}
}

// WithDryRun runs the full pipeline, pre-checks and post-checks included,
// without calling the remote API.
func WithDryRun(on bool) Option {
	return func(c *procConfig) {
		c.dryRun = on
	}
}

// WithResume loads the checkpoint for the run key and continues after the
// last committed position instead of starting from the beginning.
func WithResume(on bool) Option {
	return func(c *procConfig) {
		c.resume = on
	}
}

// WithRunKey sets the stable key identifying this logical run across
// restarts. Defaults to a key derived from the source.
func WithRunKey(key string) Option {
	return func(c *procConfig) {
		if key != "" {
			c.runKey = key
		}
	}
}

// WithRetryConfig sets the per-item retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *procConfig) {
		c.retryCfg = cfg
	}
}

// WithBreakerConfig sets the circuit breaker policy.
func WithBreakerConfig(cfg breaker.Config) Option {
	return func(c *procConfig) {
		c.breakerCfg = cfg
	}
}

// WithRateLimiter sets the shared rate limiter. Defaults to 50 calls per
// 10 seconds.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *procConfig) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithCheckpointStore enables durable checkpointing through the store.
// Without a store the run is not resumable.
func WithCheckpointStore(s checkpoint.Store) Option {
	return func(c *procConfig) {
		c.store = s
	}
}

// WithDeadLetter journals terminally failed items for later re-processing.
func WithDeadLetter(j deadletter.Journal) Option {
	return func(c *procConfig) {
		c.journal = j
	}
}

// WithIntegrityChecker sets the pre/post-check validator.
func WithIntegrityChecker(ch *integrity.Checker) Option {
	return func(c *procConfig) {
		if ch != nil {
			c.checker = ch
		}
	}
}

// WithReader enables post-update verification reads when the update
// response does not report the written value.
func WithReader(r remote.Reader) Option {
	return func(c *procConfig) {
		c.reader = r
	}
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *procConfig) {
		c.logger = l
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *procConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets the trace span manager. Default: no-op.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *procConfig) {
		if s != nil {
			c.spans = s
		}
	}
}
