// Package retry provides the retry executor that drives a single unit of
// work against the remote API.
//
// Every attempt passes two gates before the operation runs: the circuit
// breaker (open circuit fails fast without a remote call) and the rate
// limiter (bounded wait for a window slot). Transient errors are retried
// with exponential backoff and jitter; permanent errors are surfaced
// immediately. Only terminal failures are recorded to the breaker, so a
// storm of retried attempts does not trip the circuit on its own.
//
// A sequence that finds the circuit open before its first attempt fails
// fast and records nothing. A sequence that finds it open after it has
// attempted treats the rejection as its terminal failure and records it;
// the record also releases any half-open trial slot the sequence still
// holds, so an abandoned trial cannot wedge the breaker half-open.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kfarrell/groupfill/pkg/groupfill/breaker"
	gferrors "github.com/kfarrell/groupfill/pkg/groupfill/errors"
	"github.com/kfarrell/groupfill/pkg/groupfill/ratelimit"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt,
	// so a transient error is attempted MaxRetries+1 times. Default: 3.
	MaxRetries int

	// BackoffBase is the exponential backoff base; the sleep before
	// retry n is BackoffUnit * BackoffBase^n. Default: 2.0.
	BackoffBase float64

	// BackoffUnit scales the backoff. Default: 1 second.
	BackoffUnit time.Duration

	// MaxBackoff caps a single backoff sleep. Default: 60 seconds.
	MaxBackoff time.Duration

	// Jitter is the random jitter factor (0.0-1.0) applied to each
	// backoff sleep. Default: 0.1.
	Jitter float64

	// AttemptTimeout bounds each individual attempt. 0 disables the
	// per-attempt deadline.
	AttemptTimeout time.Duration

	// OnAttempt, if set, is called after every attempt with the attempt
	// number (1-based) and its error (nil on success). Used for rate
	// accounting; only the terminal result reaches the batch.
	OnAttempt func(attempt int, err error)
}

// DefaultConfig is the standard retry configuration.
var DefaultConfig = Config{
	MaxRetries:  3,
	BackoffBase: 2.0,
	BackoffUnit: time.Second,
	MaxBackoff:  60 * time.Second,
	Jitter:      0.1,
}

// Result is the terminal outcome of one execution.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// Err is nil on success, otherwise the terminal error.
	Err error

	// Duration is the total wall-clock time spent, including backoff.
	Duration time.Duration
}

// Executor wraps a unit of work with bounded retry, consulting the
// circuit breaker before each attempt and the rate limiter before each
// call. It is safe for concurrent use; the breaker and limiter are the
// only shared state.
type Executor struct {
	cfg     Config
	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
}

// New creates an Executor. Zero config fields fall back to DefaultConfig
// values (MaxRetries keeps an explicit 0, which disables retries).
func New(cfg Config, b *breaker.Breaker, l *ratelimit.Limiter) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 1 {
		cfg.BackoffBase = DefaultConfig.BackoffBase
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = DefaultConfig.BackoffUnit
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Executor{cfg: cfg, breaker: b, limiter: l}
}

// Do executes op until it succeeds, fails permanently, or exhausts
// retries. classify maps an op error to its category; if nil, the default
// classification is used.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error, classify gferrors.ClassifyFunc) Result {
	start := time.Now()
	if classify == nil {
		classify = gferrors.Classify
	}

	attempts := 0
	var lastErr error
	for {
		// Run-level cancellation wins over everything else.
		if err := ctx.Err(); err != nil {
			return Result{
				Attempts: attempts,
				Err:      gferrors.Permanent(err, "run cancelled"),
				Duration: time.Since(start),
			}
		}

		// Circuit gate. A sequence rejected before its first attempt fails
		// fast without consuming a remote call and without counting toward
		// the breaker. If the circuit opened mid-sequence (another worker's
		// failures, or a half-open trial we hold), the sequence is over and
		// its transient failure is terminal, so it is recorded: this also
		// releases a half-open trial slot reserved by an earlier Allow.
		if !e.breaker.Allow() {
			if attempts == 0 {
				return Result{
					Attempts: 0,
					Err:      gferrors.Permanent(breaker.ErrOpen, "circuit open"),
					Duration: time.Since(start),
				}
			}
			e.breaker.RecordFailure()
			return Result{
				Attempts: attempts,
				Err: &gferrors.ClassifiedError{
					Err:      lastErr,
					Category: gferrors.CategoryTransient,
					Attempts: attempts,
					Context:  "circuit opened during retries",
				},
				Duration: time.Since(start),
			}
		}

		// Rate gate: bounded wait for a window slot.
		if err := e.limiter.Acquire(ctx); err != nil {
			return Result{
				Attempts: attempts,
				Err:      gferrors.Permanent(err, "cancelled waiting for rate limit"),
				Duration: time.Since(start),
			}
		}

		attempts++
		err := e.attempt(ctx, op)
		if e.cfg.OnAttempt != nil {
			e.cfg.OnAttempt(attempts, err)
		}

		if err == nil {
			e.breaker.RecordSuccess()
			return Result{Attempts: attempts, Duration: time.Since(start)}
		}
		lastErr = err

		if classify(err) == gferrors.CategoryPermanent {
			e.breaker.RecordFailure()
			return Result{
				Attempts: attempts,
				Err: &gferrors.ClassifiedError{
					Err:      err,
					Category: gferrors.CategoryPermanent,
					Attempts: attempts,
				},
				Duration: time.Since(start),
			}
		}

		// Transient: retry if budget remains, otherwise surface the
		// exhausted failure to the breaker.
		if attempts > e.cfg.MaxRetries {
			e.breaker.RecordFailure()
			return Result{
				Attempts: attempts,
				Err: &gferrors.ClassifiedError{
					Err:      err,
					Category: gferrors.CategoryTransient,
					Attempts: attempts,
					Context:  "max retries exceeded",
				},
				Duration: time.Since(start),
			}
		}

		if sleepErr := e.backoff(ctx, attempts); sleepErr != nil {
			return Result{
				Attempts: attempts,
				Err:      gferrors.Permanent(sleepErr, "cancelled during backoff"),
				Duration: time.Since(start),
			}
		}
	}
}

// attempt runs op once, applying the per-attempt timeout if configured.
func (e *Executor) attempt(ctx context.Context, op func(context.Context) error) error {
	if e.cfg.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

// backoff sleeps for BackoffUnit * BackoffBase^attempt with jitter,
// respecting cancellation.
func (e *Executor) backoff(ctx context.Context, attempt int) error {
	d := time.Duration(float64(e.cfg.BackoffUnit) * math.Pow(e.cfg.BackoffBase, float64(attempt)))
	if d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	if e.cfg.Jitter > 0 {
		jitterAmount := float64(d) * e.cfg.Jitter * (rand.Float64()*2 - 1)
		d = time.Duration(float64(d) + jitterAmount)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
