// Package breaker provides a circuit breaker for one class of remote
// operation.
//
// The breaker tracks consecutive failures reported by its caller and opens
// to fail fast once a threshold is reached. After a cooldown it admits a
// limited number of trial calls (half-open); enough successes close the
// circuit again, any trial failure reopens it.
//
// The breaker never decides what counts as a failure - that policy belongs
// to the retry executor, which records only terminal failures (exhausted
// retries or permanent errors), not every attempt.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by callers that consult Allow and find the circuit
// open. No remote call is attempted and the rejection is not recorded as a
// breaker failure.
var ErrOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	// Closed admits all calls. Initial state.
	Closed State = iota

	// Open rejects all calls until the cooldown elapses.
	Open

	// HalfOpen admits a limited number of trial calls.
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive recorded failures that
	// opens the circuit. Default: 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before admitting trial
	// calls. Default: 30 seconds.
	Cooldown time.Duration

	// HalfOpenMaxCalls limits concurrent trial calls while half-open.
	// Default: 1.
	HalfOpenMaxCalls int

	// SuccessThreshold is the number of trial successes that closes the
	// circuit. Default: 1.
	SuccessThreshold int
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	FailureThreshold: 5,
	Cooldown:         30 * time.Second,
	HalfOpenMaxCalls: 1,
	SuccessThreshold: 1,
}

// Breaker is a circuit breaker shared by all workers of one operation
// class. It is safe for concurrent use. State is process-local and not
// persisted across restarts.
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenSuccesses   int
	halfOpenInflight    int

	now func() time.Time // overridable for tests
}

// New creates a Breaker with the given configuration.
// Zero or negative config fields fall back to DefaultConfig values.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig.Cooldown
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = DefaultConfig.HalfOpenMaxCalls
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	return &Breaker{
		cfg:   cfg,
		state: Closed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. While half-open it also
// reserves a trial slot, which the caller releases by recording the
// outcome via RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true

	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		// Cooldown elapsed: admit a first trial call.
		b.state = HalfOpen
		b.halfOpenSuccesses = 0
		b.halfOpenInflight = 1
		return true

	case HalfOpen:
		if b.halfOpenInflight >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenInflight++
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures = 0

	case HalfOpen:
		if b.halfOpenInflight > 0 {
			b.halfOpenInflight--
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			b.halfOpenInflight = 0
		}
	}
}

// RecordFailure records a breaker-worthy failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.now()
		}

	case HalfOpen:
		// A failed trial reopens the circuit and restarts the cooldown.
		b.state = Open
		b.openedAt = b.now()
		b.halfOpenSuccesses = 0
		b.halfOpenInflight = 0
	}
}

// State returns the current state, applying the open-to-half-open
// transition if the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
