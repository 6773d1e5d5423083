// Package ratelimit provides a sliding-window rate limiter for remote calls.
//
// The limiter admits at most maxCalls calls within any window of the
// configured period. Callers that cannot be admitted immediately queue and
// are released in arrival order, so a burst of workers cannot starve the
// earliest waiter. A caller whose context is cancelled while waiting leaves
// the queue without consuming a slot.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter.
// It is safe for concurrent use.
type Limiter struct {
	maxCalls int
	period   time.Duration

	mu      sync.Mutex
	calls   []time.Time // admission timestamps, oldest first
	waiters []*waiter   // FIFO queue

	now func() time.Time // overridable for tests
}

// waiter represents a queued caller. Its ready channel is closed when the
// waiter reaches the head of the queue.
type waiter struct {
	ready chan struct{}
}

// New creates a Limiter admitting at most maxCalls per period.
// Non-positive values fall back to 1 call per second.
func New(maxCalls int, period time.Duration) *Limiter {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	if period <= 0 {
		period = time.Second
	}
	return &Limiter{
		maxCalls: maxCalls,
		period:   period,
		now:      time.Now,
	}
}

// Acquire blocks until the caller is admitted or ctx is cancelled.
// On success it records the admission timestamp and returns nil.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	l.prune(now)

	// Fast path: no queue and capacity available.
	if len(l.waiters) == 0 && len(l.calls) < l.maxCalls {
		l.calls = append(l.calls, now)
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	if len(l.waiters) == 1 {
		close(w.ready)
	}
	l.mu.Unlock()

	for {
		// Wait until we are at the head of the queue.
		select {
		case <-w.ready:
		case <-ctx.Done():
			l.abandon(w)
			return ctx.Err()
		}

		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.popHeadLocked()
			l.mu.Unlock()
			return nil
		}
		// Sleep until the oldest admission falls outside the window.
		wait := l.calls[0].Add(l.period).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.abandon(w)
			return ctx.Err()
		}
	}
}

// Pending returns the number of callers currently queued.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// prune drops admission timestamps that have left the sliding window.
// Caller must hold mu.
func (l *Limiter) prune(now time.Time) {
	i := 0
	for i < len(l.calls) && !l.calls[i].Add(l.period).After(now) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// popHeadLocked removes the head waiter and promotes the next one.
// Caller must hold mu.
func (l *Limiter) popHeadLocked() {
	l.waiters = l.waiters[1:]
	if len(l.waiters) > 0 {
		close(l.waiters[0].ready)
	}
}

// abandon removes a cancelled waiter from the queue. If the waiter was at
// the head, the next waiter is promoted.
func (l *Limiter) abandon(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, queued := range l.waiters {
		if queued == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			if i == 0 && len(l.waiters) > 0 {
				select {
				case <-l.waiters[0].ready:
					// already promoted
				default:
					close(l.waiters[0].ready)
				}
			}
			return
		}
	}
}
