// Package progress aggregates run counters and exposes read-only
// snapshots to external monitors.
//
// Counters are monotonically non-decreasing within a run and reset only
// at process start; a resumed run carries its checkpoint position forward
// but starts counting from zero.
package progress

import (
	"sync"
	"time"
)

// Snapshot is a read-only view of run progress.
type Snapshot struct {
	Processed    int64         `json:"processed"`
	Succeeded    int64         `json:"succeeded"`
	Failed       int64         `json:"failed"`
	Skipped      int64         `json:"skipped"`
	Attempts     int64         `json:"attempts"`
	CurrentBatch int           `json:"current_batch"`
	Elapsed      time.Duration `json:"elapsed"`
}

// SuccessRate returns the fraction of processed items that succeeded,
// excluding skipped items. Returns 0 when nothing was attempted.
func (s Snapshot) SuccessRate() float64 {
	attempted := s.Processed - s.Skipped
	if attempted <= 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(attempted)
}

// Tracker accumulates run metrics. Safe for concurrent use; only the
// processor writes, observers poll Snapshot.
type Tracker struct {
	mu           sync.Mutex
	start        time.Time
	processed    int64
	succeeded    int64
	failed       int64
	skipped      int64
	attempts     int64
	currentBatch int
}

// NewTracker creates a tracker with the run clock started.
func NewTracker() *Tracker {
	return &Tracker{start: time.Now()}
}

// RecordSuccess counts one successfully updated item.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.succeeded++
}

// RecordFailure counts one terminally failed item.
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.failed++
}

// RecordSkip counts one skipped item.
func (t *Tracker) RecordSkip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	t.skipped++
}

// RecordAttempt counts one remote attempt, success or failure. Attempts
// feed rate accounting; only terminal outcomes move the item counters.
func (t *Tracker) RecordAttempt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
}

// SetCurrentBatch records the batch sequence number being processed.
func (t *Tracker) SetCurrentBatch(seq int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentBatch = seq
}

// Snapshot returns a consistent read-only view of the counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Processed:    t.processed,
		Succeeded:    t.succeeded,
		Failed:       t.failed,
		Skipped:      t.skipped,
		Attempts:     t.attempts,
		CurrentBatch: t.currentBatch,
		Elapsed:      time.Since(t.start),
	}
}
