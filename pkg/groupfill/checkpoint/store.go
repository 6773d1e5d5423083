// Package checkpoint provides durable run-position storage for crash
// recovery. One record is kept per run key; a commit fully replaces the
// previous record and must be atomic with respect to process crash.
package checkpoint

import "errors"

// Store persists checkpoint records.
// Implementations must be safe for concurrent use, though the processor
// is the single writer by construction.
type Store interface {
	// Load retrieves the record for a run key.
	// Returns ErrNotFound if no checkpoint exists.
	Load(runKey string) (*Record, error)

	// Save stores the record for a run key, replacing any previous one.
	// The write must be atomic: a crash mid-save never leaves a corrupt
	// or partially-written checkpoint.
	Save(runKey string, rec *Record) error

	// Delete removes the record for a run key.
	// Returns nil if no checkpoint exists.
	Delete(runKey string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates no checkpoint exists for the run key.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrVersionMismatch indicates the stored checkpoint format is
	// incompatible with this binary.
	ErrVersionMismatch = errors.New("checkpoint version mismatch")
)
