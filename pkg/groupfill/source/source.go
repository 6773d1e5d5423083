// Package source provides record sources for backfill runs.
//
// A source produces a lazy, finite sequence of records and must support
// restarting from a given key so an interrupted run can resume from its
// last committed checkpoint.
package source

import (
	"context"
	"errors"
	"fmt"
)

// Record is an immutable input tuple describing one ticket. ID is the
// dedup and checkpoint key. A record with an empty CreatorGroup is
// eligible for backfill.
type Record struct {
	ID            string `json:"id"`
	CreatorUserID string `json:"creator_user_id"`
	AssignedGroup string `json:"assigned_group"`
	CreatorGroup  string `json:"creator_group,omitempty"`
}

// String returns a compact description for logs.
func (r Record) String() string {
	return fmt.Sprintf("Record(id=%s, creator=%s, assigned_group=%s)", r.ID, r.CreatorUserID, r.AssignedGroup)
}

// Source produces records for a run.
type Source interface {
	// Open starts a cursor over the source's records. If afterKey is
	// non-empty, records up to and including that key are skipped.
	Open(ctx context.Context, afterKey string) (Cursor, error)
}

// Cursor iterates records lazily.
type Cursor interface {
	// Next returns the next record. ok is false when the source is
	// exhausted; err is set on read failures.
	Next(ctx context.Context) (rec Record, ok bool, err error)

	// Close releases the cursor's resources.
	Close() error
}

// Sentinel errors for sources.
var (
	// ErrMissingColumns indicates the source lacks required fields.
	ErrMissingColumns = errors.New("source missing required columns")
)
