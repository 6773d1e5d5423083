// Package remote defines the client contract for the remote API and an
// HTTP implementation of it.
//
// The engine only needs UpdateField; ReadField enables post-submission
// integrity verification and Ping lets the CLI probe credentials before
// starting a run. Errors carry status codes so the retry executor can
// classify them as transient (429, 5xx, timeouts) or permanent.
package remote

import (
	"context"
)

// Client performs the remote field update.
type Client interface {
	// UpdateField sets the missing field on the record with the given id
	// and returns the value the server reports after the write.
	UpdateField(ctx context.Context, id, value string) (reported string, err error)
}

// Reader is an optional capability for post-update verification.
type Reader interface {
	// ReadField returns the current value of the field for the record.
	ReadField(ctx context.Context, id string) (string, error)
}

// Pinger is an optional capability for connection probes.
type Pinger interface {
	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error
}
