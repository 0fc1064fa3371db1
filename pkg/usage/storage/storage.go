package storage

import (
	"context"
	"time"

	"tokentracker-hq/relay/pkg/usage"
)

// Store is the interface implemented by usage record backends.
//
// Append must be safe for concurrent use by many request workers. An append
// either succeeds durably or returns an error; it must never fail the relay
// path itself (callers log and count failures instead of propagating them to
// the client).
type Store interface {
	// Append durably writes one record. The store assigns the record's ID
	// and, if the record's Timestamp is zero, the write-time UTC timestamp.
	Append(ctx context.Context, rec *usage.Record) error

	// Query returns records matching the filter, ordered by insertion.
	Query(ctx context.Context, filter usage.QueryFilter) ([]*usage.Record, error)

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int64, error)

	// DeleteOlderThan removes records with a timestamp before the cutoff
	// and returns the number removed. Used by retention pruning only.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the backend's resources.
	Close() error
}
