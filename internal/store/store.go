// Package store provides local record storage with dirty-record tracking.
//
// A Store holds the device's copy of every record plus the pending set: the
// ids of records written locally but not yet confirmed accepted by the remote
// authority. The pending set is owned by the store; the sync engine reads
// snapshots of it via FetchPending and clears confirmed ids via MarkSynced.
//
// Two backends are provided: MemoryStore for ephemeral use and tests, and
// SQLiteStore for durable storage. Both are safe for concurrent use by
// producers enqueueing records and a running sync cycle.
package store

import (
	"time"

	"github.com/driftlab/edgesync/internal/record"
)

// Store is the local record store contract.
type Store interface {
	// FetchPending returns up to limit records currently marked pending,
	// in store-defined order. A limit <= 0 means no limit.
	FetchPending(limit int) ([]record.Record, error)

	// FetchAll returns a point-in-time copy of every record. Mutations
	// after the call do not affect the returned slice.
	FetchAll() ([]record.Record, error)

	// Get returns the record for id, reporting whether it exists.
	Get(id string) (record.Record, bool, error)

	// Save upserts the record by id, overwriting any existing value.
	// When markPending is true the id is (re)added to the pending set;
	// when false the pending set is left untouched. Callers decide:
	// local writes mark pending, remote-origin merge writes do not.
	Save(rec record.Record, markPending bool) error

	// MarkSynced removes the given ids from the pending set only.
	// Record content is untouched. Ids already absent are a no-op.
	MarkSynced(ids []string) error

	// Pending returns a snapshot of the ids currently marked pending.
	Pending() ([]string, error)

	// Close releases backend resources.
	Close() error
}

// WatermarkStore is the optional extension for stores that persist the
// engine's download watermark, so delta syncs survive restarts. Both
// provided backends implement it.
type WatermarkStore interface {
	// Watermark returns the stored watermark, reporting whether one has
	// been set yet.
	Watermark() (time.Time, bool, error)

	// SetWatermark durably replaces the watermark.
	SetWatermark(ts time.Time) error
}
