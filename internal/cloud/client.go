// Package cloud abstracts the remote authority the sync engine talks to.
//
// A Client uploads batches of locally modified records and downloads remote
// changes since a watermark. Clients own their network timeouts; retry logic
// does not live here — a failed call surfaces to the engine, which leaves the
// affected ids pending and retries on a later cycle.
package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/driftlab/edgesync/internal/record"
)

// Client is the remote authority contract.
type Client interface {
	// Upload sends a batch of records and returns the ids the server
	// durably accepted. On partial acceptance the returned list names
	// exactly the committed ids; callers must not assume all-or-nothing.
	Upload(ctx context.Context, batch []record.Record) ([]string, error)

	// Download returns all remote records changed after since.
	// A zero since means "full snapshot". Idempotent barring new remote
	// writes: the same since yields at minimum the same records.
	Download(ctx context.Context, since time.Time) ([]record.Record, error)
}

// UploadError indicates the remote authority rejected or failed an upload
// batch. It is cycle-local: affected ids stay pending and are retried on a
// later cycle.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// DownloadError indicates the remote authority failed to return deltas.
// It is cycle-local: the cycle yields zero remote merges and the next cycle
// retries from the same watermark.
type DownloadError struct {
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed: %v", e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
