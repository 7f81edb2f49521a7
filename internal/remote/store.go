// Package remote defines the client-side contracts for the remote
// document database (batched writes, change-feed subscriptions) and the
// object storage service holding attachment payloads. Implementations
// live in the httpstore and s3store subpackages.
package remote

import (
	"context"

	"github.com/google/uuid"
)

// MaxBatchSize caps the number of writes per committed batch. Callers
// must split larger operations; SplitBatches does this.
const MaxBatchSize = 400

// ChangeKind describes what happened to a document.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

// Stream distinguishes the active documents from the hard-delete
// tombstone stream of the same collection.
type Stream int

const (
	StreamActive Stream = iota
	StreamDeleted
)

// Change is one remote document mutation.
type Change struct {
	ID   string
	Kind ChangeKind

	// PendingLocalWrite marks an echo of this device's own in-flight
	// write; reconcilers skip those.
	PendingLocalWrite bool

	Fields map[string]any
}

// ChangeBatch groups changes delivered together. Initial batches carry
// the full remote snapshot at subscription time; subsequent batches are
// incremental deltas of the same shape.
type ChangeBatch struct {
	Collection string
	Stream     Stream
	Initial    bool
	Changes    []Change
}

// Batch accumulates writes committed atomically against one collection.
// Commit is all-or-nothing; a batch over MaxBatchSize fails without
// touching the server.
type Batch interface {
	Create(id string, fields map[string]any)
	Update(id string, fields map[string]any)
	Delete(id string)
	Len() int
	Commit(ctx context.Context) error
}

// DocStore is the remote document database. Update takes a partial field
// map — never a full document — so concurrent edits to unrelated fields
// are not clobbered.
type DocStore interface {
	Create(ctx context.Context, collection, id string, fields map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	NewBatch(collection string) Batch

	// Subscribe opens the change feed for a collection (active and
	// deleted streams multiplexed on one channel). The returned stop
	// function terminates the subscription; calling it twice is a no-op.
	Subscribe(ctx context.Context, collection string) (<-chan ChangeBatch, func(), error)
}

// NewID generates a remote document id client-side.
func NewID() string { return uuid.NewString() }

// SplitBatches invokes fn with consecutive slices of at most MaxBatchSize
// items. Each invocation is independent: a failure stops iteration but
// batches already processed stay committed.
func SplitBatches[T any](items []T, fn func(items []T) error) error {
	for start := 0; start < len(items); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(items) {
			end = len(items)
		}
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	return nil
}
