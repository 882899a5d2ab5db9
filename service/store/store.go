package store

import (
	"context"
)

// Set is a named durable record set with atomic write semantics.
//
// Writes are atomic at set granularity: a writer prepares the full new
// content and swaps it in, so readers never observe a partial write. A
// per-set advisory lock serializes writers; readers tolerate eventually
// consistent snapshots.
type Set[T any] interface {
	// Read returns a snapshot of all records in append order.
	Read(ctx context.Context) ([]*T, error)

	// Append adds a record to the set.
	Append(ctx context.Context, record *T) error

	// UpdateWhere applies mutate to every record matching predicate and
	// returns the number of records actually changed.
	//
	// mutate receives the current record under the set's write lock and
	// returns false when a stated precondition no longer holds, turning the
	// call into a no-op for that record. This is the compare-and-set
	// primitive: two concurrent callers racing on the same precondition see
	// exactly one winner.
	UpdateWhere(ctx context.Context, predicate func(*T) bool, mutate func(*T) bool) (int, error)

	// DeleteWhere removes every record matching predicate and returns the
	// number removed. Used by retention passes; regular lifecycle
	// transitions never delete.
	DeleteWhere(ctx context.Context, predicate func(*T) bool) (int, error)
}
