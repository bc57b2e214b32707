// Package coreerr defines the error kinds shared across the clustering
// engine's components, so callers can branch on kind with errors.Is
// regardless of which component wrapped it.
package coreerr

import "errors"

var (
	// ErrInsufficientMembers is returned when freeze is attempted on a
	// cluster with fewer than the required number of representatives.
	ErrInsufficientMembers = errors.New("cluster has fewer than the required representatives to freeze")

	// ErrFrozenRepresentative is returned when exclusion is attempted on
	// a path that is currently a representative of a frozen cluster.
	ErrFrozenRepresentative = errors.New("path is a current representative of a frozen cluster")

	// ErrEmbedderFailure wraps a failed embedding batch. The batch's
	// paths are marked failed by the Producer via Sink.MarkFailed so a
	// poisoned input isn't retried forever.
	ErrEmbedderFailure = errors.New("embedder batch failed")

	// ErrPersistenceFailure wraps a failed store serialization. Not
	// fatal; the next flush retries the full snapshot.
	ErrPersistenceFailure = errors.New("store persistence failed")

	// ErrDimensionMismatch is returned when a record's vector width
	// disagrees with the dimension fixed by the first record in a
	// project. Fatal for that session.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
