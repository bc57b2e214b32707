// Package store holds the authoritative mapping from image path to
// embedding, the exclusion set, and the project manifest, and persists
// all three across sessions.
package store

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
	"github.com/kozaktomas/cluster-sorter/internal/coreerr"
)

// Manifest summarizes a project's processing state, persisted alongside
// the embedding records themselves.
type Manifest struct {
	ProcessedCount   int
	TotalImagesFound int
	ExcludedImages   []string
	FailedImages     []string
	LastUpdated      int64
}

// Persistence is the durable key-value backend the Store serializes to
// and reloads from. Composite identity is (project, path); a concrete
// implementation is free to express that as two columns of a primary key
// rather than a literal "{project}|{path}" string.
type Persistence interface {
	PutRecords(ctx context.Context, project string, records []cluster.EmbeddingRecord) error
	AllRecords(ctx context.Context, project string) ([]cluster.EmbeddingRecord, error)
	PutManifest(ctx context.Context, project string, manifest Manifest) error
	// GetManifest returns found=false (no error) when no manifest exists
	// yet, and also when the stored manifest is corrupted — both cases
	// are treated as "no prior session".
	GetManifest(ctx context.Context, project string) (manifest Manifest, found bool, err error)
}

// Store is the authoritative embedding + exclusion state for one project.
// Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	project     string
	persistence Persistence

	dim    int
	dimSet bool

	records          map[string]cluster.EmbeddingRecord
	excluded         map[string]struct{}
	failed           map[string]struct{}
	totalImagesFound int
	frozenGuard      func(path string) bool
	lastUpdatedNowFn func() int64
}

// New constructs an empty Store for the given project. persistence may be
// nil, in which case Persist/Load are no-ops and the Store is purely
// in-memory (useful for tests).
func New(project string, persistence Persistence, nowFn func() int64) *Store {
	return &Store{
		project:          project,
		persistence:      persistence,
		records:          make(map[string]cluster.EmbeddingRecord),
		excluded:         make(map[string]struct{}),
		failed:           make(map[string]struct{}),
		lastUpdatedNowFn: nowFn,
	}
}

// SetFrozenGuard injects the predicate used to enforce invariant F2: a
// path that is a current representative of a frozen cluster cannot be
// excluded. Mirrors the corpus's pattern of registering a backend
// implementation via a constructor callback rather than an import cycle.
func (s *Store) SetFrozenGuard(fn func(path string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozenGuard = fn
}

// SetTotalImagesFound records the scanner's total image count for the
// manifest, independent of how many have been embedded so far.
func (s *Store) SetTotalImagesFound(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalImagesFound = n
}

// PutMany inserts or replaces records by path (I1). Atomic with respect
// to concurrent readers of All/Valid. Returns ErrDimensionMismatch if a
// record's vector width disagrees with the dimension fixed by the first
// record ever inserted into this project.
func (s *Store) PutMany(records []cluster.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if !s.dimSet {
			s.dim = len(r.Vector)
			s.dimSet = true
		} else if len(r.Vector) != s.dim {
			return fmt.Errorf("%w: path %q has dimension %d, project dimension is %d",
				coreerr.ErrDimensionMismatch, r.Path, len(r.Vector), s.dim)
		}
	}

	for _, r := range records {
		s.records[r.Path] = r
	}
	return nil
}

// MarkFailed records paths whose embedding could not be computed (a
// decode failure or an Embedder error) so the next scan does not retry
// them forever (§7's EmbedderFailure handling). Idempotent; does not
// require the path to have a stored record.
func (s *Store) MarkFailed(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.failed[p] = struct{}{}
	}
	return nil
}

// IsFailed reports whether path was previously marked failed and should
// be skipped by future scans.
func (s *Store) IsFailed(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.failed[path]
	return ok
}

// All returns a lazy, stable-within-call sequence of every stored record,
// in an unspecified but deterministic order (sorted by path).
func (s *Store) All() iter.Seq[cluster.EmbeddingRecord] {
	s.mu.RLock()
	paths := make([]string, 0, len(s.records))
	for p := range s.records {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	snapshot := make([]cluster.EmbeddingRecord, len(paths))
	for i, p := range paths {
		snapshot[i] = s.records[p]
	}
	s.mu.RUnlock()

	return func(yield func(cluster.EmbeddingRecord) bool) {
		for _, r := range snapshot {
			if !yield(r) {
				return
			}
		}
	}
}

// Exclude adds path to the exclusion set. Idempotent. Rejects with
// ErrFrozenRepresentative if path is currently displayed as a
// representative of a frozen cluster (F2), leaving state unchanged.
func (s *Store) Exclude(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozenGuard != nil && s.frozenGuard(path) {
		return coreerr.ErrFrozenRepresentative
	}
	s.excluded[path] = struct{}{}
	return nil
}

// Restore removes path from the exclusion set. Idempotent.
func (s *Store) Restore(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.excluded, path)
	return nil
}

// IsExcluded reports whether path is currently excluded.
func (s *Store) IsExcluded(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.excluded[path]
	return ok
}

// Valid returns every record whose path is not excluded — the input to
// clustering (I4's partition is computed over this set).
func (s *Store) Valid() []cluster.EmbeddingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.records))
	for p := range s.records {
		if _, excluded := s.excluded[p]; !excluded {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	out := make([]cluster.EmbeddingRecord, len(paths))
	for i, p := range paths {
		out[i] = s.records[p]
	}
	return out
}

// Manifest returns the current processed-count / total / excluded-images
// snapshot.
func (s *Store) Manifest(nowUnix int64) Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifestLocked(nowUnix)
}

// Persist serializes the current embedding set and manifest. A failure
// is recoverable: the in-memory view is left intact and the caller
// decides whether to retry.
func (s *Store) Persist(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}

	s.mu.RLock()
	records := make([]cluster.EmbeddingRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	var now int64
	if s.lastUpdatedNowFn != nil {
		now = s.lastUpdatedNowFn()
	}
	manifest := s.manifestLocked(now)
	project := s.project
	s.mu.RUnlock()

	if err := s.persistence.PutRecords(ctx, project, records); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrPersistenceFailure, err)
	}
	if err := s.persistence.PutManifest(ctx, project, manifest); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrPersistenceFailure, err)
	}
	return nil
}

func (s *Store) manifestLocked(nowUnix int64) Manifest {
	excluded := make([]string, 0, len(s.excluded))
	for p := range s.excluded {
		excluded = append(excluded, p)
	}
	sort.Strings(excluded)

	failed := make([]string, 0, len(s.failed))
	for p := range s.failed {
		failed = append(failed, p)
	}
	sort.Strings(failed)

	return Manifest{
		ProcessedCount:   len(s.records),
		TotalImagesFound: s.totalImagesFound,
		ExcludedImages:   excluded,
		FailedImages:     failed,
		LastUpdated:      nowUnix,
	}
}

// Load reconstructs session state from persistence (I3). A missing or
// corrupted manifest is treated as "no prior session" rather than an
// error: Load simply leaves the Store empty.
func (s *Store) Load(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}

	manifest, found, err := s.persistence.GetManifest(ctx, s.project)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrPersistenceFailure, err)
	}
	if !found {
		return nil
	}

	records, err := s.persistence.AllRecords(ctx, s.project)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrPersistenceFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]cluster.EmbeddingRecord, len(records))
	for _, r := range records {
		if !s.dimSet {
			s.dim = len(r.Vector)
			s.dimSet = true
		}
		s.records[r.Path] = r
	}

	s.excluded = make(map[string]struct{}, len(manifest.ExcludedImages))
	for _, p := range manifest.ExcludedImages {
		s.excluded[p] = struct{}{}
	}
	s.failed = make(map[string]struct{}, len(manifest.FailedImages))
	for _, p := range manifest.FailedImages {
		s.failed[p] = struct{}{}
	}
	s.totalImagesFound = manifest.TotalImagesFound
	return nil
}
