package store

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
	"github.com/kozaktomas/cluster-sorter/internal/coreerr"
)

// fakePersistence is an in-memory stand-in for Persistence, used so tests
// exercise the Store's persist/load contract without a real database.
type fakePersistence struct {
	records  map[string][]cluster.EmbeddingRecord
	manifest map[string]Manifest
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		records:  make(map[string][]cluster.EmbeddingRecord),
		manifest: make(map[string]Manifest),
	}
}

func (f *fakePersistence) PutRecords(_ context.Context, project string, records []cluster.EmbeddingRecord) error {
	byPath := make(map[string]cluster.EmbeddingRecord)
	for _, r := range f.records[project] {
		byPath[r.Path] = r
	}
	for _, r := range records {
		byPath[r.Path] = r
	}
	out := make([]cluster.EmbeddingRecord, 0, len(byPath))
	for _, r := range byPath {
		out = append(out, r)
	}
	f.records[project] = out
	return nil
}

func (f *fakePersistence) AllRecords(_ context.Context, project string) ([]cluster.EmbeddingRecord, error) {
	return f.records[project], nil
}

func (f *fakePersistence) PutManifest(_ context.Context, project string, m Manifest) error {
	f.manifest[project] = m
	return nil
}

func (f *fakePersistence) GetManifest(_ context.Context, project string) (Manifest, bool, error) {
	m, ok := f.manifest[project]
	return m, ok, nil
}

func TestStore_PutManyAndValid(t *testing.T) {
	s := New("proj", nil, nil)
	err := s.PutMany([]cluster.EmbeddingRecord{
		{Path: "a", Vector: []float32{1, 0}},
		{Path: "b", Vector: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("PutMany failed: %v", err)
	}
	if len(s.Valid()) != 2 {
		t.Fatalf("expected 2 valid records, got %d", len(s.Valid()))
	}
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := New("proj", nil, nil)
	if err := s.PutMany([]cluster.EmbeddingRecord{{Path: "a", Vector: []float32{1, 0}}}); err != nil {
		t.Fatalf("first PutMany failed: %v", err)
	}
	err := s.PutMany([]cluster.EmbeddingRecord{{Path: "b", Vector: []float32{1, 0, 0}}})
	if !errors.Is(err, coreerr.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestStore_ExcludeRestoreRoundTrip(t *testing.T) {
	s := New("proj", nil, nil)
	_ = s.PutMany([]cluster.EmbeddingRecord{
		{Path: "a", Vector: []float32{1, 0}},
		{Path: "b", Vector: []float32{0, 1}},
	})

	before := s.Valid()

	if err := s.Exclude("a"); err != nil {
		t.Fatalf("Exclude failed: %v", err)
	}
	if len(s.Valid()) != 1 {
		t.Fatalf("expected 1 valid record after exclude, got %d", len(s.Valid()))
	}

	// idempotent
	if err := s.Exclude("a"); err != nil {
		t.Fatalf("second Exclude failed: %v", err)
	}

	if err := s.Restore("a"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if err := s.Restore("a"); err != nil { // idempotent
		t.Fatalf("second Restore failed: %v", err)
	}

	after := s.Valid()
	if len(after) != len(before) {
		t.Fatalf("round trip changed valid set size: %d vs %d", len(after), len(before))
	}
	for i := range before {
		if before[i].Path != after[i].Path {
			t.Errorf("round trip order mismatch at %d: %s vs %s", i, before[i].Path, after[i].Path)
		}
	}
}

func TestStore_ExcludeRejectsFrozenRepresentative(t *testing.T) {
	s := New("proj", nil, nil)
	_ = s.PutMany([]cluster.EmbeddingRecord{{Path: "p3", Vector: []float32{1, 0}}})

	frozen := map[string]bool{"p3": true}
	s.SetFrozenGuard(func(path string) bool { return frozen[path] })

	err := s.Exclude("p3")
	if !errors.Is(err, coreerr.ErrFrozenRepresentative) {
		t.Fatalf("expected ErrFrozenRepresentative, got %v", err)
	}
	if s.IsExcluded("p3") {
		t.Error("state must be unchanged after rejected exclusion")
	}

	delete(frozen, "p3")
	if err := s.Exclude("p3"); err != nil {
		t.Fatalf("exclude should succeed after unfreeze, got %v", err)
	}
}

func TestStore_PersistLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newFakePersistence()

	s := New("proj", backend, func() int64 { return 100 })
	_ = s.PutMany([]cluster.EmbeddingRecord{
		{Path: "a", Vector: []float32{1, 0}},
		{Path: "b", Vector: []float32{0, 1}},
	})
	_ = s.Exclude("b")
	s.SetTotalImagesFound(5)

	if err := s.Persist(ctx); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	loaded := New("proj", backend, nil)
	if err := loaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded.Valid()) != 1 || loaded.Valid()[0].Path != "a" {
		t.Fatalf("load did not reconstruct valid set correctly: %+v", loaded.Valid())
	}
	if !loaded.IsExcluded("b") {
		t.Error("load did not reconstruct exclusion set")
	}
}

func TestStore_LoadNoPriorSession(t *testing.T) {
	ctx := context.Background()
	backend := newFakePersistence()
	s := New("proj", backend, nil)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load with no prior session should not error, got %v", err)
	}
	if len(s.Valid()) != 0 {
		t.Error("expected empty store when no prior session exists")
	}
}
