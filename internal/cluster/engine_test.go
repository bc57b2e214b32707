package cluster

import (
	"math/rand"
	"testing"

	"github.com/kozaktomas/cluster-sorter/internal/vector"
)

func axisRecords(prefix string, n int, axis int, dim int, jitter float64, rng *rand.Rand) []EmbeddingRecord {
	records := make([]EmbeddingRecord, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		v[axis] = 1
		for d := 0; d < dim; d++ {
			v[d] += float32(jitter * (rng.Float64()*2 - 1))
		}
		records[i] = EmbeddingRecord{Path: prefixIndex(prefix, i), Vector: v}
	}
	return records
}

func prefixIndex(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i))
}

// S1 — cold start: three separable axis-aligned clusters of 10 each.
func TestUpdateClusters_ColdStartSeparable(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var records []EmbeddingRecord
	records = append(records, axisRecords("x", 10, 0, 3, 0.01, rng)...)
	records = append(records, axisRecords("y", 10, 1, 3, 0.01, rng)...)
	records = append(records, axisRecords("z", 10, 2, 3, 0.01, rng)...)

	eng := New(rand.New(rand.NewSource(7)))
	cfg := Config{K: 3, Threshold: 0.1, IterationCap: 20, RepresentativesPerCluster: 16}
	cs := eng.UpdateClusters(records, cfg, nil)

	if len(cs.Clusters) != 3 {
		t.Fatalf("expected 3 clusters, got %d", len(cs.Clusters))
	}
	for _, c := range cs.Clusters {
		if len(c.Members) != 10 {
			t.Errorf("expected cluster of size 10, got %d", len(c.Members))
		}
	}
	// descending order invariant (I7)
	for i := 1; i < len(cs.Clusters); i++ {
		if len(cs.Clusters[i-1].Members) < len(cs.Clusters[i].Members) {
			t.Errorf("clusters not sorted descending by size")
		}
	}
}

// S2 — warm-start stability: after S1, a new record near [1,0,0] re-clusters
// into the same centroid identity (by cosine proximity) as before.
func TestUpdateClusters_WarmStartStability(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var records []EmbeddingRecord
	records = append(records, axisRecords("x", 10, 0, 3, 0.01, rng)...)
	records = append(records, axisRecords("y", 10, 1, 3, 0.01, rng)...)
	records = append(records, axisRecords("z", 10, 2, 3, 0.01, rng)...)

	eng := New(rand.New(rand.NewSource(7)))
	cfg := Config{K: 3, Threshold: 0.1, IterationCap: 20, RepresentativesPerCluster: 16}
	first := eng.UpdateClusters(records, cfg, nil)

	// locate the x-axis centroid from pass one.
	var xCentroid []float32
	for _, c := range first.Clusters {
		if vector.CosineDistance(c.Centroid, []float32{1, 0, 0}) < 0.05 {
			xCentroid = c.Centroid
		}
	}
	if xCentroid == nil {
		t.Fatal("no cluster near [1,0,0] found in first pass")
	}

	records = append(records, EmbeddingRecord{Path: "new-x", Vector: []float32{1, 0.001, 0}})
	second := eng.UpdateClusters(records, cfg, first.Centroids)

	var found bool
	for _, c := range second.Clusters {
		if vector.CosineDistance(c.Centroid, []float32{1, 0, 0}) < 0.05 {
			for _, m := range c.Members {
				if m.Path == "new-x" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("new record near [1,0,0] did not land in the stable x-axis cluster")
	}
}

// S3 — representative dedup: 20 near-duplicates plus one outlier yields
// exactly two representatives.
func TestSelectRepresentatives_Dedup(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	centroid := []float32{1, 0, 0}
	var members []EmbeddingRecord
	for i := 0; i < 20; i++ {
		v := []float32{1, float32(rng.Float64() * 0.01), float32(rng.Float64() * 0.01)}
		members = append(members, EmbeddingRecord{Path: prefixIndex("dup", i), Vector: v})
	}
	members = append(members, EmbeddingRecord{Path: "outlier", Vector: []float32{0.7, 0.7, 0}})

	reps := selectRepresentatives(members, centroid, 0.2, 16)
	if len(reps) != 2 {
		t.Fatalf("expected 2 representatives, got %d", len(reps))
	}
	var hasOutlier bool
	for _, r := range reps {
		if r.Path == "outlier" {
			hasOutlier = true
		}
	}
	if !hasOutlier {
		t.Error("expected outlier to be a representative")
	}
}

func TestUpdateClusters_EmptyInput(t *testing.T) {
	eng := New(nil)
	cs := eng.UpdateClusters(nil, DefaultConfig(), nil)
	if len(cs.Clusters) != 0 || len(cs.Centroids) != 0 {
		t.Error("expected empty ClusterSet for empty input")
	}
}

func TestUpdateClusters_ClampsKToRecordCount(t *testing.T) {
	eng := New(rand.New(rand.NewSource(3)))
	records := []EmbeddingRecord{
		{Path: "a", Vector: []float32{1, 0}},
		{Path: "b", Vector: []float32{0, 1}},
	}
	cfg := Config{K: 5, Threshold: 0.1, IterationCap: 20, RepresentativesPerCluster: 16}
	cs := eng.UpdateClusters(records, cfg, nil)
	if len(cs.Clusters) != 2 {
		t.Fatalf("expected k clamped to 2 records, got %d clusters", len(cs.Clusters))
	}
}

func TestUpdateClusters_RepresentativeCap(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var records []EmbeddingRecord
	for i := 0; i < 40; i++ {
		v := []float32{1, float32(rng.Float64()), float32(rng.Float64())}
		records = append(records, EmbeddingRecord{Path: prefixIndex("m", i), Vector: v})
	}
	eng := New(rng)
	cfg := Config{K: 1, Threshold: 0, IterationCap: 20, RepresentativesPerCluster: 16}
	cs := eng.UpdateClusters(records, cfg, nil)
	if len(cs.Clusters[0].Representatives) != 16 {
		t.Errorf("expected 16 representatives (threshold=0 admits all), got %d", len(cs.Clusters[0].Representatives))
	}
}

func TestCosineDistance_ZeroVector(t *testing.T) {
	d := vector.CosineDistance([]float32{0, 0, 0}, []float32{1, 2, 3})
	if d != 1 {
		t.Errorf("expected distance 1 for zero vector, got %f", d)
	}
}
