package freeze

import (
	"testing"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
)

func recordsWithPaths(prefix string, n int) []cluster.EmbeddingRecord {
	out := make([]cluster.EmbeddingRecord, n)
	for i := 0; i < n; i++ {
		out[i] = cluster.EmbeddingRecord{Path: prefix + "-" + string(rune('a'+i)), Vector: []float32{1, 0}}
	}
	return out
}

func clusterSetWithOneFull(members []cluster.EmbeddingRecord) *cluster.ClusterSet {
	reps := make([]cluster.Representative, len(members))
	for i, m := range members {
		reps[i] = cluster.Representative{EmbeddingRecord: m}
	}
	return &cluster.ClusterSet{
		Clusters: []cluster.Cluster{
			{ID: 2, Centroid: []float32{1, 0}, Members: members, Representatives: reps},
		},
	}
}

func TestFreeze_RequiresFullRepresentativeSet(t *testing.T) {
	m := New()
	cs := clusterSetWithOneFull(recordsWithPaths("p", 10))
	if err := m.Freeze(cs, 2); err == nil {
		t.Fatal("expected error freezing cluster with fewer than 16 representatives")
	}
}

func TestFreeze_SucceedsAndMarksCluster(t *testing.T) {
	m := New()
	cs := clusterSetWithOneFull(recordsWithPaths("p", 16))
	if err := m.Freeze(cs, 2); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}
	if !cs.Clusters[0].IsFrozen {
		t.Error("expected cluster to be marked frozen")
	}
}

// TestApply_SurvivesAcrossPass (S4): a frozen cluster's representative
// identity follows it to a new index when most members persist.
func TestApply_SurvivesAcrossPass(t *testing.T) {
	m := New()
	members := recordsWithPaths("p", 16)
	cs := clusterSetWithOneFull(members)
	if err := m.Freeze(cs, 2); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	newMembers := append([]cluster.EmbeddingRecord{}, members...)
	newMembers = append(newMembers, cluster.EmbeddingRecord{Path: "extra-1", Vector: []float32{1, 0}})
	newCS := &cluster.ClusterSet{
		Clusters: []cluster.Cluster{
			{ID: 5, Centroid: []float32{1, 0}, Members: newMembers},
		},
	}

	result := m.Apply(newCS, cluster.Config{Threshold: 0.0, RepresentativesPerCluster: 16})
	if !result.Clusters[0].IsFrozen {
		t.Fatal("expected matched cluster to remain frozen")
	}
	if result.Clusters[0].MovedFrom == nil || *result.Clusters[0].MovedFrom != 2 {
		t.Fatalf("expected MovedFrom=2, got %v", result.Clusters[0].MovedFrom)
	}
	if len(result.Clusters[0].Representatives) != 16 {
		t.Fatalf("expected 16 representatives restored, got %d", len(result.Clusters[0].Representatives))
	}
	if result.Clusters[0].DriftCount != 0 {
		t.Fatalf("expected DriftCount=0 when all 16 original members persist, got %d", result.Clusters[0].DriftCount)
	}
}

// TestApply_AutoUnfreezeOnDrift (S5): when the matched cluster drops
// below 16 members, the entry is dropped (unfrozen) rather than forced.
func TestApply_AutoUnfreezeOnDrift(t *testing.T) {
	m := New()
	members := recordsWithPaths("p", 16)
	cs := clusterSetWithOneFull(members)
	if err := m.Freeze(cs, 2); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	shrunk := members[:10]
	newCS := &cluster.ClusterSet{
		Clusters: []cluster.Cluster{
			{ID: 5, Centroid: []float32{1, 0}, Members: shrunk},
		},
	}

	result := m.Apply(newCS, cluster.Config{Threshold: 0.0, RepresentativesPerCluster: 16})
	if result.Clusters[0].IsFrozen {
		t.Fatal("expected cluster with fewer than 16 members to be auto-unfrozen")
	}
	if m.IsRepresentative("p-a") {
		t.Fatal("expected frozen entry to be dropped from the manager")
	}
}

// TestApply_NoCandidateDropsEntry (S5 variant): if no new cluster has
// enough overlap, the frozen entry is dropped entirely.
func TestApply_NoCandidateDropsEntry(t *testing.T) {
	m := New()
	members := recordsWithPaths("p", 16)
	cs := clusterSetWithOneFull(members)
	if err := m.Freeze(cs, 2); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	unrelated := recordsWithPaths("q", 16)
	newCS := &cluster.ClusterSet{
		Clusters: []cluster.Cluster{
			{ID: 5, Centroid: []float32{0, 1}, Members: unrelated},
		},
	}

	result := m.Apply(newCS, cluster.Config{Threshold: 0.0, RepresentativesPerCluster: 16})
	if result.Clusters[0].IsFrozen {
		t.Fatal("expected unmatched new cluster to stay unfrozen")
	}
	if m.IsRepresentative("p-a") {
		t.Fatal("expected orphaned frozen entry to be dropped")
	}
}

// TestIsRepresentative_TracksFreezeUnfreeze (S6): IsRepresentative reports
// a path held by a live frozen entry, and stops reporting it once the
// entry is unfrozen.
func TestIsRepresentative_TracksFreezeUnfreeze(t *testing.T) {
	m := New()
	members := recordsWithPaths("p", 16)
	cs := clusterSetWithOneFull(members)
	if err := m.Freeze(cs, 2); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}
	if !m.IsRepresentative("p-a") {
		t.Fatal("expected p-a to be reported as a frozen representative")
	}

	m.Unfreeze(cs, 2, 0.15)
	if m.IsRepresentative("p-a") {
		t.Fatal("expected p-a to no longer be reported after unfreeze")
	}
	if cs.Clusters[0].IsFrozen {
		t.Fatal("expected cluster to be marked unfrozen")
	}
}

func TestUnfreeze_RecomputesRepresentativesWithoutReclustering(t *testing.T) {
	m := New()
	members := recordsWithPaths("p", 16)
	cs := clusterSetWithOneFull(members)
	_ = m.Freeze(cs, 2)

	m.Unfreeze(cs, 2, 0.0)
	if len(cs.Clusters[0].Representatives) != 16 {
		t.Fatalf("expected representatives recomputed from members, got %d", len(cs.Clusters[0].Representatives))
	}
}
