// Package freeze tracks a user's frozen clusters across re-cluster
// passes: it pins a group's representative identity, follows it through
// the engine's pass-to-pass relabeling with a greedy bipartite match, and
// auto-unfreezes entries whose membership has drifted too far to match.
package freeze

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
	"github.com/kozaktomas/cluster-sorter/internal/coreerr"
)

const representativesPerFreeze = 16
const minMatchToCandidate = 8

// entry is the internal record for one frozen group, keyed by a stable
// opaque identity rather than the cluster index the greedy match can
// reassign every pass; Manager.byIndex maps each current cluster index to
// that identity.
type entry struct {
	identity       uuid.UUID
	initialIndex   int // for logging only
	originalPaths  map[string]struct{}
	preferredPaths map[string]struct{}
}

// Manager holds every currently frozen group. Safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	byIndex map[int]uuid.UUID
	entries map[uuid.UUID]*entry
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{
		byIndex: make(map[int]uuid.UUID),
		entries: make(map[uuid.UUID]*entry),
	}
}

// Freeze pins the cluster currently at clusterIndex (a Cluster.ID from the
// most recent ClusterSet). The cluster must have exactly 16
// representatives, or ErrInsufficientMembers is returned and no state
// changes.
func (m *Manager) Freeze(cs *cluster.ClusterSet, clusterIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := findCluster(cs, clusterIndex)
	if c == nil || len(c.Representatives) != representativesPerFreeze {
		return coreerr.ErrInsufficientMembers
	}

	paths := make(map[string]struct{}, representativesPerFreeze)
	for _, r := range c.Representatives {
		paths[r.Path] = struct{}{}
	}

	id := uuid.New()
	e := &entry{
		identity:       id,
		initialIndex:   clusterIndex,
		originalPaths:  paths,
		preferredPaths: cloneSet(paths),
	}
	m.entries[id] = e
	m.byIndex[clusterIndex] = id
	c.IsFrozen = true
	return nil
}

// Unfreeze drops the FrozenEntry at clusterIndex and immediately
// recomputes representatives for that cluster from its current members,
// without re-running K-Means (§4.4 unfreeze).
func (m *Manager) Unfreeze(cs *cluster.ClusterSet, clusterIndex int, threshold float64) {
	m.mu.Lock()
	id, ok := m.byIndex[clusterIndex]
	if ok {
		delete(m.byIndex, clusterIndex)
		delete(m.entries, id)
	}
	m.mu.Unlock()

	c := findCluster(cs, clusterIndex)
	if c == nil {
		return
	}
	c.IsFrozen = false
	c.MovedFrom = nil
	c.DriftCount = 0
	c.Representatives = cluster.GreedyDedup(
		cluster.RankByCentroid(c.Members, c.Centroid), threshold, representativesPerFreeze)
}

// IsRepresentative reports whether path is currently a representative of
// any frozen cluster — the predicate the Store's exclusion guard uses to
// enforce F2.
func (m *Manager) IsRepresentative(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if _, ok := e.preferredPaths[path]; ok {
			return true
		}
	}
	return false
}

type candidate struct {
	oldIndex int
	newIndex int
	match    int
}

// Apply is the central re-cluster hook (§4.4.1–4.4.3): it identifies the
// best-matching new cluster for every frozen entry via greedy bipartite
// assignment on member overlap, then enforces the frozen representative
// set (originals, then previous fillers, then others) on each accepted
// match. Entries with no acceptable candidate, or whose matched cluster
// has fewer than 16 members, are auto-unfrozen. cs is mutated in place
// and also returned for convenience.
func (m *Manager) Apply(cs *cluster.ClusterSet, cfg cluster.Config) *cluster.ClusterSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.byIndex) == 0 {
		return cs
	}

	var candidates []candidate
	for oldIndex, id := range m.byIndex {
		e := m.entries[id]
		for i := range cs.Clusters {
			match := countOverlap(cs.Clusters[i].Members, e.preferredPaths)
			if match >= minMatchToCandidate {
				candidates = append(candidates, candidate{oldIndex: oldIndex, newIndex: cs.Clusters[i].ID, match: match})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].match != candidates[j].match {
			return candidates[i].match > candidates[j].match
		}
		if candidates[i].newIndex != candidates[j].newIndex {
			return candidates[i].newIndex < candidates[j].newIndex
		}
		return candidates[i].oldIndex < candidates[j].oldIndex
	})

	claimedOld := make(map[int]bool, len(m.byIndex))
	assignment := make(map[int]int) // newIndex -> oldIndex
	claimedNew := make(map[int]bool)
	for _, c := range candidates {
		if claimedOld[c.oldIndex] || claimedNew[c.newIndex] {
			continue
		}
		claimedOld[c.oldIndex] = true
		claimedNew[c.newIndex] = true
		assignment[c.newIndex] = c.oldIndex
	}

	newByIndex := make(map[int]uuid.UUID)
	for i := range cs.Clusters {
		newIndex := cs.Clusters[i].ID
		oldIndex, ok := assignment[newIndex]
		if !ok {
			continue
		}
		id := m.byIndex[oldIndex]
		e := m.entries[id]

		if len(cs.Clusters[i].Members) < representativesPerFreeze {
			delete(m.entries, id)
			continue
		}

		reps := enforceFrozenRepresentatives(cs.Clusters[i].Members, cs.Clusters[i].Centroid, e.originalPaths, e.preferredPaths, cfg.Threshold)
		cs.Clusters[i].Representatives = reps
		cs.Clusters[i].DriftCount = representativesPerFreeze - countOverlap(cs.Clusters[i].Members, e.originalPaths)
		cs.Clusters[i].IsFrozen = true
		if newIndex != oldIndex {
			moved := oldIndex
			cs.Clusters[i].MovedFrom = &moved
		}

		newPreferred := make(map[string]struct{}, len(reps))
		for _, r := range reps {
			newPreferred[r.Path] = struct{}{}
		}
		e.preferredPaths = newPreferred
		newByIndex[newIndex] = id
	}

	for oldIndex, id := range m.byIndex {
		if !claimedOld[oldIndex] {
			delete(m.entries, id)
		}
	}

	m.byIndex = newByIndex
	return cs
}

// enforceFrozenRepresentatives builds the 16 representatives for a
// re-matched frozen cluster: originals present, then previous fillers
// present, then others, each internally ranked by centroid proximity, the
// dedup threshold applied once across the concatenated, priority-ordered
// list (§4.4.3, resolving the source's "within groups vs across" open
// question in favor of "across").
func enforceFrozenRepresentatives(members []cluster.EmbeddingRecord, centroid []float32, originalPaths, preferredPaths map[string]struct{}, threshold float64) []cluster.Representative {
	var originals, fillers, others []cluster.EmbeddingRecord
	otherSet := make(map[string]bool)

	for _, mem := range members {
		_, isOriginal := originalPaths[mem.Path]
		_, wasPreferred := preferredPaths[mem.Path]
		switch {
		case isOriginal:
			originals = append(originals, mem)
		case wasPreferred:
			fillers = append(fillers, mem)
		default:
			others = append(others, mem)
			otherSet[mem.Path] = true
		}
	}

	combined := make([]cluster.EmbeddingRecord, 0, len(members))
	combined = append(combined, cluster.RankByCentroid(originals, centroid)...)
	combined = append(combined, cluster.RankByCentroid(fillers, centroid)...)
	combined = append(combined, cluster.RankByCentroid(others, centroid)...)

	reps := cluster.GreedyDedup(combined, threshold, representativesPerFreeze)
	for i := range reps {
		if otherSet[reps[i].Path] {
			reps[i].IsReplacement = true
		}
	}
	return reps
}

func countOverlap(members []cluster.EmbeddingRecord, set map[string]struct{}) int {
	count := 0
	for _, m := range members {
		if _, ok := set[m.Path]; ok {
			count++
		}
	}
	return count
}

func findCluster(cs *cluster.ClusterSet, index int) *cluster.Cluster {
	for i := range cs.Clusters {
		if cs.Clusters[i].ID == index {
			return &cs.Clusters[i]
		}
	}
	return nil
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
