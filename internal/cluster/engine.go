package cluster

import (
	"math"
	"math/rand"
	"sort"

	"github.com/kozaktomas/cluster-sorter/internal/vector"
)

// Engine runs clustering passes. The zero value is not usable; construct
// with New. Engine holds no embedding state between passes — callers
// pass the full valid record set and the previous centroids (if any)
// into each call to UpdateClusters.
type Engine struct {
	rng *rand.Rand
}

// New constructs an Engine. If rng is nil, a source with the fixed seed 1
// is used, so passes are reproducible; callers that want varied seeding
// pass their own *rand.Rand.
func New(rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Engine{rng: rng}
}

// UpdateClusters runs one clustering pass over records and returns the
// resulting ClusterSet. previousCentroids may be nil; it is used for warm
// start only when its length equals cfg.K after clamping.
func (e *Engine) UpdateClusters(records []EmbeddingRecord, cfg Config, previousCentroids [][]float32) ClusterSet {
	if len(records) == 0 {
		return ClusterSet{}
	}

	k := cfg.K
	if k > len(records) {
		k = len(records)
	}
	if k < 1 {
		k = 1
	}

	dim := len(records[0].Vector)

	centroids := e.initCentroids(records, k, dim, previousCentroids)
	assignments := e.lloyd(records, centroids, cfg.IterationCap)

	byCentroid := make([][]EmbeddingRecord, k)
	for i, c := range assignments {
		byCentroid[c] = append(byCentroid[c], records[i])
	}

	maxReps := cfg.RepresentativesPerCluster
	if maxReps <= 0 {
		maxReps = 16
	}

	clusters := make([]Cluster, k)
	for c := 0; c < k; c++ {
		members := byCentroid[c]
		reps := selectRepresentatives(members, centroids[c], cfg.Threshold, maxReps)
		clusters[c] = Cluster{
			Centroid:        vector.Clone(centroids[c]),
			Members:         members,
			Representatives: reps,
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return len(clusters[i].Members) > len(clusters[j].Members)
	})
	for i := range clusters {
		clusters[i].ID = i + 1
	}

	return ClusterSet{
		Clusters:  clusters,
		Centroids: centroids,
	}
}

// initCentroids picks the starting centroids: warm start when a
// same-length previous set is supplied, otherwise K-Means++ cold start.
func (e *Engine) initCentroids(records []EmbeddingRecord, k, dim int, previous [][]float32) [][]float32 {
	if len(previous) == k {
		out := make([][]float32, k)
		for i, c := range previous {
			out[i] = vector.Clone(c)
		}
		return out
	}
	return e.kMeansPlusPlus(records, k, dim)
}

// kMeansPlusPlus seeds k centroids: the first uniformly at random, each
// subsequent drawn with probability proportional to its squared minimum
// cosine distance from the centroids chosen so far.
func (e *Engine) kMeansPlusPlus(records []EmbeddingRecord, k, dim int) [][]float32 {
	centroids := make([][]float32, 0, k)
	first := e.rng.Intn(len(records))
	centroids = append(centroids, vector.Clone(records[first].Vector))

	for len(centroids) < k {
		weights := make([]float64, len(records))
		var total float64
		for i, r := range records {
			minDist := math.MaxFloat64
			for _, c := range centroids {
				d := vector.CosineDistance(r.Vector, c)
				if d < minDist {
					minDist = d
				}
			}
			w := minDist * minDist
			weights[i] = w
			total += w
		}

		if total <= 0 {
			centroids = append(centroids, vector.Clone(records[len(records)-1].Vector))
			continue
		}

		target := e.rng.Float64() * total
		var cum float64
		chosen := len(records) - 1
		for i, w := range weights {
			cum += w
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, vector.Clone(records[chosen].Vector))
	}

	_ = dim
	return centroids
}

// lloyd runs assignment/update iterations until convergence or the
// iteration cap, mutating centroids in place, and returns the final
// per-record assignment (index into centroids).
func (e *Engine) lloyd(records []EmbeddingRecord, centroids [][]float32, iterationCap int) []int {
	dim := len(records[0].Vector)
	assignments := make([]int, len(records))
	for i := range assignments {
		assignments[i] = -1
	}

	accs := make([]*vector.Accumulator, len(centroids))
	for i := range accs {
		accs[i] = vector.NewAccumulator(dim)
	}

	for iter := 0; iter < iterationCap; iter++ {
		changed := false
		for i, r := range records {
			best := 0
			bestDist := vector.CosineDistance(r.Vector, centroids[0])
			for c := 1; c < len(centroids); c++ {
				d := vector.CosineDistance(r.Vector, centroids[c])
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if assignments[i] != best {
				changed = true
				assignments[i] = best
			}
		}

		if !changed && iter > 0 {
			break
		}

		for _, a := range accs {
			a.Reset()
		}
		for i, r := range records {
			accs[assignments[i]].Add(r.Vector)
		}

		for c, a := range accs {
			if a.Count() == 0 {
				orphan := e.rng.Intn(len(records))
				centroids[c] = vector.Clone(records[orphan].Vector)
				continue
			}
			a.Mean(centroids[c])
		}
	}

	return assignments
}

// RankByCentroid returns members sorted by ascending cosine distance to
// centroid, stably.
func RankByCentroid(members []EmbeddingRecord, centroid []float32) []EmbeddingRecord {
	type pair struct {
		record EmbeddingRecord
		dist   float64
	}
	pairs := make([]pair, len(members))
	for i, m := range members {
		pairs[i] = pair{record: m, dist: vector.CosineDistance(m.Vector, centroid)}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })

	ranked := make([]EmbeddingRecord, len(pairs))
	for i, p := range pairs {
		ranked[i] = p.record
	}
	return ranked
}

// GreedyDedup walks orderedCandidates in the order given (it does not
// re-rank) and accepts a candidate if its cosine distance to every
// already-accepted representative is at least threshold, stopping at max
// accepted or list end. This is the shared engine behind both plain
// representative selection (§4.3.3) and frozen-cluster enforcement, where
// the caller controls group priority via the input order.
func GreedyDedup(orderedCandidates []EmbeddingRecord, threshold float64, max int) []Representative {
	reps := make([]Representative, 0, max)
	for _, c := range orderedCandidates {
		if len(reps) >= max {
			break
		}
		ok := true
		for _, accepted := range reps {
			if vector.CosineDistance(c.Vector, accepted.Vector) < threshold {
				ok = false
				break
			}
		}
		if ok {
			reps = append(reps, Representative{EmbeddingRecord: c})
		}
	}
	return reps
}

// selectRepresentatives ranks members by ascending cosine distance to the
// centroid and greedily accepts candidates at least threshold away from
// every representative accepted so far, stopping at max or list end
// (§4.3.3).
func selectRepresentatives(members []EmbeddingRecord, centroid []float32, threshold float64, max int) []Representative {
	if len(members) == 0 {
		return nil
	}
	return GreedyDedup(RankByCentroid(members, centroid), threshold, max)
}
