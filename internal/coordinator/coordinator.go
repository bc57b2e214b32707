// Package coordinator owns the single re-cluster request queue: it
// coalesces concurrent requests into at most one follow-up pass, runs
// the Clustering Engine, applies frozen-cluster constraints, and
// publishes the result to the presentation surface.
package coordinator

import (
	"context"
	"log"
	"sync"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
	"github.com/kozaktomas/cluster-sorter/internal/freeze"
)

// ValidRecords supplies the current non-excluded embedding set — the
// input to clustering (§4.1 valid()).
type ValidRecords interface {
	Valid() []cluster.EmbeddingRecord
}

// Presentation is the sink the Coordinator publishes finished passes to
// (§6).
type Presentation interface {
	Render(cs cluster.ClusterSet)
}

// Coordinator serializes and coalesces re-cluster requests. Safe for
// concurrent use; RequestRecluster is the one entry point for a pass, called
// by producer flushes (through NewProducerSink) and by UpdateConfig. The
// webui exclude/restore handlers do not call it, so an exclusion or restore
// shows up only in the next pass started by one of those callers.
type Coordinator struct {
	mu sync.Mutex

	store        ValidRecords
	engine       *cluster.Engine
	freezeMgr    *freeze.Manager
	presentation Presentation
	cfg          cluster.Config

	isClustering     bool
	pendingRecluster bool

	latest           cluster.ClusterSet
	latestCentroids  [][]float32
}

// New constructs a Coordinator wired to its collaborators. cfg is the
// initial clustering configuration; UpdateConfig changes it later.
func New(store ValidRecords, engine *cluster.Engine, freezeMgr *freeze.Manager, presentation Presentation, cfg cluster.Config) *Coordinator {
	return &Coordinator{
		store:        store,
		engine:       engine,
		freezeMgr:    freezeMgr,
		presentation: presentation,
		cfg:          cfg,
	}
}

// UpdateConfig changes k/threshold/etc. Changing K invalidates the warm
// start: the length mismatch against latestCentroids is detected
// naturally by the Engine on the next pass. Schedules an immediate
// re-cluster (§6).
func (c *Coordinator) UpdateConfig(cfg cluster.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.RequestRecluster()
}

// RequestRecluster is the single entry point for triggering a pass. If a
// pass is already running, it marks pendingRecluster and returns
// immediately — the in-flight pass's completion triggers the follow-up.
// Otherwise it runs a pass synchronously on the caller's goroutine,
// mirroring the spec's single-threaded-orchestrator model (§5): callers
// that need this off the hot path should invoke it from their own worker
// goroutine.
func (c *Coordinator) RequestRecluster() {
	c.mu.Lock()
	if c.isClustering {
		c.pendingRecluster = true
		c.mu.Unlock()
		return
	}
	c.isClustering = true
	c.mu.Unlock()

	c.runPass()

	for {
		c.mu.Lock()
		if !c.pendingRecluster {
			c.isClustering = false
			c.mu.Unlock()
			return
		}
		c.pendingRecluster = false
		c.mu.Unlock()

		c.runPass()
	}
}

// runPass executes one full cycle: Engine.UpdateClusters, freeze
// enforcement, presentation publish, centroid retention.
func (c *Coordinator) runPass() {
	c.mu.Lock()
	cfg := c.cfg
	previousCentroids := c.latestCentroids
	c.mu.Unlock()

	records := c.store.Valid()
	cs := c.engine.UpdateClusters(records, cfg, previousCentroids)

	applied := c.freezeMgr.Apply(&cs, cfg)

	c.mu.Lock()
	c.latest = *applied
	c.latestCentroids = applied.Centroids
	c.mu.Unlock()

	if c.presentation != nil {
		c.presentation.Render(*applied)
	} else {
		log.Printf("coordinator: pass complete with %d clusters, no presentation attached", len(applied.Clusters))
	}
}

// Latest returns the most recently published ClusterSet.
func (c *Coordinator) Latest() cluster.ClusterSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Freeze pins the cluster at clusterIndex in the most recent ClusterSet.
func (c *Coordinator) Freeze(clusterIndex int) error {
	c.mu.Lock()
	cs := c.latest
	c.mu.Unlock()
	return c.freezeMgr.Freeze(&cs, clusterIndex)
}

// Unfreeze drops the frozen entry at clusterIndex and recomputes its
// representatives in place, without scheduling a new pass.
func (c *Coordinator) Unfreeze(clusterIndex int) {
	c.mu.Lock()
	cs := c.latest
	threshold := c.cfg.Threshold
	c.mu.Unlock()
	c.freezeMgr.Unfreeze(&cs, clusterIndex, threshold)
}

// sinkAdapter lets a *store.Store satisfy producer.Sink without the
// coordinator package importing producer (store already imports
// cluster; coordinator wires the two together at construction time in
// cmd/).
type sinkAdapter struct {
	Store interface {
		PutMany([]cluster.EmbeddingRecord) error
		MarkFailed(paths []string) error
		Persist(ctx context.Context) error
	}
	Coordinator *Coordinator
}

func (s sinkAdapter) PutMany(records []cluster.EmbeddingRecord) error { return s.Store.PutMany(records) }
func (s sinkAdapter) MarkFailed(paths []string) error                 { return s.Store.MarkFailed(paths) }
func (s sinkAdapter) Persist(ctx context.Context) error               { return s.Store.Persist(ctx) }
func (s sinkAdapter) RequestRecluster()                               { s.Coordinator.RequestRecluster() }

// NewProducerSink adapts a Store and Coordinator into the shape
// producer.Sink expects, without either package importing the other.
func NewProducerSink(store interface {
	PutMany([]cluster.EmbeddingRecord) error
	MarkFailed(paths []string) error
	Persist(ctx context.Context) error
}, c *Coordinator) sinkAdapter {
	return sinkAdapter{Store: store, Coordinator: c}
}
