// Package producer draws unprocessed image handles from a pool, embeds
// them in batches, and flushes accumulated records to the Store on a
// fixed cadence.
package producer

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
)

// yieldInterval bounds how long Run blocks between batches so the
// presentation surface stays responsive (§5's ≤30ms suspension point).
const yieldInterval = 30 * time.Millisecond

// ImageHandle is one unprocessed path plus a means to load its bytes —
// the Scanner's output contract (§6).
type ImageHandle struct {
	Path string
	Open func() ([]byte, error)
}

// Sink receives the Producer's output: completed batches, persistence,
// the downstream re-cluster trigger, and paths that could not be
// embedded. Decoupling from the concrete Store/Coordinator types keeps
// the Producer testable in isolation.
type Sink interface {
	PutMany(records []cluster.EmbeddingRecord) error
	// MarkFailed records paths whose embedding failed (a decode error or
	// an Embedder error) so they are excluded from future scans instead
	// of being retried forever (§7's EmbedderFailure handling).
	MarkFailed(paths []string) error
	Persist(ctx context.Context) error
	RequestRecluster()
}

// Config holds the two tunables the Producer reads on every flush
// decision (§6): BatchSize is B, FlushEvery is R.
type Config struct {
	BatchSize  int
	FlushEvery int
}

// DefaultConfig returns the source's documented defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 4, FlushEvery: 20}
}

// Producer draws unprocessed paths uniformly at random without
// replacement, embeds them in batches via a single Embedder (calls are
// serialized, never assumed concurrency-safe), and flushes to its Sink
// every FlushEvery produced records or when the pool empties.
type Producer struct {
	mu       sync.Mutex
	embedder Embedder
	sink     Sink
	cfg      Config
	rng      *rand.Rand

	paused  bool
	aborted bool

	pending        []cluster.EmbeddingRecord
	sinceLastFlush int

	// onProcessed, if set, is called with the number of images embedded
	// after each batch — a hook for CLI progress reporting.
	onProcessed func(n int)
}

// New constructs a Producer. rng may be nil, in which case a
// deterministically seeded default is used (tests should pass their own).
func New(embedder Embedder, sink Sink, cfg Config, rng *rand.Rand) *Producer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 20
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Producer{embedder: embedder, sink: sink, cfg: cfg, rng: rng}
}

// SetOnProcessed installs a callback invoked with the size of each
// successfully embedded batch. Intended for progress bars; must return
// quickly since it runs on the Producer's own goroutine.
func (p *Producer) SetOnProcessed(fn func(n int)) {
	p.mu.Lock()
	p.onProcessed = fn
	p.mu.Unlock()
}

// SetFlushEvery updates R; only the next flush decision onward uses the
// new value (§4.2: "R may be changed mid-run").
func (p *Producer) SetFlushEvery(r int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r > 0 {
		p.cfg.FlushEvery = r
	}
}

// Pause and Resume are level-triggered: Run polls the paused flag between
// batches rather than stopping outright.
func (p *Producer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *Producer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Abort is terminal: Run stops starting new batches and drains the
// current pending buffer with one final flush.
func (p *Producer) Abort() {
	p.mu.Lock()
	p.aborted = true
	p.mu.Unlock()
}

func (p *Producer) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) isAborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}

// Run drains pool, embedding unprocessed handles in batches of BatchSize
// until the pool is empty, the context is cancelled, or Abort is called.
// It returns after the final flush.
func (p *Producer) Run(ctx context.Context, pool []ImageHandle) error {
	remaining := make([]ImageHandle, len(pool))
	copy(remaining, pool)

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return p.flushFinal(ctx, err)
		}
		if p.isAborted() {
			return p.flushFinal(ctx, nil)
		}
		if p.isPaused() {
			if err := sleepOrDone(ctx); err != nil {
				return p.flushFinal(ctx, err)
			}
			continue
		}

		batch := p.takeBatch(&remaining)
		failedPaths, err := p.processBatch(ctx, batch)
		if err != nil {
			log.Printf("producer: batch embedding failed, marking %d paths processed: %v", len(failedPaths), err)
		}
		if len(failedPaths) > 0 {
			if err := p.sink.MarkFailed(failedPaths); err != nil {
				log.Printf("producer: failed to record %d failed paths: %v", len(failedPaths), err)
			}
		}

		if p.shouldFlush() {
			if err := p.flush(ctx); err != nil {
				return err
			}
		}

		if err := sleepOrDone(ctx); err != nil {
			return p.flushFinal(ctx, err)
		}
	}

	return p.flush(ctx)
}

func sleepOrDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(yieldInterval):
		return nil
	}
}

// takeBatch removes up to BatchSize handles from remaining, chosen
// uniformly at random without replacement (swap-with-last).
func (p *Producer) takeBatch(remaining *[]ImageHandle) []ImageHandle {
	p.mu.Lock()
	batchSize := p.cfg.BatchSize
	p.mu.Unlock()

	r := *remaining
	if batchSize > len(r) {
		batchSize = len(r)
	}
	batch := make([]ImageHandle, batchSize)
	for i := 0; i < batchSize; i++ {
		idx := p.rng.Intn(len(r))
		batch[i] = r[idx]
		r[idx] = r[len(r)-1]
		r = r[:len(r)-1]
	}
	*remaining = r
	return batch
}

// processBatch decodes every handle, invokes the Embedder once for the
// whole batch, and appends the resulting records to pending. It returns
// every path that could not be embedded — a per-image open/decode
// failure, or every still-unresolved path in the batch when the
// Embedder call itself fails — so the caller can mark them failed and
// stop retrying a poisoned input forever (§7's EmbedderFailure
// handling). A non-nil error here is not itself fatal to Run.
func (p *Producer) processBatch(ctx context.Context, batch []ImageHandle) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	var failed []string
	images := make([][]byte, 0, len(batch))
	paths := make([]string, 0, len(batch))
	for _, h := range batch {
		data, err := h.Open()
		if err != nil {
			log.Printf("producer: failed to open %q, marking failed: %v", h.Path, err)
			failed = append(failed, h.Path)
			continue
		}
		resized, err := resizeForEmbedding(data)
		if err != nil {
			log.Printf("producer: failed to decode %q, marking failed: %v", h.Path, err)
			failed = append(failed, h.Path)
			continue
		}
		images = append(images, resized)
		paths = append(paths, h.Path)
	}
	if len(images) == 0 {
		return failed, nil
	}

	vectors, err := p.embedder.Embed(ctx, images)
	if err != nil {
		return append(failed, paths...), fmt.Errorf("embed batch of %d: %w", len(images), err)
	}

	p.mu.Lock()
	onProcessed := p.onProcessed
	for i, v := range vectors {
		p.pending = append(p.pending, cluster.EmbeddingRecord{Path: paths[i], Vector: v})
		p.sinceLastFlush++
	}
	p.mu.Unlock()

	if onProcessed != nil {
		onProcessed(len(vectors))
	}
	return failed, nil
}

func (p *Producer) shouldFlush() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sinceLastFlush >= p.cfg.FlushEvery
}

// flush hands pending records to the Sink: put_many, persist, and notify
// the Coordinator, per §4.2's three-step flush. A no-op if nothing is
// pending.
func (p *Producer) flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.sinceLastFlush = 0
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := p.sink.PutMany(batch); err != nil {
		return fmt.Errorf("producer flush: %w", err)
	}
	if err := p.sink.Persist(ctx); err != nil {
		log.Printf("producer: persist failed, will retry on next flush: %v", err)
	}
	p.sink.RequestRecluster()
	return nil
}

// flushFinal performs the drain flush on cancellation/abort and returns
// firstErr if non-nil, otherwise the flush's own error (if any).
func (p *Producer) flushFinal(ctx context.Context, firstErr error) error {
	if err := p.flush(ctx); err != nil && firstErr == nil {
		return err
	}
	return firstErr
}
