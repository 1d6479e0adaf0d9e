package middleware

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"VaultPulse/internal/domain/models"
	domrepo "VaultPulse/internal/domain/repository"
	"VaultPulse/pkg/logger"
)

// Applier is the single writer the pipeline feeds, normally the state manager.
type Applier interface {
	Ingest(ev models.Event) error
}

// PipelineStats are cumulative counters.
type PipelineStats struct {
	Submitted   uint64 `json:"submitted"`
	Rejected    uint64 `json:"rejected"`
	Overload    uint64 `json:"overload"`
	LateDropped uint64 `json:"late_dropped"`
	Applied     uint64 `json:"applied"`
	ApplyErrors uint64 `json:"apply_errors"`
}

// IngestPipeline sits between the collectors and the state manager.
// It validates, enqueues without blocking and resequences each asset's events
// inside a short reorder window before applying them in timestamp order.
type IngestPipeline struct {
	applier Applier
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	queueSize int
	window    time.Duration
	inCh      chan models.Event
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu      sync.RWMutex
	started bool
	stopped bool

	forgetMu  sync.Mutex
	forgotten []string

	// owned by the run goroutine
	pending   map[string]*eventHeap
	maxSeen   map[string]time.Time
	watermark map[string]time.Time
	seq       uint64

	submitted, rejected, overload, late, applied, applyErrs atomic.Uint64
}

type PipelineOption func(*IngestPipeline)

// WithQueueSize bounds the submit queue.
func WithQueueSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithReorderWindow sets how long events may wait to be resequenced. Zero
// applies events in arrival order.
func WithReorderWindow(d time.Duration) PipelineOption {
	return func(p *IngestPipeline) {
		if d >= 0 {
			p.window = d
		}
	}
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *IngestPipeline) { p.log = l }
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *IngestPipeline) { p.now = now }
}

// NewIngestPipeline creates a stopped pipeline; call Run to start applying.
func NewIngestPipeline(applier Applier, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		applier:   applier,
		metrics:   metrics,
		log:       logger.Nop(),
		now:       time.Now,
		queueSize: 8192,
		window:    250 * time.Millisecond,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		pending:   make(map[string]*eventHeap),
		maxSeen:   make(map[string]time.Time),
		watermark: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.inCh = make(chan models.Event, p.queueSize)
	return p
}

// Submit validates and enqueues an event. It never blocks: a full queue
// returns ErrOverload so the producer can see the back-pressure.
func (p *IngestPipeline) Submit(ctx context.Context, ev models.Event) error {
	if err := ev.Validate(); err != nil {
		p.rejected.Add(1)
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return models.ErrClosed
	}
	select {
	case p.inCh <- ev:
		p.submitted.Add(1)
		return nil
	default:
		p.overload.Add(1)
		p.metrics.RecordError("pipeline_overload")
		return fmt.Errorf("%w: queue of %d full", models.ErrOverload, p.queueSize)
	}
}

// Run applies events until ctx is cancelled or Stop is called, then drains
// whatever is buffered in timestamp order. It returns once drained.
func (p *IngestPipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("ingest pipeline already running")
	}
	p.started = true
	p.mu.Unlock()
	defer close(p.doneCh)

	tick := p.window / 4
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.stopped = true
			p.mu.Unlock()
			p.drain()
			return nil
		case <-p.stopCh:
			p.drain()
			return nil
		case ev := <-p.inCh:
			p.push(ev)
			p.release(ev.Asset(), p.now())
			p.metrics.RecordLatency("pipeline_queue_depth", float64(len(p.inCh)))
		case <-ticker.C:
			now := p.now()
			for asset := range p.pending {
				p.release(asset, now)
			}
			p.trim()
		}
	}
}

// Stop refuses new submissions and waits until Run has drained. Safe to call
// more than once and before Run.
func (p *IngestPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()
	close(p.stopCh)

	if !started {
		return nil
	}
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forget drops the reorder bookkeeping of a pruned asset. The run goroutine
// applies it on its next tick.
func (p *IngestPipeline) Forget(asset string) {
	p.forgetMu.Lock()
	p.forgotten = append(p.forgotten, asset)
	p.forgetMu.Unlock()
}

// trim runs on the run goroutine. An asset with events still pending is
// active again and keeps its state.
func (p *IngestPipeline) trim() {
	p.forgetMu.Lock()
	assets := p.forgotten
	p.forgotten = nil
	p.forgetMu.Unlock()
	for _, asset := range assets {
		if _, busy := p.pending[asset]; busy {
			continue
		}
		delete(p.maxSeen, asset)
		delete(p.watermark, asset)
	}
}

// Stats returns a copy of the counters.
func (p *IngestPipeline) Stats() PipelineStats {
	return PipelineStats{
		Submitted:   p.submitted.Load(),
		Rejected:    p.rejected.Load(),
		Overload:    p.overload.Load(),
		LateDropped: p.late.Load(),
		Applied:     p.applied.Load(),
		ApplyErrors: p.applyErrs.Load(),
	}
}

// QueueDepth is the number of events waiting to be picked up by Run.
func (p *IngestPipeline) QueueDepth() int { return len(p.inCh) }

func (p *IngestPipeline) push(ev models.Event) {
	asset := ev.Asset()
	ts := ev.Time()
	if wm, ok := p.watermark[asset]; ok && ts.Before(wm) {
		p.late.Add(1)
		p.metrics.RecordError("pipeline_late_drop")
		return
	}
	h, ok := p.pending[asset]
	if !ok {
		h = &eventHeap{}
		p.pending[asset] = h
	}
	p.seq++
	heap.Push(h, queued{ev: ev, ts: ts, arrived: p.now(), seq: p.seq})
	if ts.After(p.maxSeen[asset]) {
		p.maxSeen[asset] = ts
	}
}

// release applies the asset's events that are either older than the newest
// seen timestamp minus the window or have waited one window of wall time.
func (p *IngestPipeline) release(asset string, now time.Time) {
	h, ok := p.pending[asset]
	if !ok {
		return
	}
	horizon := p.maxSeen[asset].Add(-p.window)
	for h.Len() > 0 {
		top := (*h)[0]
		if p.window > 0 && top.ts.After(horizon) && now.Sub(top.arrived) < p.window {
			break
		}
		heap.Pop(h)
		p.apply(top)
	}
	if h.Len() == 0 {
		delete(p.pending, asset)
	}
}

func (p *IngestPipeline) drain() {
	for len(p.inCh) > 0 {
		p.push(<-p.inCh)
	}

	var all []queued
	for asset, h := range p.pending {
		all = append(all, *h...)
		delete(p.pending, asset)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].less(all[j]) })
	for _, q := range all {
		p.apply(q)
	}
	if len(all) > 0 {
		p.log.Info("ingest pipeline drained", logger.Int("events", len(all)))
	}
}

func (p *IngestPipeline) apply(q queued) {
	asset := q.ev.Asset()
	if q.ts.After(p.watermark[asset]) {
		p.watermark[asset] = q.ts
	}
	if err := p.applier.Ingest(q.ev); err != nil {
		p.applyErrs.Add(1)
		p.metrics.RecordError("pipeline_apply")
		p.log.Debug("event not applied", logger.String("asset", asset), logger.Error(err))
		return
	}
	p.applied.Add(1)
}

type queued struct {
	ev      models.Event
	ts      time.Time
	arrived time.Time
	seq     uint64
}

func (a queued) less(b queued) bool {
	if a.ts.Equal(b.ts) {
		return a.seq < b.seq
	}
	return a.ts.Before(b.ts)
}

type eventHeap []queued

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(queued)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
