package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"VaultPulse/internal/domain/models"
	drepo "VaultPulse/internal/domain/repository"
	"VaultPulse/pkg/logger"
)

// ErrDispatchClosed is returned by Dispatch after Stop.
var ErrDispatchClosed = errors.New("dispatcher closed")

type dispatchJob struct {
	snap   *models.MetricsSnapshot
	alerts []models.Alert
}

// sinkWorker owns one bounded queue so a slow backend only drops its own
// snapshots.
type sinkWorker struct {
	name  string
	queue chan dispatchJob
	write func(context.Context, dispatchJob) error
	close func() error
}

// Dispatcher fans snapshots and alerts out to the configured sinks without
// blocking the refresher.
type Dispatcher struct {
	workers []*sinkWorker
	metrics drepo.Metrics
	log     *logger.Logger
	timeout time.Duration

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithDispatchLogger(l *logger.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// WithWriteTimeout bounds a single sink write.
func WithWriteTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// NewDispatcher creates a dispatcher with one queue of queueSize per sink.
func NewDispatcher(
	snapshots []drepo.SnapshotSink,
	alerts []drepo.AlertSink,
	metrics drepo.Metrics,
	queueSize int,
	opts ...DispatcherOption,
) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{metrics: metrics, log: logger.Nop(), timeout: 5 * time.Second}
	for _, o := range opts {
		o(d)
	}
	for _, s := range snapshots {
		if s == nil {
			continue
		}
		sink := s
		d.workers = append(d.workers, &sinkWorker{
			name:  sink.Name(),
			queue: make(chan dispatchJob, queueSize),
			write: func(ctx context.Context, j dispatchJob) error {
				return sink.WriteSnapshot(ctx, j.snap)
			},
			close: sink.Close,
		})
	}
	for _, s := range alerts {
		if s == nil {
			continue
		}
		sink := s
		d.workers = append(d.workers, &sinkWorker{
			name:  sink.Name() + "_alerts",
			queue: make(chan dispatchJob, queueSize),
			write: func(ctx context.Context, j dispatchJob) error {
				if len(j.alerts) == 0 {
					return nil
				}
				return sink.DeliverAlerts(ctx, j.alerts)
			},
		})
	}
	return d
}

// Run starts one goroutine per sink. It returns when ctx is done and every
// queue has been drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	for _, w := range d.workers {
		d.wg.Add(1)
		go d.loop(w)
	}
	<-ctx.Done()
	return nil
}

func (d *Dispatcher) loop(w *sinkWorker) {
	defer d.wg.Done()
	for job := range w.queue {
		d.send(w, job)
	}
}

func (d *Dispatcher) send(w *sinkWorker, job dispatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	start := time.Now()
	if err := w.write(ctx, job); err != nil {
		d.metrics.RecordError("sink_" + w.name)
		d.log.Warn("sink write failed", logger.String("sink", w.name), logger.Error(err))
		return
	}
	d.metrics.RecordMessageSent(w.name, "snapshot")
	d.metrics.RecordLatency("sink_"+w.name, time.Since(start).Seconds())
}

// Dispatch enqueues a snapshot and its alerts on every sink. A full sink
// queue drops the job for that sink only and counts dispatch_drop.
func (d *Dispatcher) Dispatch(snap *models.MetricsSnapshot, alerts []models.Alert) error {
	if snap == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatchClosed
	}
	job := dispatchJob{snap: snap, alerts: alerts}
	for _, w := range d.workers {
		select {
		case w.queue <- job:
		default:
			d.metrics.RecordError("dispatch_drop")
			d.log.Debug("sink queue full", logger.String("sink", w.name), logger.Uint64("generation", snap.Generation))
		}
	}
	return nil
}

// Stop closes the queues, waits for the workers to flush and closes the
// sinks. Goroutines still writing when ctx expires are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	for _, w := range d.workers {
		if w.close == nil {
			continue
		}
		if cerr := w.close(); cerr != nil {
			d.log.Warn("sink close failed", logger.String("sink", w.name), logger.Error(cerr))
		}
	}
	return err
}

// Sinks lists the sink names in registration order.
func (d *Dispatcher) Sinks() []string {
	out := make([]string, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w.name)
	}
	return out
}
