package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"VaultPulse/internal/domain/models"
	applogger "VaultPulse/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Collector feeds the pipeline from the venue.
type Collector interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Pipeline drains buffered events on Stop.
type Pipeline interface {
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Refresher ticks snapshots and publishes the sealed final one.
type Refresher interface {
	Run(ctx context.Context) error
	Final() *models.MetricsSnapshot
}

// Dispatcher flushes and closes its sinks on Stop.
type Dispatcher interface {
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Runner interface {
	Run(ctx context.Context) error
}

// Background is a self-managed worker such as the Kafka consumer or the
// alert queue.
type Background interface {
	Start() error
	Stop(ctx context.Context) error
}

type HTTPServer interface {
	Serve() error
	Stop(ctx context.Context) error
}

// Closer releases one piece of infrastructure at the end of shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// Components is everything the App drives. Optional parts may be nil.
type Components struct {
	Collector  Collector
	Pipeline   Pipeline
	Refresher  Refresher
	Dispatcher Dispatcher
	Poller     Runner
	// Sources feed events and stop with the collector.
	Sources []Background
	// Workers consume published output and stop after the sinks flush.
	Workers []Background
	HTTP    HTTPServer
	Closers []Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	c               Components
	log             *applogger.Logger
	shutdownTimeout time.Duration
	signals         []os.Signal
}

type Option func(*App)

func WithLogger(l *applogger.Logger) Option { return func(a *App) { a.log = l } }

func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// WithSignals overrides the signals that trigger shutdown. No signals means
// only ctx cancellation stops the app.
func WithSignals(sig ...os.Signal) Option { return func(a *App) { a.signals = sig } }

// New creates a new App instance with all dependencies.
func New(c Components, opts ...Option) *App {
	a := &App{
		c:               c,
		log:             applogger.Nop(),
		shutdownTimeout: 15 * time.Second,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run starts every component and blocks until ctx is cancelled, a signal
// arrives or a component fails. It then shuts down in order.
func (a *App) Run(ctx context.Context) error {
	if len(a.signals) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, a.signals...)
		defer stop()
	}

	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	g, gctx := errgroup.WithContext(workCtx)

	g.Go(func() error { return a.c.Pipeline.Run(gctx) })
	g.Go(func() error { return a.c.Dispatcher.Run(gctx) })

	loopCtx, cancelLoops := context.WithCancel(gctx)
	defer cancelLoops()
	loops, _ := errgroup.WithContext(loopCtx)
	loops.Go(func() error { return a.c.Refresher.Run(loopCtx) })
	if a.c.Poller != nil {
		loops.Go(func() error { return a.c.Poller.Run(loopCtx) })
	}

	stopLoops := func() {
		cancelLoops()
		_ = loops.Wait()
	}

	startErr := a.start(gctx)
	if startErr == nil {
		if a.c.HTTP != nil {
			g.Go(a.c.HTTP.Serve)
		}
		a.log.Info("vaultpulse started")
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
		case <-gctx.Done():
			a.log.Error("component failed, shutting down")
		}
	} else {
		a.log.Error("startup failed", applogger.Error(startErr))
	}

	shutErr := a.shutdown(stopLoops)
	cancelWork()
	runErr := g.Wait()
	return errors.Join(startErr, runErr, shutErr)
}

func (a *App) start(ctx context.Context) error {
	for _, w := range a.c.Workers {
		if err := w.Start(); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	}
	for _, s := range a.c.Sources {
		if err := s.Start(); err != nil {
			return fmt.Errorf("start source: %w", err)
		}
	}
	if a.c.Collector != nil {
		if err := a.c.Collector.Start(ctx); err != nil {
			return fmt.Errorf("start collector: %w", err)
		}
	}
	return nil
}

// shutdown stops inputs, drains the pipeline, publishes the final snapshot,
// flushes sinks and only then releases infrastructure.
func (a *App) shutdown(stopLoops func()) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	var errs []error
	step := func(name string, err error) {
		if err != nil {
			a.log.Warn("shutdown step failed", applogger.String("step", name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.c.Collector != nil {
		step("collector", a.c.Collector.Stop(ctx))
	}
	for _, s := range a.c.Sources {
		step("source", s.Stop(ctx))
	}
	step("pipeline", a.c.Pipeline.Stop(ctx))

	stopLoops()
	if snap := a.c.Refresher.Final(); snap != nil {
		a.log.Info("final snapshot", applogger.Uint64("generation", snap.Generation))
	}
	step("dispatcher", a.c.Dispatcher.Stop(ctx))

	for _, w := range a.c.Workers {
		step("worker", w.Stop(ctx))
	}
	if a.c.HTTP != nil {
		step("http", a.c.HTTP.Stop(ctx))
	}
	for _, c := range a.c.Closers {
		step(c.Name, c.Close())
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
