package usecase

import (
	"context"
	"errors"
	"sync"

	"VaultPulse/internal/domain/models"
	drepo "VaultPulse/internal/domain/repository"
	"VaultPulse/pkg/logger"
)

// Submitter accepts canonical events, normally the ingest pipeline.
type Submitter interface {
	Submit(ctx context.Context, ev models.Event) error
}

// EventCollector reads the market stream and feeds the pipeline, reconnecting
// whenever the stream ends.
type EventCollector struct {
	stream  drepo.MarketStream
	pipe    Submitter
	metrics drepo.Metrics
	log     *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEventCollector(stream drepo.MarketStream, pipe Submitter, metrics drepo.Metrics, log *logger.Logger) *EventCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &EventCollector{stream: stream, pipe: pipe, metrics: metrics, log: log}
}

// IsConnected returns true if the market stream is connected.
func (c *EventCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and consumes in the background.
func (c *EventCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		_ = c.stream.Close()
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *EventCollector) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		evCh, errCh := c.stream.Read(ctx)
		err := c.consume(ctx, evCh, errCh)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		c.log.Warn("market stream ended, reconnecting", logger.Error(err))
		if err := c.stream.Reconnect(ctx); err != nil {
			if ctx.Err() == nil {
				c.log.Error("market stream reconnect gave up", logger.Error(err))
			}
			return
		}
	}
}

// consume forwards events until the stream ends. It returns the stream
// error, if any.
func (c *EventCollector) consume(ctx context.Context, evCh <-chan models.Event, errCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return err
			}
			errCh = nil
		case ev, ok := <-evCh:
			if !ok {
				return errors.New("market stream closed")
			}
			c.forward(ctx, ev)
		}
	}
}

func (c *EventCollector) forward(ctx context.Context, ev models.Event) {
	err := c.pipe.Submit(ctx, ev)
	switch {
	case err == nil:
		if ev.Trade != nil {
			c.metrics.RecordLastPrice(ev.Trade.Asset, ev.Trade.Price)
		}
	case errors.Is(err, models.ErrOverload), errors.Is(err, models.ErrInvalidEvent):
		// counted by the pipeline
	case errors.Is(err, models.ErrClosed):
		c.log.Debug("pipeline closed, dropping event", logger.String("asset", ev.Asset()))
	default:
		c.log.Warn("submit failed", logger.Error(err))
	}
}

// Stop cancels consumption, closes the stream and waits for the reader.
func (c *EventCollector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
