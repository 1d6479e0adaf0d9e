package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultPulse/internal/domain/models"
	"VaultPulse/pkg/metrics"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingApplier struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingApplier) Ingest(ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingApplier) times() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Time().Sub(t0)
	}
	return out
}

func ev(asset string, offset time.Duration) models.Event {
	return models.NewTradeEvent(models.TradeEvent{Asset: asset, Timestamp: t0.Add(offset), Price: 100, Size: 1, Side: models.SideBuy})
}

func frozenClock() time.Time { return t0 }

func TestSubmitReturnsOverloadWhenQueueFull(t *testing.T) {
	p := NewIngestPipeline(&recordingApplier{}, metrics.Noop{}, WithQueueSize(2))

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, ev("BTC", 0)))
	require.NoError(t, p.Submit(ctx, ev("BTC", 1)))
	err := p.Submit(ctx, ev("BTC", 2))
	require.ErrorIs(t, err, models.ErrOverload)

	st := p.Stats()
	assert.Equal(t, uint64(2), st.Submitted)
	assert.Equal(t, uint64(1), st.Overload)
	assert.Equal(t, 2, p.QueueDepth())
}

func TestSubmitRejectsInvalidAndClosed(t *testing.T) {
	p := NewIngestPipeline(&recordingApplier{}, metrics.Noop{})
	ctx := context.Background()

	bad := models.NewTradeEvent(models.TradeEvent{Asset: "BTC", Timestamp: t0, Price: 0, Size: 1})
	require.ErrorIs(t, p.Submit(ctx, bad), models.ErrInvalidEvent)
	assert.Equal(t, uint64(1), p.Stats().Rejected)

	require.NoError(t, p.Stop(ctx))
	require.ErrorIs(t, p.Submit(ctx, ev("BTC", 0)), models.ErrClosed)
}

func TestPipelineReordersWithinWindow(t *testing.T) {
	app := &recordingApplier{}
	p := NewIngestPipeline(app, metrics.Noop{}, WithReorderWindow(100*time.Millisecond), WithPipelineClock(frozenClock))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for _, off := range []time.Duration{30, 10, 20} {
		require.NoError(t, p.Submit(ctx, ev("BTC", off*time.Millisecond)))
	}
	// pushes the watermark past the first three
	require.NoError(t, p.Submit(ctx, ev("BTC", 500*time.Millisecond)))

	assert.Eventually(t, func() bool { return len(app.times()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, app.times())

	// behind the released watermark
	require.NoError(t, p.Submit(ctx, ev("BTC", 5*time.Millisecond)))
	assert.Eventually(t, func() bool { return p.Stats().LateDropped == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, <-done)
	assert.Equal(t, 500*time.Millisecond, app.times()[3])
	assert.Equal(t, uint64(4), p.Stats().Applied)
}

func TestStopDrainsInTimestampOrder(t *testing.T) {
	app := &recordingApplier{}
	p := NewIngestPipeline(app, metrics.Noop{}, WithReorderWindow(time.Hour), WithPipelineClock(frozenClock))
	ctx := context.Background()

	require.NoError(t, p.Submit(ctx, ev("ETH", 3*time.Millisecond)))
	require.NoError(t, p.Submit(ctx, ev("BTC", 2*time.Millisecond)))
	require.NoError(t, p.Submit(ctx, ev("ETH", 1*time.Millisecond)))

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.NoError(t, p.Stop(ctx))
	require.NoError(t, <-done)

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, app.times())
}

func TestZeroWindowAppliesInArrivalOrder(t *testing.T) {
	app := &recordingApplier{}
	p := NewIngestPipeline(app, metrics.Noop{}, WithReorderWindow(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	require.NoError(t, p.Submit(ctx, ev("BTC", 2)))
	require.NoError(t, p.Submit(ctx, ev("BTC", 3)))
	assert.Eventually(t, func() bool { return len(app.times()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
}

func TestForgetClearsWatermarkOfPrunedAsset(t *testing.T) {
	app := &recordingApplier{}
	p := NewIngestPipeline(app, metrics.Noop{}, WithReorderWindow(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.NoError(t, p.Submit(ctx, ev("BTC", 10*time.Second)))
	require.Eventually(t, func() bool { return p.Stats().Applied == 1 }, time.Second, time.Millisecond)

	p.Forget("BTC")
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, p.Submit(ctx, ev("BTC", 0)))
	require.Eventually(t, func() bool { return p.Stats().Applied == 2 }, time.Second, time.Millisecond)
	assert.Zero(t, p.Stats().LateDropped)

	cancel()
	require.NoError(t, <-done)
}

func TestSubmitAfterRunCancelledIsClosed(t *testing.T) {
	p := NewIngestPipeline(&recordingApplier{}, metrics.Noop{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, p.Submit(context.Background(), ev("BTC", 0)), models.ErrClosed)
	assert.NoError(t, p.Stop(context.Background()))
}
