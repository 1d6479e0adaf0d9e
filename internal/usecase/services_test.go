package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultPulse/internal/domain/models"
	drepo "VaultPulse/internal/domain/repository"
)

func runDispatcher(t *testing.T, d *Dispatcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel
}

func TestDispatcherFansOutAndCloses(t *testing.T) {
	a := &memorySink{name: "a"}
	b := &memorySink{name: "b"}
	m := newCountingMetrics()
	d := NewDispatcher([]drepo.SnapshotSink{a, b}, []drepo.AlertSink{a}, m, 8)
	assert.Equal(t, []string{"a", "b", "a_alerts"}, d.Sinks())
	runDispatcher(t, d)

	alert := models.Alert{ID: "x", Level: models.AlertWarning}
	require.NoError(t, d.Dispatch(&models.MetricsSnapshot{Generation: 1}, nil))
	require.NoError(t, d.Dispatch(&models.MetricsSnapshot{Generation: 2}, []models.Alert{alert}))

	require.Eventually(t, func() bool { return len(b.Generations()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, []uint64{1, 2}, a.Generations())
	assert.Equal(t, []models.Alert{alert}, a.Alerts())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.ErrorIs(t, d.Dispatch(&models.MetricsSnapshot{Generation: 3}, nil), ErrDispatchClosed)
}

func TestDispatcherDropsOnlyForSlowSink(t *testing.T) {
	slow := &memorySink{name: "slow", block: make(chan struct{})}
	fast := &memorySink{name: "fast"}
	m := newCountingMetrics()
	d := NewDispatcher([]drepo.SnapshotSink{slow, fast}, nil, m, 1)
	runDispatcher(t, d)

	for gen := uint64(1); gen <= 5; gen++ {
		require.NoError(t, d.Dispatch(&models.MetricsSnapshot{Generation: gen}, nil))
		require.Eventually(t, func() bool { return len(fast.Generations()) == int(gen) }, time.Second, time.Millisecond)
	}
	assert.GreaterOrEqual(t, m.Errors("dispatch_drop"), 3)

	close(slow.block)
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, fast.Generations())
	assert.Less(t, len(slow.Generations()), 5)
}

func TestAccountPollerKeepsLastGoodAccount(t *testing.T) {
	clock := &fakeClock{now: t0}
	acct := &models.AccountState{Equity: 1000, MarginUsed: 100, Timestamp: t0}
	src := &scriptedAccounts{acct: acct}
	m := newCountingMetrics()
	p := NewAccountPoller(src, m, time.Second, WithPollerClock(clock.Now))

	assert.Nil(t, p.Current())
	p.Poll(context.Background())
	assert.Same(t, acct, p.Current())

	src.Fail(errFetch)
	clock.Set(t0.Add(2 * time.Second))
	p.Poll(context.Background())
	assert.Same(t, acct, p.Current(), "failure keeps the previous account")
	assert.ErrorIs(t, p.LastError(), errFetch)
	assert.Equal(t, 1, m.Errors("account_poll"))

	clock.Set(t0.Add(4 * time.Second))
	assert.Nil(t, p.Current(), "older than three intervals")
}

func TestAccountPollerClampsInterval(t *testing.T) {
	p := NewAccountPoller(&scriptedAccounts{}, newCountingMetrics(), time.Millisecond)
	assert.Equal(t, MinPollInterval, p.interval)
}

func TestRefresherPublishesAndPrunes(t *testing.T) {
	clock := &fakeClock{now: t0}
	state := newTestManager(t, clock)
	require.NoError(t, state.Ingest(tradeEv("BTC", 100, 20000, models.SideBuy, t0)))

	sink := &memorySink{name: "mem"}
	d := NewDispatcher([]drepo.SnapshotSink{sink}, []drepo.AlertSink{sink}, newCountingMetrics(), 8)
	runDispatcher(t, d)

	alerts := NewAlertEvaluator(DefaultAlertThresholds(), WithAlertIDs(seqIDs()))
	forgot := &forgetRecorder{}
	r := NewRefresher(state, nil, alerts, d, time.Millisecond, time.Minute,
		WithRefresherClock(clock.Now), WithForgetters(forgot))
	assert.Equal(t, MinRefreshInterval, r.interval)

	snap := r.Refresh()
	require.NotNil(t, snap)
	v, ok := snap.Assets["BTC"].VPIN.Get()
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	require.Eventually(t, func() bool { return len(sink.Alerts()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.AlertCritical, sink.Alerts()[0].Level)
	assert.Equal(t, []uint64{snap.Generation}, sink.Generations())

	clock.Set(t0.Add(2 * time.Hour))
	assert.Equal(t, []string{"BTC"}, r.Prune())
	assert.Equal(t, []string{"BTC"}, forgot.assets)

	final := r.Final()
	assert.True(t, state.Sealed())
	assert.Greater(t, final.Generation, snap.Generation)
	assert.ErrorIs(t, state.Ingest(tradeEv("ETH", 1, 1, models.SideBuy, t0.Add(3*time.Hour))), models.ErrClosed)
}

type forgetRecorder struct{ assets []string }

func (f *forgetRecorder) Forget(asset string) { f.assets = append(f.assets, asset) }

func TestEventCollectorReconnectsAndForwards(t *testing.T) {
	stream := &scriptedStream{batches: [][]models.Event{
		{tradeEv("BTC", 100, 1, models.SideBuy, t0), bookEv("BTC", models.BookBid, 99, 2, t0)},
		{tradeEv("ETH", 10, 1, models.SideSell, t0)},
	}}
	sub := &recordingSubmitter{}
	m := newCountingMetrics()
	c := NewEventCollector(stream, sub, m, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsConnected())
	require.Eventually(t, func() bool { return len(sub.Events()) == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return stream.Reconnects() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, m.Errors("stream"))

	require.NoError(t, c.Stop(context.Background()))
	assert.False(t, c.IsConnected())
}

func TestKafkaEventsHandler(t *testing.T) {
	sub := &recordingSubmitter{}
	m := newCountingMetrics()
	h := NewKafkaEventsHandler("vp.events", sub, m)
	assert.Equal(t, "vp.events", h.Topic())

	ok := `{"kind":"trade","trade":{"asset":"BTC","ts":"2024-05-01T12:00:00Z","price":100,"size":1,"side":"B"}}`
	require.NoError(t, h.Handle(context.Background(), []byte(ok)))
	events := sub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.SideBuy, events[0].Trade.Side)
	assert.Equal(t, 1, m.sent["pipeline"])

	assert.NoError(t, h.Handle(context.Background(), []byte(`{bad`)), "malformed messages are acknowledged")
	assert.Equal(t, 1, m.Errors("consumer_unmarshal"))

	invalid := `{"kind":"trade","trade":{"asset":"BTC","ts":"2024-05-01T12:00:00Z","price":0,"size":1}}`
	assert.NoError(t, h.Handle(context.Background(), []byte(invalid)))

	sub.err = models.ErrOverload
	err := h.Handle(context.Background(), []byte(ok))
	assert.True(t, errors.Is(err, models.ErrOverload), "overload is retried by the consumer")
}
