package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultPulse/internal/domain/models"
)

type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.steps = append(j.steps, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.steps...)
}

type fakeCollector struct {
	j        *journal
	startErr error
}

func (f *fakeCollector) Start(context.Context) error { f.j.add("collector.start"); return f.startErr }
func (f *fakeCollector) Stop(context.Context) error { f.j.add("collector.stop"); return nil }

type fakePipeline struct {
	j    *journal
	stop chan struct{}
	once sync.Once
}

func (f *fakePipeline) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-f.stop:
	}
	return nil
}

func (f *fakePipeline) Stop(context.Context) error {
	f.once.Do(func() { close(f.stop) })
	f.j.add("pipeline.stop")
	return nil
}

type fakeRefresher struct {
	j       *journal
	running chan struct{}
}

func (f *fakeRefresher) Run(ctx context.Context) error {
	close(f.running)
	<-ctx.Done()
	f.j.add("refresher.exit")
	return nil
}

func (f *fakeRefresher) Final() *models.MetricsSnapshot {
	f.j.add("refresher.final")
	return &models.MetricsSnapshot{Generation: 42}
}

type fakeDispatcher struct{ j *journal }

func (f *fakeDispatcher) Run(ctx context.Context) error { <-ctx.Done(); return nil }
func (f *fakeDispatcher) Stop(context.Context) error { f.j.add("dispatcher.stop"); return nil }

type fakeBackground struct {
	j    *journal
	name string
}

func (f *fakeBackground) Start() error { f.j.add(f.name + ".start"); return nil }
func (f *fakeBackground) Stop(context.Context) error { f.j.add(f.name + ".stop"); return nil }

type fakeHTTP struct {
	j       *journal
	serve   error
	stopped chan struct{}
	once    sync.Once
}

func (f *fakeHTTP) Serve() error {
	if f.serve != nil {
		return f.serve
	}
	<-f.stopped
	return nil
}

func (f *fakeHTTP) Stop(context.Context) error {
	f.once.Do(func() { close(f.stopped) })
	f.j.add("http.stop")
	return nil
}

func newFakes(j *journal) (Components, *fakeRefresher, *fakeHTTP) {
	ref := &fakeRefresher{j: j, running: make(chan struct{})}
	h := &fakeHTTP{j: j, stopped: make(chan struct{})}
	return Components{
		Collector:  &fakeCollector{j: j},
		Pipeline:   &fakePipeline{j: j, stop: make(chan struct{})},
		Refresher:  ref,
		Dispatcher: &fakeDispatcher{j: j},
		Sources:    []Background{&fakeBackground{j: j, name: "consumer"}},
		Workers:    []Background{&fakeBackground{j: j, name: "alertqueue"}},
		HTTP:       h,
		Closers: []Closer{
			{Name: "clickhouse", Close: func() error { j.add("clickhouse.close"); return nil }},
			{Name: "kafka", Close: func() error { j.add("kafka.close"); return nil }},
		},
	}, ref, h
}

func TestAppShutdownOrder(t *testing.T) {
	j := &journal{}
	c, ref, _ := newFakes(j)
	app := New(c, WithSignals(), WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	<-ref.running
	require.Eventually(t, func() bool {
		for _, s := range j.list() {
			if s == "collector.start" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}

	assert.Equal(t, []string{
		"alertqueue.start",
		"consumer.start",
		"collector.start",
		"collector.stop",
		"consumer.stop",
		"pipeline.stop",
		"refresher.exit",
		"refresher.final",
		"dispatcher.stop",
		"alertqueue.stop",
		"http.stop",
		"clickhouse.close",
		"kafka.close",
	}, j.list())
}

func TestAppStopsWhenComponentFails(t *testing.T) {
	j := &journal{}
	c, _, h := newFakes(j)
	h.serve = errors.New("address in use")
	app := New(c, WithSignals())

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
	assert.Contains(t, j.list(), "refresher.final", "final snapshot still published")
	assert.Contains(t, j.list(), "kafka.close")
}

func TestAppStartupFailureStillCleansUp(t *testing.T) {
	j := &journal{}
	c, _, _ := newFakes(j)
	c.Collector = &fakeCollector{j: j, startErr: errors.New("dial refused")}
	c.Poller = nil

	err := New(c, WithSignals()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial refused")
	steps := j.list()
	assert.Contains(t, steps, "pipeline.stop")
	assert.Contains(t, steps, "dispatcher.stop")
	assert.Contains(t, steps, "clickhouse.close")
}
