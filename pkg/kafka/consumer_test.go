package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeFetcher(msgs ...kafka.Message) *fakeFetcher {
	f := &fakeFetcher{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		f.msgs <- m
	}
	return f
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeFetcher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeFetcher) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

type fakeDLQ struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeDLQ) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeDLQ) Close() error { return nil }

type recordingHandler struct {
	topic string
	fail  func(data []byte, attempt int) error

	mu       sync.Mutex
	seen     []string
	attempts map[string]int
}

func (h *recordingHandler) Topic() string { return h.topic }

func (h *recordingHandler) Handle(_ context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.attempts == nil {
		h.attempts = make(map[string]int)
	}
	h.attempts[string(data)]++
	if h.fail != nil {
		if err := h.fail(data, h.attempts[string(data)]); err != nil {
			return err
		}
	}
	h.seen = append(h.seen, string(data))
	return nil
}

func (h *recordingHandler) handled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func newTestConsumer(t *testing.T, f *fakeFetcher, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(nil, opts...)
	require.NoError(t, err)
	c.newRead = func(string) fetcher { return f }
	return c
}

func msg(partition int, offset int64, value string) kafka.Message {
	return kafka.Message{Partition: partition, Offset: offset, Value: []byte(value)}
}

func TestConsumerHandlesInPartitionOrder(t *testing.T) {
	f := newFakeFetcher(msg(0, 1, "a1"), msg(1, 1, "b1"), msg(0, 2, "a2"), msg(1, 2, "b2"), msg(0, 3, "a3"))
	c := newTestConsumer(t, f, WithConsumerWorkers(4))
	h := &recordingHandler{topic: "vp.events"}
	c.RegisterHandler(h)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return len(f.commits()) == 5 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	var p0, p1 []string
	for _, s := range h.handled() {
		if s[0] == 'a' {
			p0 = append(p0, s)
		} else {
			p1 = append(p1, s)
		}
	}
	assert.Equal(t, []string{"a1", "a2", "a3"}, p0)
	assert.Equal(t, []string{"b1", "b2"}, p1)
	assert.True(t, f.closed)
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	f := newFakeFetcher(msg(0, 7, "flaky"))
	c := newTestConsumer(t, f)
	h := &recordingHandler{topic: "vp.events", fail: func(_ []byte, attempt int) error {
		if attempt < 3 {
			return errors.New("overloaded")
		}
		return nil
	}}
	c.RegisterHandler(h)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []string{"flaky"}, h.handled())
	assert.Equal(t, []int64{7}, f.commits())
}

func TestConsumerDeadLettersExhaustedMessage(t *testing.T) {
	f := newFakeFetcher(msg(2, 11, "bad"))
	c := newTestConsumer(t, f, WithConsumerDLQ("vp.events.dlq"))
	dlq := &fakeDLQ{}
	c.dlq = dlq
	c.RegisterHandler(&recordingHandler{topic: "vp.events", fail: func([]byte, int) error {
		return errors.New("still broken")
	}})

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	require.Len(t, dlq.msgs, 1)
	got := map[string]string{}
	for _, h := range dlq.msgs[0].Headers {
		got[h.Key] = string(h.Value)
	}
	assert.Equal(t, "vp.events", got["source_topic"])
	assert.Equal(t, "2", got["source_partition"])
	assert.Equal(t, "11", got["source_offset"])
	assert.Equal(t, "still broken", got["error"])
}

func TestConsumerLeavesFailedMessageUncommittedWithoutDLQ(t *testing.T) {
	f := newFakeFetcher(msg(0, 1, "bad"), msg(0, 2, "good"))
	c := newTestConsumer(t, f)
	h := &recordingHandler{topic: "vp.events", fail: func(data []byte, _ int) error {
		if string(data) == "bad" {
			return errors.New("nope")
		}
		return nil
	}}
	c.RegisterHandler(h)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return len(h.handled()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []int64{2}, f.commits())
}

func TestConsumerStartWithoutHandlers(t *testing.T) {
	c := newTestConsumer(t, newFakeFetcher())
	assert.Error(t, c.Start())
}

func TestRouteIsStablePerPartition(t *testing.T) {
	c := newTestConsumer(t, newFakeFetcher())
	c.queues = make([]chan delivery, 8)
	for p := 0; p < 16; p++ {
		w := c.route("vp.events", p)
		assert.GreaterOrEqual(t, w, 0)
		assert.Less(t, w, 8)
		assert.Equal(t, w, c.route("vp.events", p))
	}
}
