package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
	topics  []string
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) entries() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestCollectorFoldsDuplicatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Source: "test", Publisher: pub})

	fields := map[string]interface{}{"asset": "BTC"}
	c.AddLog("error", "ingest failed", fields, "usecase/state_manager.go:10")
	c.AddLog("error", "ingest failed", fields, "usecase/state_manager.go:10")
	c.AddLog("error", "publish failed", nil, "repository/kafka.go:3")
	assert.Equal(t, 2, c.Pending())

	c.Close()

	got := pub.entries()
	require.Len(t, got, 2)
	counts := map[string]int{}
	for _, e := range got {
		counts[e.Message] = e.Count
		assert.Equal(t, "test", e.Source)
	}
	assert.Equal(t, 2, counts["ingest failed"])
	assert.Equal(t, 1, counts["publish failed"])
	assert.Equal(t, []string{"logs"}, pub.topics)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x:1")
	c.AddLog("error", "b", nil, "x:2")

	assert.Eventually(t, func() bool { return len(pub.entries()) == 2 }, time.Second, 5*time.Millisecond)
}

type failingPublisher struct{}

func (failingPublisher) PublishMessage(context.Context, string, interface{}) error {
	return errors.New("broker down")
}

func TestCollectorSurvivesPublishError(t *testing.T) {
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Publisher: failingPublisher{}})
	c.AddLog("error", "a", nil, "x:1")
	c.Close()
	assert.Equal(t, 0, c.Pending())
}

func TestChildLoggerSeesLateCollector(t *testing.T) {
	pub := &capturePublisher{}
	root := Nop()
	child := root.With(String("component", "refresher"))

	root.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})
	child.Error("tick failed", String("asset", "ETH"))
	child.Warn("not collected")
	root.RemoveCollector()

	got := pub.entries()
	require.Len(t, got, 1)
	assert.Equal(t, "tick failed", got[0].Message)
	assert.Equal(t, "ETH", got[0].Fields["asset"])

	child.Error("after removal")
	assert.Len(t, pub.entries(), 1)
}

func TestCollectorMinLevelWarn(t *testing.T) {
	pub := &capturePublisher{}
	root := Nop()
	root.AddCollector(&CollectionConfig{TimeInterval: time.Hour, MinLevel: "warn", Publisher: pub})
	root.Warn("slow flush", Int("pending", 3))
	root.Info("ignored")
	root.RemoveCollector()

	got := pub.entries()
	require.Len(t, got, 1)
	assert.Equal(t, "warn", got[0].Level)
}

func TestEntryKeyIncludesFieldValues(t *testing.T) {
	a := entryKey("error", "m", map[string]interface{}{"asset": "BTC"}, "x:1")
	b := entryKey("error", "m", map[string]interface{}{"asset": "ETH"}, "x:1")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, entryKey("error", "m", map[string]interface{}{"asset": "BTC"}, "x:1"))
}
