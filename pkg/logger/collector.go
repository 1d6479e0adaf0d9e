package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher ships a batch of aggregated entries, e.g. to the Kafka logs
// topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush period
	CountThreshold int           // distinct entries that force an early flush
	MinLevel       string        // "warn" or "error"; default error
	Topic          string
	Source         string // instance tag stamped on every entry
	Publisher      Publisher
}

type AggregatedLogEntry struct {
	Source    string                 `json:"source,omitempty"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds identical log lines into counted entries and ships
// them in batches. Publishing happens on the flush goroutine, never on the
// logging caller.
type LogCollector struct {
	cfg      *CollectionConfig
	minLevel zerolog.Level

	mu      sync.Mutex
	entries map[uint64]*AggregatedLogEntry

	full   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	if cfg.TimeInterval <= 0 {
		cfg.TimeInterval = 30 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 100
	}
	floor := zerolog.ErrorLevel
	if cfg.MinLevel == "warn" {
		floor = zerolog.WarnLevel
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &LogCollector{
		cfg:      cfg,
		minLevel: floor,
		entries:  make(map[uint64]*AggregatedLogEntry),
		full:     make(chan struct{}, 1),
		cancel:   cancel,
	}
	c.wg.Add(1)
	go c.run(ctx)
	return c
}

func (c *LogCollector) accepts(level zerolog.Level) bool {
	return level >= c.minLevel
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Source:    c.cfg.Source,
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	reached := len(c.entries) >= c.cfg.CountThreshold
	c.mu.Unlock()

	if reached {
		select {
		case c.full <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of distinct entries waiting for the next flush.
func (c *LogCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// entryKey identifies a log line by level, message, caller and field
// values. json.Marshal sorts map keys, so equal fields hash equally.
func entryKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", level, caller, message)
	if len(fields) > 0 {
		b, _ := json.Marshal(fields)
		_, _ = h.Write(b)
	}
	return h.Sum64()
}

func (c *LogCollector) run(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.flush()
		case <-c.full:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		}
	}
}

func (c *LogCollector) drain() []AggregatedLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[uint64]*AggregatedLogEntry)
	return out
}

func (c *LogCollector) flush() {
	batch := c.drain()
	if len(batch) == 0 || c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		// logging here would feed the collector again
		fmt.Fprintf(os.Stderr, "log collector: publish %d entries: %v\n", len(batch), err)
	}
}

// Close stops the flush loop after a final flush.
func (c *LogCollector) Close() {
	c.cancel()
	c.wg.Wait()
}
