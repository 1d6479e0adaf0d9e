package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	applogger "VaultPulse/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles the records of one topic. A nil error commits the
// offset; an error is retried with backoff.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, data []byte) error
}

// fetcher is the part of *kafka.Reader the consumer drives.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// dlqWriter is the part of *kafka.Writer used for dead letters.
type dlqWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type delivery struct {
	topic string
	km    kafka.Message
	from  fetcher
}

// Consumer reads one reader per registered topic and fans messages out to
// workers keyed by (topic, partition), so each partition is processed in
// order while partitions proceed in parallel.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *applogger.Logger
	hook     ConsumerHook
	handlers map[string]MessageHandler
	readers  map[string]fetcher
	dlq      dlqWriter
	newRead  func(topic string) fetcher

	queues   []chan delivery
	ctx      context.Context // cancelled by Stop; aborts fetches and backoff
	cancel   context.CancelFunc
	readerWG sync.WaitGroup
	workerWG sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(l *applogger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}
	if l == nil {
		l = applogger.Nop()
	}
	registerConsumerMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		log:      l,
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]fetcher),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.newRead = func(topic string) fetcher {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.GroupID,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			StartOffset: startOffset(cfg.AutoOffsetReset),
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DLQTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return c, nil
}

// RegisterHandler must be called before Start. A second handler for the
// same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// WithConsumerHook installs h around every handling attempt.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	c.queues = make([]chan delivery, c.cfg.WorkerCount)
	for i := range c.queues {
		c.queues[i] = make(chan delivery, c.cfg.BufferSize)
		c.workerWG.Add(1)
		go c.work(c.queues[i])
	}
	for topic := range c.handlers {
		r := c.newRead(topic)
		c.readers[topic] = r
		c.readerWG.Add(1)
		go c.read(topic, r)
	}
	c.log.Info("kafka consumer started",
		applogger.String("group", c.cfg.GroupID),
		applogger.Int("topics", len(c.handlers)),
		applogger.Int("workers", c.cfg.WorkerCount))
	return nil
}

// Stop halts fetching, lets workers drain what was already fetched and then
// closes readers. Uncommitted messages are redelivered to the group later.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		if err = waitGroup(ctx, &c.readerWG); err == nil {
			for _, q := range c.queues {
				close(q)
			}
			err = waitGroup(ctx, &c.workerWG)
		}
		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka reader close failed", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("kafka dlq writer close failed", applogger.Error(cerr))
			}
		}
		if err == nil {
			c.log.Info("kafka consumer stopped")
		}
	})
	return err
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka consumer stop: %w", ctx.Err())
	}
}

func (c *Consumer) read(topic string, r fetcher) {
	defer c.readerWG.Done()
	for {
		km, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka fetch failed", applogger.String("topic", topic), applogger.Error(err))
			if !sleepCtx(c.ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		q := c.queues[c.route(topic, km.Partition)]
		select {
		case q <- delivery{topic: topic, km: km, from: r}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(q)))
		case <-c.ctx.Done():
			return
		}
	}
}

// route pins a (topic, partition) pair to one worker.
func (c *Consumer) route(topic string, partition int) int {
	if len(c.queues) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(len(c.queues)))
}

func (c *Consumer) work(q <-chan delivery) {
	defer c.workerWG.Done()
	for d := range q {
		start := time.Now()
		result := c.process(d)
		consumerHandled.WithLabelValues(d.topic, result).Inc()
		consumerLatency.WithLabelValues(d.topic).Observe(time.Since(start).Seconds())
	}
}

// process returns the outcome label: ok, dead_letter, abandoned or stopped.
func (c *Consumer) process(d delivery) (result string) {
	h := c.handlers[d.topic]
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("kafka handler panic", applogger.String("topic", d.topic), applogger.Any("panic", r))
			result = "abandoned"
		}
	}()

	var err error
	attempts := 0
	for {
		attempts++
		err = c.attempt(h, d)
		if err == nil || attempts > c.cfg.RetryMax {
			break
		}
		if !sleepCtx(c.ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)) {
			return "stopped"
		}
	}

	switch {
	case err == nil:
		result = "ok"
	case c.dlq != nil:
		c.log.Error("kafka handler gave up, dead-lettering",
			applogger.String("topic", d.topic),
			applogger.Int("partition", d.km.Partition),
			applogger.Int64("offset", d.km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		if derr := c.deadLetter(d, err); derr != nil {
			c.log.Error("kafka dlq write failed", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(derr))
			return "abandoned"
		}
		result = "dead_letter"
	default:
		c.log.Error("kafka handler gave up",
			applogger.String("topic", d.topic),
			applogger.Int64("offset", d.km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		return "abandoned"
	}
	c.commit(d)
	return result
}

func (c *Consumer) attempt(h MessageHandler, d delivery) error {
	ctx, km, data, err := c.hook.BeforeHandle(context.Background(), d.topic, d.km, d.km.Value)
	if err != nil {
		return err
	}
	err = h.Handle(ctx, data)
	c.hook.AfterHandle(ctx, d.topic, km, data, err)
	if err != nil {
		c.hook.OnError(ctx, d.topic, km, data, err)
	}
	return err
}

func (c *Consumer) deadLetter(d delivery, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hdrs := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(d.topic)},
		{Key: "source_partition", Value: []byte(strconv.Itoa(d.km.Partition))},
		{Key: "source_offset", Value: []byte(strconv.FormatInt(d.km.Offset, 10))},
		{Key: "error", Value: []byte(cause.Error())},
	}, d.km.Headers...)
	return c.dlq.WriteMessages(ctx, kafka.Message{Key: d.km.Key, Value: d.km.Value, Headers: hdrs})
}

func (c *Consumer) commit(d delivery) {
	var err error
	for i := 1; i <= c.cfg.CommitRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = d.from.CommitMessages(ctx, d.km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, i))
	}
	if err != nil {
		c.log.Error("kafka commit failed",
			applogger.String("topic", d.topic),
			applogger.Int64("offset", d.km.Offset),
			applogger.Error(err))
	}
}

// backoffWithJitter doubles min per attempt up to max and subtracts up to
// half of it at random.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	d := min << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	return d - time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var (
	consumerMetricsOnce sync.Once
	consumerQueueDepth  *prometheus.GaugeVec
	consumerHandled     *prometheus.CounterVec
	consumerLatency     *prometheus.HistogramVec
)

func registerConsumerMetrics() {
	consumerMetricsOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultpulse_kafka_consumer_queue_depth",
			Help: "Fetched messages waiting for a worker.",
		}, []string{"topic"})
		consumerHandled = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultpulse_kafka_consumer_messages_total",
			Help: "Consumed messages by outcome.",
		}, []string{"topic", "result"})
		consumerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultpulse_kafka_consumer_handle_seconds",
			Help:    "Handling time per message including retries.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"topic"})
	})
}
