package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"VaultPulse/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const promoteBatch = 100

// promoteScript moves due retries back onto the work list atomically so two
// instances never deliver the same retry twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// RedisQueue is a reliable-enough work queue on a Redis list, with a sorted
// set for delayed retries and a dead-letter list.
//
//	<prefix>:messages  LPUSH / BRPOP
//	<prefix>:retry     ZSET scored by due time in unix ms
//	<prefix>:dlq       messages that exhausted their retries
type RedisQueue struct {
	log    *logger.Logger
	cfg    Config
	client *redis.Client
	prefix string
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*RedisQueue)

func WithKeyPrefix(prefix string) Option {
	return func(r *RedisQueue) { r.prefix = prefix }
}

func WithClock(now func() time.Time) Option {
	return func(r *RedisQueue) { r.now = now }
}

func NewRedisQueue(l *logger.Logger, cfg Config, client *redis.Client, opts ...Option) *RedisQueue {
	if l == nil {
		l = logger.Nop()
	}
	cfg.setDefaults()
	r := &RedisQueue{
		log:    l,
		cfg:    cfg,
		client: client,
		prefix: "vaultpulse:queue",
		now:    time.Now,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob binds job to its message type. A second job for the same
// type is rejected.
func (r *RedisQueue) RegisterJob(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.jobs[job.Type()]; ok {
		return fmt.Errorf("queue: type %s already handled by %s", job.Type(), prev.Name())
	}
	r.jobs[job.Type()] = job
	r.log.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
	return nil
}

func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue: already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("queue: redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.wg.Add(1)
	go r.promoter(ctx)

	r.log.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels workers and waits for in-flight jobs. An interrupted job is
// pushed back to the head of the list.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: stop: %w", ctx.Err())
	}
}

// PublishMessage encodes payload and enqueues it. Messages are durable in
// Redis, so publishing does not require the workers to be running.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	_, ok := r.jobs[msgType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoJob, msgType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: encode payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    body,
		EnqueuedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("queue: encode message: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		return fmt.Errorf("queue: lpush: %w", err)
	}
	return nil
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, r.cfg.PollTimeout, r.queueKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.log.Error("queue brpop failed", logger.Int("worker_id", id), logger.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}
		if len(res) == 2 {
			r.process(ctx, res[1])
		}
	}
}

func (r *RedisQueue) process(ctx context.Context, raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.log.Error("queue message undecodable", logger.Error(err))
		r.deadLetter(Message{LastError: err.Error()}, raw)
		return
	}

	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		msg.LastError = ErrNoJob.Error()
		r.deadLetter(msg, "")
		return
	}

	start := r.now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// interrupted by Stop; redeliver first on next start
		if perr := r.client.RPush(context.Background(), r.queueKey(), raw).Err(); perr != nil {
			r.log.Error("queue requeue failed", logger.String("id", msg.ID), logger.Error(perr))
		}
		return
	}
	r.fail(msg, job, err, r.now().Sub(start))
}

func (r *RedisQueue) fail(msg Message, job Job, err error, took time.Duration) {
	msg.Attempts++
	msg.LastError = err.Error()
	fields := []logger.Field{
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.Duration("took", took),
		logger.Error(err),
	}
	if msg.Attempts > r.cfg.RetryLimit {
		r.log.Error("queue job exhausted retries", fields...)
		r.deadLetter(msg, "")
		return
	}

	due := r.now().Add(r.cfg.Backoff(msg.Attempts))
	data, merr := json.Marshal(msg)
	if merr != nil {
		r.log.Error("queue encode retry failed", logger.Error(merr))
		return
	}
	if zerr := r.client.ZAdd(context.Background(), r.retryKey(), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: data,
	}).Err(); zerr != nil {
		r.log.Error("queue schedule retry failed", logger.String("id", msg.ID), logger.Error(zerr))
		return
	}
	r.log.Warn("queue job failed, retry scheduled", append(fields, logger.String("retry_at", due.Format(time.RFC3339)))...)
}

// deadLetter stores msg, or raw when the message could not be decoded.
func (r *RedisQueue) deadLetter(msg Message, raw string) {
	data := []byte(raw)
	if raw == "" {
		var err error
		if data, err = json.Marshal(msg); err != nil {
			r.log.Error("queue encode dead letter failed", logger.Error(err))
			return
		}
	}
	if err := r.client.LPush(context.Background(), r.deadLetterKey(), data).Err(); err != nil {
		r.log.Error("queue dead letter failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) promoter(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.cfg.PromoteInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.promoteDue(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("queue promote retries failed", logger.Error(err))
			}
		}
	}
}

func (r *RedisQueue) promoteDue(ctx context.Context) (int64, error) {
	now := strconv.FormatInt(r.now().UnixMilli(), 10)
	return promoteScript.Run(ctx, r.client,
		[]string{r.retryKey(), r.queueKey()}, now, promoteBatch).Int64()
}

func (r *RedisQueue) queueKey() string      { return r.prefix + ":messages" }
func (r *RedisQueue) retryKey() string      { return r.prefix + ":retry" }
func (r *RedisQueue) deadLetterKey() string { return r.prefix + ":dlq" }

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

var _ Publisher = (*RedisQueue)(nil)
