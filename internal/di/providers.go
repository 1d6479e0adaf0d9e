package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"VaultPulse/internal/domain/models"
	domrepo "VaultPulse/internal/domain/repository"
	domsvc "VaultPulse/internal/domain/service"
	"VaultPulse/internal/handler/api"
	mid "VaultPulse/internal/middleware"
	internalrepo "VaultPulse/internal/repository"
	"VaultPulse/internal/service/hyperliquid"
	"VaultPulse/internal/service/ratelimit"
	"VaultPulse/internal/services/microstructure"
	"VaultPulse/internal/services/risk"
	"VaultPulse/internal/usecase"
	pkgcache "VaultPulse/pkg/cache"
	pkgch "VaultPulse/pkg/clickhouse"
	"VaultPulse/pkg/config"
	phttp "VaultPulse/pkg/http"
	pkgkafka "VaultPulse/pkg/kafka"
	applogger "VaultPulse/pkg/logger"
	"VaultPulse/pkg/metrics"
	"VaultPulse/pkg/queue"
	"VaultPulse/pkg/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const schemaTimeout = 10 * time.Second

// ProvideLogger builds the root logger from the logger section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

func ProvideDomainMetrics(r *metrics.Recorder) domrepo.Metrics {
	return r
}

// ProvideEngineConfig maps the engine section onto the state manager's
// configuration.
func ProvideEngineConfig(cfg *config.Config) usecase.EngineConfig {
	e := cfg.Engine
	return usecase.EngineConfig{
		VPIN: microstructure.VPINConfig{
			BucketThreshold: e.BucketThreshold,
			WindowSize:      e.WindowSize,
			Measure:         models.VolumeMeasure(e.VolumeMeasure),
		},
		Orders: microstructure.OrderTrackerConfig{
			Horizon:           e.Orders.Horizon,
			FleetingThreshold: e.Orders.FleetingThreshold,
			CorrelationWindow: e.Orders.CorrelationWindow,
			LayeringMinLevels: e.Orders.LayeringMinLevels,
			LayeringWindow:    e.Orders.LayeringWindow,
			SpoofSizeMultiple: e.Orders.SpoofSizeMultiple,
			MaxClosedRecords:  e.Orders.MaxClosedRecords,
			MaxRecentTrades:   e.Orders.MaxRecentTrades,
		},
		PhantomWeights: models.PhantomWeights{
			Fleeting:    e.PhantomWeights.Fleeting,
			Fill:        e.PhantomWeights.Fill,
			Layering:    e.PhantomWeights.Layering,
			Spoofing:    e.PhantomWeights.Spoofing,
			Realization: e.PhantomWeights.Realization,
		},
		RiskWeights: risk.Weights{
			Margin:      e.RiskWeights.Margin,
			Drawdown:    e.RiskWeights.Drawdown,
			HHI:         e.RiskWeights.HHI,
			Correlation: e.RiskWeights.Correlation,
			Phantom:     e.RiskWeights.Phantom,
		},
		Retention:     e.Retention,
		DepthBps:      e.DepthBps,
		MinReturns:    e.MinReturns,
		HistoryPoints: e.HistoryPoints,
	}
}

// ProvideAlertThresholds maps the alerts section.
func ProvideAlertThresholds(cfg *config.Config) usecase.AlertThresholds {
	a := cfg.Alerts
	return usecase.AlertThresholds{
		VPINWarn:          a.VPINWarn,
		VPINCrit:          a.VPINCrit,
		PhantomWarn:       a.PhantomWarn,
		PhantomCrit:       a.PhantomCrit,
		LiquidationWarn:   a.LiquidationWarn,
		LiquidationCrit:   a.LiquidationCrit,
		DrawdownWarn:      a.DrawdownWarn,
		DrawdownCrit:      a.DrawdownCrit,
		ConcentrationWarn: a.ConcentrationWarn,
		CancelRateWarn:    a.CancelRateWarn,
		FleetingWarn:      a.FleetingWarn,
		Cooldown:          a.Cooldown,
		RingSize:          a.RingSize,
	}
}

func ProvideStateManager(ec usecase.EngineConfig, m domrepo.Metrics, l *applogger.Logger) (*usecase.StateManager, error) {
	sm, err := usecase.NewStateManager(ec,
		usecase.WithStateMetrics(m),
		usecase.WithStateLogger(l.With(applogger.String("component", "state"))),
	)
	if err != nil {
		return nil, fmt.Errorf("state manager: %w", err)
	}
	return sm, nil
}

func ProvideIngestPipeline(cfg *config.Config, sm *usecase.StateManager, m domrepo.Metrics, l *applogger.Logger) *mid.IngestPipeline {
	return mid.NewIngestPipeline(sm, m,
		mid.WithQueueSize(cfg.Pipeline.QueueSize),
		mid.WithReorderWindow(cfg.Pipeline.ReorderWindow),
		mid.WithPipelineLogger(l.With(applogger.String("component", "pipeline"))),
	)
}

func ProvideHTTPClient(cfg *config.Config) *phttp.Client {
	return phttp.NewClient(phttp.WithTimeout(cfg.Hyperliquid.RequestTimeout))
}

// ProvideHyperliquidStream creates the trades and l2Book websocket feed.
func ProvideHyperliquidStream(cfg *config.Config, l *applogger.Logger) *hyperliquid.Stream {
	hl := cfg.Hyperliquid
	return hyperliquid.NewStream(hl.WebSocketURL, hl.Coins, hl.ReconnectDelay, hl.PingInterval,
		hyperliquid.WithStreamLogger(l.With(applogger.String("component", "hyperliquid_ws"))),
	)
}

func ProvideInfoClient(cfg *config.Config, client *phttp.Client, l *applogger.Logger) *hyperliquid.InfoClient {
	hl := cfg.Hyperliquid
	return hyperliquid.NewInfoClient(hl.InfoURL, hl.VaultAddress, client,
		hyperliquid.BreakerSettings{MaxFailures: hl.Breaker.MaxFailures, OpenTimeout: hl.Breaker.OpenTimeout},
		hyperliquid.WithInfoLogger(l.With(applogger.String("component", "hyperliquid_info"))),
	)
}

func ProvideAccountPoller(cfg *config.Config, info *hyperliquid.InfoClient, m domrepo.Metrics, l *applogger.Logger) *usecase.AccountPoller {
	return usecase.NewAccountPoller(info, m, cfg.Hyperliquid.AccountPollInterval,
		usecase.WithPollerLogger(l.With(applogger.String("component", "poller"))),
	)
}

func ProvideAlertEvaluator(th usecase.AlertThresholds, l *applogger.Logger) *usecase.AlertEvaluator {
	return usecase.NewAlertEvaluator(th, usecase.WithAlertLogger(l.With(applogger.String("component", "alerts"))))
}

// ProvideClickHouseClient connects when the export is enabled and returns
// nil otherwise.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, error) {
	ch := cfg.ClickHouse
	if !ch.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
		pkgch.WithLogger(l.With(applogger.String("component", "clickhouse"))),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSnapshotStore creates the export tables and returns the store, or
// nil without ClickHouse.
func ProvideSnapshotStore(client *pkgch.Client, l *applogger.Logger) (*internalrepo.CHSnapshotStore, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewCHSnapshotStore(client.DB(), client.Database(), l.With(applogger.String("component", "clickhouse")))

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, store.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer when publishing is enabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithBatchSize(k.Producer.BatchSize),
		pkgkafka.WithBatchBytes(k.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(k.Producer.Linger),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

func ProvideKafkaPublisher(cfg *config.Config, producer *pkgkafka.Producer) *internalrepo.KafkaPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.SnapshotsTopic, cfg.Kafka.AlertsTopic)
}

// ProvideRedisCache connects to Redis when enabled.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	r := cfg.Redis
	if !r.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(r.Host),
		pkgcache.WithRedisPort(r.Port),
		pkgcache.WithRedisPassword(r.Password),
		pkgcache.WithRedisDB(r.DB),
		pkgcache.WithRedisPrefix(r.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

func ProvideSnapshotCache(cfg *config.Config, rc *pkgcache.RedisCache) *internalrepo.RedisSnapshotCache {
	if rc == nil {
		return nil
	}
	return internalrepo.NewRedisSnapshotCache(rc, rc, cfg.Redis.Channel, cfg.Redis.SnapshotTTL)
}

// ProvideHistoryReader fronts the ClickHouse history with a cache: layered
// over Redis when available, in-memory otherwise. Nil disables /api/history.
func ProvideHistoryReader(cfg *config.Config, store *internalrepo.CHSnapshotStore, rc *pkgcache.RedisCache) domsvc.HistoryReader {
	if store == nil {
		return nil
	}
	var c pkgcache.Service
	if rc != nil {
		c = pkgcache.NewLayeredCache(rc, pkgcache.WithLayeredMemorySize(cfg.Redis.MemoryCacheSize))
	} else {
		c = pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Redis.MemoryCacheSize))
	}
	return internalrepo.NewCachedHistory(store, c, cfg.ClickHouse.HistoryCacheTTL)
}

// ProvideAlertQueue builds the Redis queue that delivers alert webhooks. It
// needs both Redis and a webhook URL.
func ProvideAlertQueue(cfg *config.Config, rc *pkgcache.RedisCache, client *phttp.Client, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil || cfg.Alerts.WebhookURL == "" {
		return nil
	}
	ql := l.With(applogger.String("component", "alert_queue"))
	q := queue.NewRedisQueue(ql, queue.Config{
		Workers:    cfg.Redis.Queue.Workers,
		RetryLimit: cfg.Redis.Queue.RetryLimit,
		RetryDelay: cfg.Redis.Queue.RetryDelay,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	if err := q.RegisterJob(internalrepo.NewWebhookJob(client, cfg.Alerts.WebhookURL, ql)); err != nil {
		ql.Error("alert webhook job not registered", applogger.Error(err))
		return nil
	}
	return q
}

func ProvideStreamHub(cfg *config.Config, l *applogger.Logger) *api.StreamHub {
	return api.NewStreamHub(cfg.Hyperliquid.PingInterval, l.With(applogger.String("component", "stream")))
}

// ProvideDispatcher registers every configured sink. Missing backends are
// skipped.
func ProvideDispatcher(
	cfg *config.Config,
	m domrepo.Metrics,
	l *applogger.Logger,
	store *internalrepo.CHSnapshotStore,
	pub *internalrepo.KafkaPublisher,
	snapCache *internalrepo.RedisSnapshotCache,
	alertQueue *queue.RedisQueue,
	hub *api.StreamHub,
) *usecase.Dispatcher {
	snaps := []domrepo.SnapshotSink{hub}
	var alerts []domrepo.AlertSink
	if store != nil {
		snaps = append(snaps, store)
	}
	if pub != nil {
		snaps = append(snaps, pub)
		alerts = append(alerts, pub)
	}
	if snapCache != nil {
		snaps = append(snaps, snapCache)
	}
	if alertQueue != nil {
		alerts = append(alerts, internalrepo.NewAlertQueue(alertQueue))
	}
	return usecase.NewDispatcher(snaps, alerts, m, cfg.Dispatch.QueueSize,
		usecase.WithDispatchLogger(l.With(applogger.String("component", "dispatcher"))),
		usecase.WithWriteTimeout(cfg.Dispatch.WriteTimeout),
	)
}

func ProvideRefresher(
	cfg *config.Config,
	sm *usecase.StateManager,
	poller *usecase.AccountPoller,
	alerts *usecase.AlertEvaluator,
	dispatcher *usecase.Dispatcher,
	rec *metrics.Recorder,
	stream *hyperliquid.Stream,
	pipe *mid.IngestPipeline,
	l *applogger.Logger,
) *usecase.Refresher {
	return usecase.NewRefresher(sm, poller, alerts, dispatcher, cfg.Refresh.Interval, cfg.Refresh.PruneInterval,
		usecase.WithRefresherLogger(l.With(applogger.String("component", "refresher"))),
		usecase.WithForgetters(rec, stream, pipe),
	)
}

func ProvideEventCollector(stream *hyperliquid.Stream, pipe *mid.IngestPipeline, m domrepo.Metrics, l *applogger.Logger) *usecase.EventCollector {
	return usecase.NewEventCollector(stream, pipe, m, l.With(applogger.String("component", "collector")))
}

// ProvideKafkaConsumer replays canonical events from the events topic into
// the pipeline. Nil when no events topic is configured.
func ProvideKafkaConsumer(cfg *config.Config, pipe *mid.IngestPipeline, m domrepo.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	k := cfg.Kafka
	if !k.Enabled || k.EventsTopic == "" {
		return nil, nil
	}
	cl := l.With(applogger.String("component", "kafka_consumer"))
	consumer, err := pkgkafka.NewConsumer(cl,
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerGroupID(k.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(k.Consumer.AutoOffsetReset),
		pkgkafka.WithConsumerWorkers(k.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(k.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(k.Consumer.MinBytes, k.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewKafkaEventsHandler(k.EventsTopic, pipe, m))
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(time.Now), pkgkafka.LoggingHook(cl)))
	return consumer, nil
}

// ProvideMetricsHandler assembles the read API with one health check per
// live dependency.
func ProvideMetricsHandler(
	cfg *config.Config,
	l *applogger.Logger,
	sm *usecase.StateManager,
	alerts *usecase.AlertEvaluator,
	history domsvc.HistoryReader,
	hub *api.StreamHub,
	stream *hyperliquid.Stream,
	ch *pkgch.Client,
	rc *pkgcache.RedisCache,
) *api.MetricsHandler {
	opts := []api.Option{
		api.WithStreamHub(hub),
		api.WithRateLimiter(ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)),
		api.WithHealthCheck("hyperliquid", func(context.Context) error {
			if !stream.IsConnected() {
				return fmt.Errorf("websocket disconnected")
			}
			return nil
		}),
	}
	if history != nil {
		opts = append(opts, api.WithHistory(history))
	}
	if ch != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", ch.Health))
	}
	if rc != nil {
		opts = append(opts, api.WithHealthCheck("redis", rc.Ping))
	}
	return api.NewMetricsHandler(l.With(applogger.String("component", "api")), sm, alerts, opts...)
}

func ProvideHTTPServer(cfg *config.Config, h *api.MetricsHandler, l *applogger.Logger) *phttp.Server {
	opts := []phttp.ServerOption{
		phttp.WithPort(cfg.Server.Port),
		phttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		phttp.WithCORS(cfg.Server.CORSOrigins...),
		phttp.WithServerLogger(l.With(applogger.String("component", "http"))),
	}
	if cfg.Metrics.Disabled {
		opts = append(opts, phttp.WithMetricsHandler("", nil))
	} else {
		opts = append(opts, phttp.WithMetricsHandler(cfg.Metrics.Path, promhttp.Handler()))
	}
	return phttp.NewServer(h, opts...)
}

// ProvideApp wires the lifecycle. The log collector is attached last so
// every component logger created above reports through it.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.EventCollector,
	pipe *mid.IngestPipeline,
	refresher *usecase.Refresher,
	dispatcher *usecase.Dispatcher,
	poller *usecase.AccountPoller,
	consumer *pkgkafka.Consumer,
	alertQueue *queue.RedisQueue,
	httpServer *phttp.Server,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	pub *internalrepo.KafkaPublisher,
	rc *pkgcache.RedisCache,
) *server.App {
	c := server.Components{
		Collector:  collector,
		Pipeline:   pipe,
		Refresher:  refresher,
		Dispatcher: dispatcher,
		Poller:     poller,
		HTTP:       httpServer,
	}
	if consumer != nil {
		c.Sources = append(c.Sources, consumer)
	}
	if alertQueue != nil {
		c.Workers = append(c.Workers, alertQueue)
	}

	if pub != nil && cfg.Logger.Collector.Enabled {
		source, _ := os.Hostname()
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logger.Collector.Interval,
			CountThreshold: cfg.Logger.Collector.Threshold,
			MinLevel:       cfg.Logger.Collector.MinLevel,
			Topic:          cfg.Kafka.LogsTopic,
			Source:         source,
			Publisher:      pub,
		})
		c.Closers = append(c.Closers, server.Closer{Name: "log_collector", Close: func() error {
			l.RemoveCollector()
			return nil
		}})
	}
	if ch != nil {
		c.Closers = append(c.Closers, server.Closer{Name: "clickhouse", Close: ch.Close})
	}
	if rc != nil {
		c.Closers = append(c.Closers, server.Closer{Name: "redis", Close: rc.Close})
	}
	if producer != nil {
		c.Closers = append(c.Closers, server.Closer{Name: "kafka", Close: producer.Close})
	}

	return server.New(c,
		server.WithLogger(l.With(applogger.String("component", "app"))),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
}
