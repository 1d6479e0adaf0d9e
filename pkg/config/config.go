package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VP_"

type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT" default:"development" validate:"oneof=development staging production"`
	Logger      struct {
		Level     string `yaml:"level" env:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" env:"FORMAT" default:"json" validate:"oneof=json console"`
		Output    string `yaml:"output" env:"OUTPUT" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled" env:"ENABLED"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100" validate:"gte=1"`
			MinLevel  string        `yaml:"min_level" env:"MIN_LEVEL" default:"error" validate:"oneof=warn error"`
		} `yaml:"collector" envPrefix:"COLLECTOR_"`
	} `yaml:"logger" envPrefix:"LOG_"`
	Server struct {
		Port            int           `yaml:"port" env:"PORT" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:"," default:"[\"*\"]"`
		RateLimit       struct {
			RPS   float64 `yaml:"rps" default:"20" validate:"gte=0"`
			Burst int     `yaml:"burst" default:"40" validate:"gte=0"`
		} `yaml:"rate_limit"`
	} `yaml:"server" envPrefix:"SERVER_"`
	Metrics struct {
		Disabled bool   `yaml:"disabled" env:"DISABLED"`
		Path     string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics" envPrefix:"METRICS_"`
	Hyperliquid struct {
		WebSocketURL        string        `yaml:"websocket_url" env:"WS_URL" default:"wss://api.hyperliquid.xyz/ws" validate:"required,url"`
		InfoURL             string        `yaml:"info_url" env:"INFO_URL" default:"https://api.hyperliquid.xyz/info" validate:"required,url"`
		VaultAddress        string        `yaml:"vault_address" env:"VAULT_ADDRESS" validate:"required"`
		Coins               []string      `yaml:"coins" env:"COINS" envSeparator:"," validate:"min=1,dive,required"`
		ReconnectDelay      time.Duration `yaml:"reconnect_delay" default:"3s"`
		PingInterval        time.Duration `yaml:"ping_interval" default:"30s"`
		AccountPollInterval time.Duration `yaml:"account_poll_interval" env:"ACCOUNT_POLL_INTERVAL" default:"2s"`
		RequestTimeout      time.Duration `yaml:"request_timeout" default:"10s"`
		Breaker             struct {
			MaxFailures uint32        `yaml:"max_failures" default:"5" validate:"gte=1"`
			OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
		} `yaml:"breaker"`
	} `yaml:"hyperliquid" envPrefix:"HYPERLIQUID_"`
	Engine struct {
		BucketThreshold float64       `yaml:"bucket_threshold" env:"BUCKET_THRESHOLD" default:"1000000"`
		VolumeMeasure   string        `yaml:"volume_measure" env:"VOLUME_MEASURE" default:"notional" validate:"oneof=notional quantity"`
		WindowSize      int           `yaml:"window_size" env:"WINDOW_SIZE" default:"50"`
		Retention       time.Duration `yaml:"retention" default:"1h"`
		DepthBps        float64       `yaml:"depth_bps" default:"50" validate:"gt=0"`
		MinReturns      int           `yaml:"min_returns" default:"10" validate:"gte=2"`
		HistoryPoints   int           `yaml:"history_points" default:"3600" validate:"gte=1"`
		Orders          struct {
			Horizon           time.Duration `yaml:"horizon" default:"5m"`
			FleetingThreshold time.Duration `yaml:"fleeting_threshold" default:"100ms"`
			CorrelationWindow time.Duration `yaml:"correlation_window" default:"50ms"`
			LayeringMinLevels int           `yaml:"layering_min_levels" default:"3"`
			LayeringWindow    time.Duration `yaml:"layering_window" default:"1s"`
			SpoofSizeMultiple float64       `yaml:"spoof_size_multiple" default:"3"`
			MaxClosedRecords  int           `yaml:"max_closed_records" default:"10000"`
			MaxRecentTrades   int           `yaml:"max_recent_trades" default:"2048"`
		} `yaml:"orders"`
		PhantomWeights struct {
			Fleeting    float64 `yaml:"fleeting" default:"0.25"`
			Fill        float64 `yaml:"fill" default:"0.20"`
			Layering    float64 `yaml:"layering" default:"0.20"`
			Spoofing    float64 `yaml:"spoofing" default:"0.20"`
			Realization float64 `yaml:"realization" default:"0.15"`
		} `yaml:"phantom_weights"`
		RiskWeights struct {
			Margin      float64 `yaml:"margin" default:"0.7"`
			Drawdown    float64 `yaml:"drawdown" default:"0.3"`
			HHI         float64 `yaml:"hhi" default:"0.5"`
			Correlation float64 `yaml:"correlation" default:"0.3"`
			Phantom     float64 `yaml:"phantom" default:"0.2"`
		} `yaml:"risk_weights"`
	} `yaml:"engine" envPrefix:"ENGINE_"`
	Pipeline struct {
		QueueSize     int           `yaml:"queue_size" default:"8192" validate:"gte=1"`
		ReorderWindow time.Duration `yaml:"reorder_window" default:"250ms"`
	} `yaml:"pipeline"`
	Refresh struct {
		Interval      time.Duration `yaml:"interval" env:"INTERVAL" default:"1s"`
		PruneInterval time.Duration `yaml:"prune_interval" default:"30s"`
	} `yaml:"refresh" envPrefix:"REFRESH_"`
	Dispatch struct {
		QueueSize    int           `yaml:"queue_size" default:"64" validate:"gte=1"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
	} `yaml:"dispatch"`
	Alerts struct {
		VPINWarn          float64       `yaml:"vpin_warn" default:"0.5"`
		VPINCrit          float64       `yaml:"vpin_crit" default:"0.7"`
		PhantomWarn       float64       `yaml:"phantom_warn" default:"0.4"`
		PhantomCrit       float64       `yaml:"phantom_crit" default:"0.6"`
		LiquidationWarn   float64       `yaml:"liquidation_warn" default:"0.7"`
		LiquidationCrit   float64       `yaml:"liquidation_crit" default:"0.85"`
		DrawdownWarn      float64       `yaml:"drawdown_warn" default:"0.15"`
		DrawdownCrit      float64       `yaml:"drawdown_crit" default:"0.25"`
		ConcentrationWarn float64       `yaml:"concentration_warn" default:"0.15"`
		CancelRateWarn    float64       `yaml:"cancel_rate_warn" default:"0.5"`
		FleetingWarn      float64       `yaml:"fleeting_warn" default:"0.2"`
		Cooldown          time.Duration `yaml:"cooldown" default:"5m"`
		RingSize          int           `yaml:"ring_size" default:"1000" validate:"gte=1"`
		WebhookURL        string        `yaml:"webhook_url" env:"WEBHOOK_URL" validate:"omitempty,url"`
	} `yaml:"alerts" envPrefix:"ALERTS_"`
	Kafka struct {
		Enabled        bool     `yaml:"enabled" env:"ENABLED"`
		Brokers        []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
		SnapshotsTopic string   `yaml:"snapshots_topic" default:"vaultpulse.snapshots"`
		AlertsTopic    string   `yaml:"alerts_topic" default:"vaultpulse.alerts"`
		LogsTopic      string   `yaml:"logs_topic" default:"vaultpulse.logs"`
		EventsTopic    string   `yaml:"events_topic" env:"EVENTS_TOPIC"`
		RequiredAcks   int      `yaml:"required_acks" default:"-1"`
		Compression    string   `yaml:"compression" default:"lz4" validate:"oneof=gzip snappy lz4 zstd"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID         string        `yaml:"group_id" default:"vaultpulse"`
			AutoOffsetReset string        `yaml:"auto_offset_reset" default:"latest" validate:"oneof=earliest latest"`
			Workers         int           `yaml:"workers" default:"1"`
			BufferSize      int           `yaml:"buffer_size" default:"256"`
			RetryMax        int           `yaml:"retry_max" default:"3"`
			BackoffMin      time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax      time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic        string        `yaml:"dlq_topic"`
			MinBytes        int           `yaml:"min_bytes" default:"1"`
			MaxBytes        int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka" envPrefix:"KAFKA_"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled" env:"ENABLED"`
		Host             string        `yaml:"host" env:"HOST" default:"localhost"`
		Port             int           `yaml:"port" env:"PORT" default:"9000"`
		Database         string        `yaml:"database" default:"vaultpulse"`
		User             string        `yaml:"user" env:"USER" default:"default"`
		Password         string        `yaml:"password" env:"PASSWORD"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		HistoryCacheTTL  time.Duration `yaml:"history_cache_ttl" default:"5s"`
	} `yaml:"clickhouse" envPrefix:"CLICKHOUSE_"`
	Redis struct {
		Enabled         bool          `yaml:"enabled" env:"ENABLED"`
		Host            string        `yaml:"host" env:"HOST" default:"localhost"`
		Port            int           `yaml:"port" env:"PORT" default:"6379"`
		Password        string        `yaml:"password" env:"PASSWORD"`
		DB              int           `yaml:"db"`
		Prefix          string        `yaml:"prefix" default:"vaultpulse"`
		Channel         string        `yaml:"channel" default:"snapshots"`
		SnapshotTTL     time.Duration `yaml:"snapshot_ttl" default:"1m"`
		MemoryCacheSize int           `yaml:"memory_cache_size" default:"1000"`
		Queue           struct {
			Workers    int           `yaml:"workers" default:"2"`
			RetryLimit int           `yaml:"retry_limit" default:"3"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		} `yaml:"queue"`
	} `yaml:"redis" envPrefix:"REDIS_"`
}

const (
	minRefreshInterval = 50 * time.Millisecond
	minPollInterval    = 100 * time.Millisecond
)

// Load reads a YAML file, fills defaults and validates.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := finish(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadWithEnv is Load with VP_-prefixed environment overrides applied
// before defaults and validation.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := finish(c); err != nil {
		return nil, err
	}
	return c, nil
}

func read(path string) (*Config, error) {
	var c Config
	if path == "" {
		return &c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func finish(c *Config) error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	if len(c.Hyperliquid.Coins) == 0 {
		c.Hyperliquid.Coins = []string{"BTC", "ETH"}
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks struct tags and the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error
	if c.Refresh.Interval < minRefreshInterval {
		errs = append(errs, fmt.Errorf("refresh.interval %s below %s", c.Refresh.Interval, minRefreshInterval))
	}
	if c.Hyperliquid.AccountPollInterval < minPollInterval {
		errs = append(errs, fmt.Errorf("hyperliquid.account_poll_interval %s below %s", c.Hyperliquid.AccountPollInterval, minPollInterval))
	}
	if c.Engine.BucketThreshold <= 0 {
		errs = append(errs, fmt.Errorf("engine.bucket_threshold must be positive"))
	}
	if c.Engine.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.window_size must be positive"))
	}
	if c.Engine.Retention < c.Engine.Orders.Horizon {
		errs = append(errs, fmt.Errorf("engine.retention %s shorter than engine.orders.horizon %s", c.Engine.Retention, c.Engine.Orders.Horizon))
	}
	pw := c.Engine.PhantomWeights
	if err := weights("engine.phantom_weights", pw.Fleeting, pw.Fill, pw.Layering, pw.Spoofing, pw.Realization); err != nil {
		errs = append(errs, err)
	}
	rw := c.Engine.RiskWeights
	if err := weights("engine.risk_weights", rw.Margin, rw.Drawdown); err != nil {
		errs = append(errs, err)
	}
	if err := weights("engine.risk_weights", rw.HHI, rw.Correlation, rw.Phantom); err != nil {
		errs = append(errs, err)
	}
	a := c.Alerts
	for name, pair := range map[string][2]float64{
		"vpin":        {a.VPINWarn, a.VPINCrit},
		"phantom":     {a.PhantomWarn, a.PhantomCrit},
		"liquidation": {a.LiquidationWarn, a.LiquidationCrit},
		"drawdown":    {a.DrawdownWarn, a.DrawdownCrit},
	} {
		if pair[1] > 0 && pair[0] > pair[1] {
			errs = append(errs, fmt.Errorf("alerts.%s_warn above alerts.%s_crit", name, name))
		}
	}
	if (c.Kafka.Enabled || c.Kafka.EventsTopic != "") && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka.brokers required when kafka is used"))
	}
	return errors.Join(errs...)
}

func weights(name string, ws ...float64) error {
	var sum float64
	for _, w := range ws {
		if w < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("%s sum to zero", name)
	}
	return nil
}
