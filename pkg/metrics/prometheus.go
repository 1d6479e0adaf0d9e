package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"VaultPulse/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	eventsTotal  *prometheus.CounterVec
	messagesSent *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
	vpin         *prometheus.GaugeVec
	phantom      *prometheus.GaugeVec
	risk         *prometheus.GaugeVec
	generation   prometheus.Gauge
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		eventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultpulse_events_ingested_total",
				Help: "Events applied to the engine",
			},
			[]string{"kind", "asset"},
		),
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultpulse_messages_sent_total",
				Help: "Total number of messages sent to a sink",
			},
			[]string{"backend", "key"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultpulse_errors_total",
				Help: "Errors and drops by reason",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vaultpulse_last_price",
				Help: "Last trade price for an asset",
			},
			[]string{"asset"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		vpin: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vaultpulse_vpin",
				Help: "Flow toxicity per asset, -1 while not ready",
			},
			[]string{"asset"},
		),
		phantom: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vaultpulse_phantom_composite",
				Help: "Phantom liquidity composite per asset, -1 while not ready",
			},
			[]string{"asset"},
		),
		risk: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vaultpulse_account_risk",
				Help: "Account risk components",
			},
			[]string{"component"},
		),
		generation: f.NewGauge(prometheus.GaugeOpts{
			Name: "vaultpulse_snapshot_generation",
			Help: "Generation of the latest published snapshot",
		}),
	}
}

// RecordEvent counts one applied event.
func (r *Recorder) RecordEvent(kind, asset string) {
	r.eventsTotal.WithLabelValues(kind, asset).Inc()
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, key string) {
	r.messagesSent.WithLabelValues(backend, key).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for an asset.
func (r *Recorder) RecordLastPrice(asset string, price float64) {
	r.lastPrice.WithLabelValues(asset).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordSnapshot exports the score gauges of a snapshot.
func (r *Recorder) RecordSnapshot(s *models.MetricsSnapshot) {
	if s == nil {
		return
	}
	r.generation.Set(float64(s.Generation))
	for name, a := range s.Assets {
		r.vpin.WithLabelValues(name).Set(gaugeValue(a.VPIN))
		r.phantom.WithLabelValues(name).Set(gaugeValue(a.Phantom.Composite))
		if a.LastPrice > 0 {
			r.lastPrice.WithLabelValues(name).Set(a.LastPrice)
		}
	}
	if rs := s.Risk.Snapshot; rs != nil {
		r.risk.WithLabelValues("liquidation").Set(rs.LiquidationRisk)
		r.risk.WithLabelValues("cascade").Set(rs.CascadeRisk)
		r.risk.WithLabelValues("drawdown").Set(rs.Drawdown)
		r.risk.WithLabelValues("hhi").Set(rs.HHI)
	}
}

// Forget drops the per-asset series of a pruned asset.
func (r *Recorder) Forget(asset string) {
	r.vpin.DeleteLabelValues(asset)
	r.phantom.DeleteLabelValues(asset)
	r.lastPrice.DeleteLabelValues(asset)
}

func gaugeValue(s models.Score) float64 {
	if v, ok := s.Get(); ok {
		return v
	}
	return -1
}

// Noop discards everything. Used where metrics are optional.
type Noop struct{}

func (Noop) RecordEvent(string, string)             {}
func (Noop) RecordError(string)                     {}
func (Noop) RecordMessageSent(string, string)       {}
func (Noop) RecordLastPrice(string, float64)        {}
func (Noop) RecordLatency(string, float64)          {}
func (Noop) RecordSnapshot(*models.MetricsSnapshot) {}
