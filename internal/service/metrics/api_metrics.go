package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vaultpulse",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of metrics API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultpulse",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by metrics API endpoint",
		},
		[]string{"endpoint"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vaultpulse",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		},
	)

	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vaultpulse",
			Subsystem: "api",
			Name:      "stream_clients",
			Help:      "Connected websocket snapshot subscribers",
		},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, RateLimited, StreamClients)
	})
}
