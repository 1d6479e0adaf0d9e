//go:build wireinject
// +build wireinject

package di

import (
	"VaultPulse/pkg/config"
	"VaultPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideDomainMetrics,

		// Engine
		ProvideEngineConfig,
		ProvideAlertThresholds,
		ProvideStateManager,
		ProvideIngestPipeline,
		ProvideAlertEvaluator,

		// Venue
		ProvideHTTPClient,
		ProvideHyperliquidStream,
		ProvideInfoClient,
		ProvideAccountPoller,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideRedisCache,

		// Sinks and readers
		ProvideSnapshotStore,
		ProvideKafkaPublisher,
		ProvideSnapshotCache,
		ProvideHistoryReader,
		ProvideAlertQueue,
		ProvideStreamHub,

		// Use cases
		ProvideDispatcher,
		ProvideRefresher,
		ProvideEventCollector,
		ProvideKafkaConsumer,

		// Transport
		ProvideMetricsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
