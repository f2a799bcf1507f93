//go:build wireinject
// +build wireinject

package di

import (
	"TradeEngine/pkg/config"
	"TradeEngine/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires every dependency. The returned cleanup closes clients in
// reverse construction order.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideKafkaEventPublisher,
		ProvideLogger,
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvidePostgresPool,

		// Repositories
		ProvideStateStore,
		ProvideOutboxQueue,
		ProvideBus,
		ProvideStatusTracker,
		ProvideEventPublisher,
		ProvideMemoryCandleHistory,
		ProvideCandleHistory,
		ProvideEventLog,

		// Use cases
		ProvideVenue,
		ProvideEngine,
		ProvidePipeline,
		ProvideMarketStream,
		ProvideMarketCollector,
		ProvideKafkaConsumer,

		// HTTP and application
		ProvideEngineHandler,
		ProvideHealthHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
