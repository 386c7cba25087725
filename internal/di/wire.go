//go:build wireinject
// +build wireinject

package di

import (
	"PulseBoard/pkg/config"
	"PulseBoard/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application plus a
// cleanup that closes infrastructure clients.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideClock,
		ProvideRegistry,
		ProvideMetrics,
		ProvideStore,
		ProvideKeyValue,
		ProvideKafkaConsumer,

		// Repositories
		ProvideSettingsStore,
		ProvideHistoryStore,
		ProvidePublisher,

		// Sources and use cases
		ProvideSystemCollector,
		ProvideCaches,
		ProvideBroadcaster,
		ProvideAlertService,
		ProvideAlertEvaluator,
		ProvideDashboardService,
		ProvideSystemService,
		ProvideSchedule,
		ProvideCoordinator,

		// Transport and application
		ProvideHTTPHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
