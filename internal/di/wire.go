//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"TradePulse/pkg/config"
	"TradePulse/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideStore,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideJournal,
		ProvideEventSink,

		// Bus and transport
		ProvideSession,
		ProvideBus,
		ProvideTickPipeline,
		ProvideFeeds,
		ProvideVenue,
		ProvideMarketClock,

		// Use cases
		ProvideMarketPoller,
		ProvideStrategyEngine,
		ProvideAggregator,
		ProvideRiskGate,
		ProvideDeviationTracker,
		ProvidePredictionIntake,

		// HTTP
		ProvideOpsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
