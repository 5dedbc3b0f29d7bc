package di

import (
	"fmt"
	"time"

	"TradePulse/internal/domain/models"
	"TradePulse/internal/domain/repository"
	"TradePulse/internal/eventbus"
	"TradePulse/internal/handler/api"
	mid "TradePulse/internal/middleware"
	internalrepo "TradePulse/internal/repository"
	"TradePulse/internal/service/alpaca"
	"TradePulse/internal/service/breaker"
	"TradePulse/internal/service/finnhub"
	"TradePulse/internal/service/fmp"
	"TradePulse/internal/service/ratelimit"
	"TradePulse/internal/service/stub"
	"TradePulse/internal/service/twelvedata"
	"TradePulse/internal/usecase"
	pkgch "TradePulse/pkg/clickhouse"
	"TradePulse/pkg/config"
	xhttp "TradePulse/pkg/http"
	pkgkafka "TradePulse/pkg/kafka"
	applogger "TradePulse/pkg/logger"
	"TradePulse/pkg/metrics"
	"TradePulse/pkg/server"
	"TradePulse/pkg/store"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: "tradepulse",
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

// ProvideStore connects the shared store. An unreachable Redis is fatal.
func ProvideStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.Backend == "memory" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewRedisStore(
		store.WithRedisHost(cfg.Store.Host),
		store.WithRedisPort(cfg.Store.Port),
		store.WithRedisPassword(cfg.Store.Password),
		store.WithRedisDB(cfg.Store.DB),
		store.WithRedisPool(cfg.Store.PoolSize, 5, 30*time.Second),
		store.WithRedisPrefix(cfg.Store.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return st, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithClientID("tradepulse"),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventSink forwards bus events to Kafka. It is nil without a producer.
func ProvideEventSink(
	cfg *config.Config,
	producer *pkgkafka.Producer,
	m repository.Metrics,
	l *applogger.Logger,
) repository.EventSink {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventSink(internalrepo.SinkConfig{
		Topic:        cfg.Kafka.EventsTopic,
		BatchSize:    cfg.Kafka.Producer.BatchSize,
		WriteTimeout: cfg.Kafka.Producer.WriteTimeout,
	}, producer, m, l.With(applogger.String("component", "kafka_sink")))
}

// ProvideJournal creates the ClickHouse journal, or a no-op journal when disabled.
func ProvideJournal(cfg *config.Config, l *applogger.Logger) (repository.Journal, error) {
	if !cfg.ClickHouse.Enabled {
		return repository.NopJournal{}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return internalrepo.NewClickHouseJournal(client, l.With(applogger.String("component", "journal"))), nil
}

// ProvideSession creates the inactive trading session shared by the gate and the bus.
func ProvideSession() *usecase.Session {
	return usecase.NewSession()
}

// ProvideBus creates the event bus. Handlers are bound in ProvideApp.
func ProvideBus(
	cfg *config.Config,
	st store.Store,
	sink repository.EventSink,
	session *usecase.Session,
	m repository.Metrics,
	l *applogger.Logger,
) *eventbus.Bus {
	opts := []eventbus.Option{
		eventbus.WithLogger(l.With(applogger.String("component", "event_bus"))),
		eventbus.WithMetrics(m),
		eventbus.WithSession(session),
	}
	if sink != nil {
		opts = append(opts, eventbus.WithSink(sink))
	}
	return eventbus.New(st, eventbus.Config{
		StreamMaxLen:    cfg.Bus.StreamMaxLen,
		PriorityMaxLen:  cfg.Bus.PriorityMaxLen,
		ReadCount:       cfg.Bus.ReadCount,
		ReadBlock:       cfg.Bus.ReadBlock,
		RetryBackoff:    cfg.Bus.RetryBackoff,
		MetricsInterval: cfg.Bus.MetricsInterval,
		MetricsTTL:      cfg.Bus.MetricsTTL,
		ShutdownGrace:   cfg.Bus.ShutdownGrace,
		DedupSize:       cfg.Bus.DedupSize,
	}, opts...)
}

// ProvideTickPipeline sits between the poller and the bus.
func ProvideTickPipeline(bus *eventbus.Bus, m repository.Metrics, l *applogger.Logger) *mid.TickPipeline {
	return mid.NewTickPipeline(bus, m,
		mid.WithMinInterval(time.Second),
		mid.WithBufferSize(2000),
		mid.WithPipelineLogger(l.With(applogger.String("component", "tick_pipeline"))),
	)
}

// Feeds is the configured set of price sources.
type Feeds struct {
	List   []repository.PriceFeed
	Stub   repository.PriceFeed
	Stream *finnhub.Stream
}

// ProvideFeeds builds every keyed feed behind its own rate limit and breaker.
func ProvideFeeds(cfg *config.Config, st store.Store, l *applogger.Logger) Feeds {
	fc := cfg.Feeds
	lim := ratelimit.New(0, 1)
	bs := breaker.Settings{
		MaxFailures: fc.Breaker.MaxFailures,
		OpenTimeout: fc.Breaker.OpenTimeout,
		Logger:      l,
	}
	guard := func(f repository.PriceFeed, rps float64) repository.PriceFeed {
		lim.Set(f.Name(), rps, 1)
		return breaker.WrapFeed(ratelimit.Wrap(f, lim), bs)
	}

	var feeds Feeds
	if fc.Finnhub.APIKey != "" {
		feeds.List = append(feeds.List, guard(finnhub.New(fc.Finnhub.APIKey, fc.Finnhub.BaseURL, fc.RequestTimeout), fc.Finnhub.RatePerSecond))
		if fc.Finnhub.Stream.Enabled {
			feeds.Stream = finnhub.NewStream(finnhub.StreamConfig{
				APIKey:         fc.Finnhub.APIKey,
				URL:            fc.Finnhub.Stream.URL,
				Symbols:        cfg.Symbols,
				ReconnectDelay: fc.Finnhub.Stream.ReconnectDelay,
				PingInterval:   fc.Finnhub.Stream.PingInterval,
				MaxAge:         fc.Finnhub.Stream.MaxAge,
			}, l.With(applogger.String("component", "finnhub_stream")))
			feeds.List = append(feeds.List, feeds.Stream)
		}
	}
	if fc.TwelveData.APIKey != "" {
		feeds.List = append(feeds.List, guard(twelvedata.New(fc.TwelveData.APIKey, fc.TwelveData.BaseURL, fc.RequestTimeout), fc.TwelveData.RatePerSecond))
	}
	if fc.FMP.APIKey != "" {
		feeds.List = append(feeds.List, guard(fmp.New(fc.FMP.APIKey, fc.FMP.BaseURL, fc.RequestTimeout), fc.FMP.RatePerSecond))
	}
	if fc.Stub.Enabled {
		feeds.Stub = stub.New(usecase.LastPrice(st))
	}
	return feeds
}

// ProvideMarketPoller creates the polling loop.
func ProvideMarketPoller(
	cfg *config.Config,
	feeds Feeds,
	st store.Store,
	pipeline *mid.TickPipeline,
	journal repository.Journal,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.MarketPoller {
	return usecase.NewMarketPoller(usecase.PollerConfig{
		Symbols:      cfg.Symbols,
		Interval:     cfg.Feeds.PollInterval,
		FetchTimeout: cfg.Feeds.RequestTimeout,
		FetchLogSize: cfg.Feeds.FetchLogSize,
	}, feeds.List, feeds.Stub, st, pipeline, journal, m, l.With(applogger.String("component", "market_poller")))
}

// ProvideMarketClock creates the exchange calendar.
func ProvideMarketClock(cfg *config.Config) (*usecase.MarketClock, error) {
	return usecase.NewMarketClock(cfg.Trading.Timezone, cfg.Trading.Holidays)
}

// ProvideVenue creates the execution venue behind its breaker.
func ProvideVenue(cfg *config.Config, l *applogger.Logger) repository.Venue {
	v := cfg.Trading.Venue
	return breaker.WrapVenue(alpaca.New(v.BaseURL, v.APIKey, v.APISecret, v.Timeout), breaker.Settings{
		MaxFailures: cfg.Feeds.Breaker.MaxFailures,
		OpenTimeout: cfg.Feeds.Breaker.OpenTimeout,
		Logger:      l,
	})
}

// ProvideRiskGate creates the risk gate.
func ProvideRiskGate(
	cfg *config.Config,
	st store.Store,
	venue repository.Venue,
	session *usecase.Session,
	clock *usecase.MarketClock,
	journal repository.Journal,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.RiskGate {
	r := cfg.Risk
	return usecase.NewRiskGate(usecase.RiskConfig{
		OrderQty:     cfg.Trading.OrderQty,
		TradeLogSize: cfg.Trading.TradeLogSize,
		Defaults: models.RiskSettings{
			DailyNotionalCap:     r.DailyNotionalCap,
			MaxPositionPerTicker: r.MaxPositionPerTicker,
			CooldownMinutes:      r.CooldownMinutes,
			MaxTradesPerRun:      r.MaxTradesPerRun,
			EmergencyStopActive:  r.EmergencyStopActive,
		},
	}, st, venue, session, clock, journal, m, l.With(applogger.String("component", "risk_gate")))
}

// ProvideStrategyEngine creates the signal strategies.
func ProvideStrategyEngine(cfg *config.Config, st store.Store, m repository.Metrics, l *applogger.Logger) *usecase.StrategyEngine {
	return usecase.NewStrategyEngine(usecase.StrategyConfig{
		HistorySize:       cfg.Strategies.HistorySize,
		SignalHistorySize: cfg.Strategies.SignalHistorySize,
	}, st, m, l.With(applogger.String("component", "strategies")))
}

// ProvideAggregator creates the consensus aggregator.
func ProvideAggregator(cfg *config.Config, m repository.Metrics, l *applogger.Logger) *usecase.Aggregator {
	return usecase.NewAggregator(usecase.ConsensusConfig{
		Window:        cfg.Consensus.Window,
		MinSignals:    cfg.Consensus.MinSignals,
		Threshold:     cfg.Consensus.Threshold,
		IntentTimeout: cfg.Consensus.IntentTimeout,
	}, m, l.With(applogger.String("component", "consensus")))
}

// ProvideDeviationTracker creates the deviation tracker.
func ProvideDeviationTracker(
	cfg *config.Config,
	st store.Store,
	bus *eventbus.Bus,
	journal repository.Journal,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.DeviationTracker {
	return usecase.NewDeviationTracker(usecase.DeviationConfig{
		Interval:      cfg.Deviation.Interval,
		Threshold:     cfg.Deviation.Threshold,
		Debounce:      cfg.Deviation.Debounce,
		HistorySize:   cfg.Deviation.HistorySize,
		QualityWindow: cfg.Deviation.QualityWindow,
	}, st, bus, journal, m, l.With(applogger.String("component", "deviation_tracker")))
}

// ProvidePredictionIntake turns external forecasts into bus events.
func ProvidePredictionIntake(cfg *config.Config, bus *eventbus.Bus, l *applogger.Logger) *usecase.PredictionIntake {
	return usecase.NewPredictionIntake(cfg.Kafka.PredictionsTopic, bus, l.With(applogger.String("component", "prediction_intake")))
}

// ProvideKafkaConsumer creates the prediction consumer, or nil when kafka is disabled.
func ProvideKafkaConsumer(
	cfg *config.Config,
	intake *usecase.PredictionIntake,
	l *applogger.Logger,
) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	cc := cfg.Kafka.Consumer
	opts := []pkgkafka.ConsumerOption{
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cc.GroupID),
		pkgkafka.WithConsumerWorkers(cc.Workers),
		pkgkafka.WithConsumerBufferSize(cc.BufferSize),
		pkgkafka.WithConsumerRetry(cc.RetryMax, cc.BackoffMin, cc.BackoffMax),
		pkgkafka.WithConsumerDLQ(cc.DLQTopic),
		pkgkafka.WithConsumerFetch(cc.MinBytes, cc.MaxBytes),
	}
	if cc.StartLatest {
		opts = append(opts, pkgkafka.WithConsumerStartLatest())
	}
	consumer, err := pkgkafka.NewConsumer(l.With(applogger.String("component", "kafka_consumer")), opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.CorrelationHook())
	consumer.RegisterHandler(intake)
	return consumer, nil
}

// ProvideOpsHandler creates the operator HTTP handler.
func ProvideOpsHandler(
	st store.Store,
	bus *eventbus.Bus,
	gate *usecase.RiskGate,
	session *usecase.Session,
	tracker *usecase.DeviationTracker,
	intake *usecase.PredictionIntake,
	journal repository.Journal,
	l *applogger.Logger,
) *api.OpsHandler {
	return api.NewOpsHandler(l.With(applogger.String("component", "ops_api")), api.Deps{
		Store:   st,
		Bus:     bus,
		Gate:    gate,
		Session: session,
		Tracker: tracker,
		Intake:  intake,
		Checks: map[string]api.HealthCheck{
			"store":   st.Ping,
			"journal": journal.Health,
		},
		Limiter: ratelimit.New(5, 10),
	})
}

// ProvideHTTPServer creates the echo server with the ops routes.
func ProvideHTTPServer(cfg *config.Config, h *api.OpsHandler, l *applogger.Logger) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
	)
}

// ProvideApp binds the bus handlers and assembles the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	st store.Store,
	bus *eventbus.Bus,
	sink repository.EventSink,
	pipeline *mid.TickPipeline,
	feeds Feeds,
	poller *usecase.MarketPoller,
	engine *usecase.StrategyEngine,
	agg *usecase.Aggregator,
	gate *usecase.RiskGate,
	session *usecase.Session,
	tracker *usecase.DeviationTracker,
	journal repository.Journal,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	httpServer *xhttp.Server,
) *server.App {
	BindHandlers(bus, engine, agg, gate, tracker)

	if cfg.Log.Collect && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Log.FlushInterval,
			Topic:        cfg.Kafka.LogsTopic,
			Publisher:    producer,
		})
	}

	return server.New(server.Components{
		Config:     cfg,
		Logger:     l,
		Store:      st,
		Bus:        bus,
		Sink:       sink,
		Pipeline:   pipeline,
		Stream:     feeds.Stream,
		Poller:     poller,
		Gate:       gate,
		Session:    session,
		Tracker:    tracker,
		Journal:    journal,
		Producer:   producer,
		Consumer:   consumer,
		HTTPServer: httpServer,
	})
}

// BindHandlers subscribes the pipeline stages to their event types.
func BindHandlers(
	bus *eventbus.Bus,
	engine *usecase.StrategyEngine,
	agg *usecase.Aggregator,
	gate *usecase.RiskGate,
	tracker *usecase.DeviationTracker,
) {
	bus.Register(models.EventMarketTick, "strategies", engine.HandleTick)
	bus.Register(models.EventTradingSignal, "consensus", agg.HandleSignal)
	bus.Register(models.EventTradingOrderPlaced, "risk_gate", gate.HandleIntent)
	bus.Register(models.EventTradingOrderFilled, "consensus_resolve", agg.HandleOutcome)
	bus.Register(models.EventTradingOrderCancelled, "consensus_resolve", agg.HandleOutcome)
	bus.Register(models.EventUserEmergencyStop, "risk_gate_stop", gate.HandleEmergencyStop)
	bus.Register(models.EventAIPredictionReady, "deviation_tracker", tracker.HandlePrediction)
}
