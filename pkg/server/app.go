package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"TradePulse/internal/domain/repository"
	"TradePulse/internal/eventbus"
	mid "TradePulse/internal/middleware"
	"TradePulse/internal/service/finnhub"
	"TradePulse/internal/usecase"
	"TradePulse/pkg/config"
	xhttp "TradePulse/pkg/http"
	pkgkafka "TradePulse/pkg/kafka"
	applogger "TradePulse/pkg/logger"
	"TradePulse/pkg/store"
)

// Components are the long-lived parts started and stopped by App.
// Sink, Stream, Producer and Consumer may be nil.
type Components struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Store      store.Store
	Bus        *eventbus.Bus
	Sink       repository.EventSink
	Pipeline   *mid.TickPipeline
	Stream     *finnhub.Stream
	Poller     *usecase.MarketPoller
	Gate       *usecase.RiskGate
	Session    *usecase.Session
	Tracker    *usecase.DeviationTracker
	Journal    repository.Journal
	Producer   *pkgkafka.Producer
	Consumer   *pkgkafka.Consumer
	HTTPServer *xhttp.Server
}

// App encapsulates the entire application lifecycle.
type App struct {
	c   Components
	log *applogger.Logger

	cancel  context.CancelFunc
	workers sync.WaitGroup
}

func New(c Components) *App {
	log := c.Logger
	if log == nil {
		log = applogger.Nop()
	}
	return &App{c: c, log: log}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.Shutdown()
}

// Start loads the risk ledger, then launches the bus, the background loops and the servers.
// A store failure while loading the ledger is fatal.
func (a *App) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel
	cfg := a.c.Config

	if err := a.c.Gate.Load(ctx); err != nil {
		cancel()
		return fmt.Errorf("risk gate: %w", err)
	}
	if err := a.c.Journal.Init(ctx); err != nil {
		a.log.Warn("journal: schema init failed", applogger.Error(err))
	}

	if err := a.c.Bus.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("event bus: %w", err)
	}
	a.c.Pipeline.Start(ctx)

	if cfg.Trading.AutoStart {
		if info, err := a.c.Session.Activate(); err == nil {
			a.log.Info("trading session activated", applogger.String("session_id", info.ID))
		}
	}

	if a.c.Stream != nil {
		a.spawn(func() { a.c.Stream.Run(ctx) })
	}
	a.spawn(func() { a.c.Poller.Run(ctx) })
	a.spawn(func() { a.c.Tracker.Run(ctx) })
	a.log.Info("market poller started",
		applogger.Strings("symbols", cfg.Symbols),
		applogger.Duration("interval", cfg.Feeds.PollInterval),
	)

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Start(); err != nil {
			a.log.Error("kafka consumer start failed", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.String("topic", cfg.Kafka.PredictionsTopic))
		}
	}

	return a.c.HTTPServer.Start()
}

func (a *App) spawn(fn func()) {
	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		fn()
	}()
}

// Shutdown stops intake first, then drains the bus, then closes the clients.
func (a *App) Shutdown() error {
	cfg := a.c.Config
	info := a.c.Session.Deactivate()
	a.log.Info("shutting down", applogger.String("session_id", info.ID), applogger.Int("trades_in_run", info.TradesInRun))
	if a.cancel != nil {
		a.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+cfg.Bus.ShutdownGrace)
	defer cancel()

	var errs []error
	if err := a.c.HTTPServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if a.c.Stream != nil {
		_ = a.c.Stream.Close()
	}
	a.c.Pipeline.Stop()
	if err := a.c.Bus.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("event bus: %w", err))
	}
	if !waitTimeout(&a.workers, 5*time.Second) {
		a.log.Warn("background loops did not stop in time")
	}

	if a.c.Sink != nil {
		if err := a.c.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event sink: %w", err))
		}
	}
	a.log.RemoveCollector()
	if a.c.Producer != nil {
		if err := a.c.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka producer: %w", err))
		}
	}
	if err := a.c.Journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal: %w", err))
	}
	if err := a.c.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		a.log.Error("shutdown finished with errors", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
