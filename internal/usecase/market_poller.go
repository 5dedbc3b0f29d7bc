package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/pkg/logger"
	"TradePulse/pkg/store"
	"TradePulse/pkg/util"
)

const fetchNoteMax = 160

// TickPublisher accepts reconciled ticks for emission on the bus.
type TickPublisher interface {
	Publish(ctx context.Context, t models.Tick) error
}

type PollerConfig struct {
	Symbols      []string
	Interval     time.Duration
	FetchTimeout time.Duration
	FetchLogSize int64
}

// MarketPoller runs one reconciliation pass over every symbol per interval.
type MarketPoller struct {
	cfg        PollerConfig
	feeds      []drepo.PriceFeed
	stub       drepo.PriceFeed
	reconciler *Reconciler
	store      store.Store
	ticks      TickPublisher
	journal    drepo.Journal
	metrics    drepo.Metrics
	log        *logger.Logger
}

// NewMarketPoller wires the poller. stub may be nil; it is only asked when no other feed answers.
func NewMarketPoller(
	cfg PollerConfig,
	feeds []drepo.PriceFeed,
	stub drepo.PriceFeed,
	st store.Store,
	ticks TickPublisher,
	journal drepo.Journal,
	metrics drepo.Metrics,
	log *logger.Logger,
) *MarketPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.FetchLogSize <= 0 {
		cfg.FetchLogSize = 400
	}
	if journal == nil {
		journal = drepo.NopJournal{}
	}
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MarketPoller{
		cfg:        cfg,
		feeds:      feeds,
		stub:       stub,
		reconciler: NewReconciler(),
		store:      st,
		ticks:      ticks,
		journal:    journal,
		metrics:    metrics,
		log:        log,
	}
}

// Run polls until ctx is done. The first cycle starts immediately.
func (p *MarketPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Cycle(ctx, p.cfg.Symbols); err != nil && ctx.Err() == nil {
			p.log.Warn("market poller: cycle failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type fetchResult struct {
	source  string
	reading *models.Reading
	err     error
	latency time.Duration
}

// Cycle fetches, reconciles and publishes one tick per symbol that has data.
func (p *MarketPoller) Cycle(ctx context.Context, symbols []string) ([]models.Tick, error) {
	stats := models.SourceStats{Time: time.Now().UTC(), Sources: make(map[string]int)}
	ticks := make([]models.Tick, 0, len(symbols))

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return ticks, err
		}
		sym = util.NormalizeSymbol(sym)

		readings := p.collect(ctx, sym, p.feeds)
		if len(readings) == 0 && p.stub != nil {
			readings = p.collect(ctx, sym, []drepo.PriceFeed{p.stub})
		}
		if len(readings) == 0 {
			stats.Failed++
			p.appendFetchLog(ctx, sym, "none", models.FetchFailedAll, "no source returned a price")
			continue
		}

		tick, err := p.reconciler.Reconcile(sym, readings)
		if err != nil {
			stats.Failed++
			p.appendFetchLog(ctx, sym, "none", models.FetchFailedAll, err.Error())
			continue
		}
		for _, rd := range tick.Readings {
			stats.Sources[rd.Source]++
		}

		if err := p.store.Set(ctx, store.Key(KeyMarketData, sym), tick, 0); err != nil {
			p.log.Warn("market poller: store tick failed", logger.String("symbol", sym), logger.Error(err))
			p.metrics.RecordError("store_tick")
		}
		p.metrics.RecordLastPrice(sym, tick.Price)

		if p.ticks != nil {
			if err := p.ticks.Publish(ctx, tick); err != nil {
				p.log.Warn("market poller: publish tick failed", logger.String("symbol", sym), logger.Error(err))
			}
		}
		ticks = append(ticks, tick)
	}

	if err := p.store.Set(ctx, KeySourceStats, stats, 0); err != nil {
		p.log.Warn("market poller: store source stats failed", logger.Error(err))
	}
	if len(ticks) > 0 {
		if err := p.journal.RecordTicks(ctx, ticks); err != nil {
			p.log.Warn("market poller: journal ticks failed", logger.Int("count", len(ticks)), logger.Error(err))
			p.metrics.RecordError("journal_ticks")
		}
	}

	p.log.Debug("market poller: cycle done",
		logger.Int("symbols", len(symbols)),
		logger.Int("ticks", len(ticks)),
		logger.Int("failed", stats.Failed),
	)
	return ticks, nil
}

// collect queries feeds concurrently and keeps the readings that came back.
func (p *MarketPoller) collect(ctx context.Context, symbol string, feeds []drepo.PriceFeed) []models.Reading {
	results := make([]fetchResult, len(feeds))

	var wg sync.WaitGroup
	for i, f := range feeds {
		wg.Add(1)
		go func(i int, f drepo.PriceFeed) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
			defer cancel()

			start := time.Now()
			rd, err := f.Fetch(fctx, symbol)
			results[i] = fetchResult{source: f.Name(), reading: rd, err: err, latency: time.Since(start)}
		}(i, f)
	}
	wg.Wait()

	out := make([]models.Reading, 0, len(results))
	for _, r := range results {
		p.metrics.RecordFeedLatency(r.source, r.latency.Seconds())

		status, note := p.classify(r)
		p.metrics.RecordFetch(r.source, status)
		p.appendFetchLog(ctx, symbol, r.source, status, note)

		if status != models.FetchOK {
			if r.err != nil {
				p.log.Debug("market poller: source unavailable",
					logger.String("symbol", symbol),
					logger.String("source", r.source),
					logger.Error(r.err),
				)
			}
			continue
		}
		rd := *r.reading
		if rd.Source == "" {
			rd.Source = r.source
		}
		out = append(out, rd)
	}
	return out
}

func (p *MarketPoller) classify(r fetchResult) (string, string) {
	switch {
	case errors.Is(r.err, models.ErrCircuitOpen):
		return models.FetchBreakerOpen, r.err.Error()
	case r.err != nil:
		return models.FetchError, r.err.Error()
	case r.reading == nil || !r.reading.Numeric():
		return models.FetchEmpty, "no price"
	default:
		return models.FetchOK, fmt.Sprintf("price=%.4f", r.reading.Price)
	}
}

func (p *MarketPoller) appendFetchLog(ctx context.Context, symbol, source, status, note string) {
	entry := models.FetchLogEntry{
		Time:   time.Now().UTC(),
		Ticker: symbol,
		Source: source,
		Status: status,
		Note:   util.Truncate(note, fetchNoteMax),
	}
	if err := p.store.PushCapped(ctx, KeyFetchLog, entry, p.cfg.FetchLogSize); err != nil {
		p.log.Debug("market poller: fetch log append failed", logger.Error(err))
	}
}
