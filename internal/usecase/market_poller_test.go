package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/pkg/store"
)

type capturePublisher struct {
	mu    sync.Mutex
	ticks []models.Tick
}

func (c *capturePublisher) Publish(_ context.Context, t models.Tick) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = append(c.ticks, t)
	return nil
}

type captureJournal struct {
	drepo.NopJournal
	mu    sync.Mutex
	ticks []models.Tick
}

func (j *captureJournal) RecordTicks(_ context.Context, ticks []models.Tick) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ticks = append(j.ticks, ticks...)
	return nil
}

func fetchLog(t *testing.T, st store.Store) []models.FetchLogEntry {
	t.Helper()
	entries, err := store.RangeTyped[models.FetchLogEntry](context.Background(), st, KeyFetchLog, 0, -1)
	require.NoError(t, err)
	return entries
}

func TestMarketPoller_CycleReconcilesAndLogs(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &capturePublisher{}
	journal := &captureJournal{}
	stub := &staticFeed{name: SourceStub, reading: &models.Reading{Price: 1}}

	feeds := []drepo.PriceFeed{
		&staticFeed{name: SourceFinnhub, reading: &models.Reading{Price: 100, Volume: 500}},
		&staticFeed{name: SourceTwelveData, err: fmt.Errorf("%w: http 500", models.ErrSourceUnavailable)},
		&staticFeed{name: SourceFMP},
	}
	p := NewMarketPoller(PollerConfig{FetchLogSize: 400}, feeds, stub, st, pub, journal, nil, nil)

	ticks, err := p.Cycle(context.Background(), []string{"aapl"})
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, "AAPL", ticks[0].Symbol)
	assert.Equal(t, 100.0, ticks[0].Price)
	assert.Equal(t, 0, stub.calls, "stub is only a fallback")

	stored, err := LatestTick(context.Background(), st, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 100.0, stored.Price)

	statuses := map[string]string{}
	for _, e := range fetchLog(t, st) {
		statuses[e.Source] = e.Status
	}
	assert.Equal(t, models.FetchOK, statuses[SourceFinnhub])
	assert.Equal(t, models.FetchError, statuses[SourceTwelveData])
	assert.Equal(t, models.FetchEmpty, statuses[SourceFMP])

	var stats models.SourceStats
	require.NoError(t, st.Get(context.Background(), KeySourceStats, &stats))
	assert.Equal(t, 1, stats.Sources[SourceFinnhub])
	assert.Equal(t, 0, stats.Failed)

	assert.Len(t, pub.ticks, 1)
	assert.Len(t, journal.ticks, 1)
}

func TestMarketPoller_StubFallbackAndFailedAll(t *testing.T) {
	st := store.NewMemoryStore()
	down := &staticFeed{name: SourceFinnhub, err: fmt.Errorf("feed:finnhub: %w", models.ErrCircuitOpen)}

	withStub := NewMarketPoller(PollerConfig{}, []drepo.PriceFeed{down},
		&staticFeed{name: SourceStub, reading: &models.Reading{Price: 200}}, st, nil, nil, nil, nil)
	ticks, err := withStub.Cycle(context.Background(), []string{"MSFT"})
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, SourceStub, ticks[0].PrimarySource)

	noStub := NewMarketPoller(PollerConfig{}, []drepo.PriceFeed{down}, nil, st, nil, nil, nil, nil)
	ticks, err = noStub.Cycle(context.Background(), []string{"TSLA"})
	require.NoError(t, err)
	assert.Empty(t, ticks)

	var sawBreaker, sawFailedAll bool
	for _, e := range fetchLog(t, st) {
		if e.Source == SourceFinnhub && e.Status == models.FetchBreakerOpen {
			sawBreaker = true
		}
		if e.Ticker == "TSLA" && e.Source == "none" && e.Status == models.FetchFailedAll {
			sawFailedAll = true
		}
	}
	assert.True(t, sawBreaker)
	assert.True(t, sawFailedAll)

	var stats models.SourceStats
	require.NoError(t, st.Get(context.Background(), KeySourceStats, &stats))
	assert.Equal(t, 1, stats.Failed)
}

func TestMarketPoller_FetchLogIsCapped(t *testing.T) {
	st := store.NewMemoryStore()
	feed := &staticFeed{name: SourceFinnhub, reading: &models.Reading{Price: 10}}
	p := NewMarketPoller(PollerConfig{FetchLogSize: 5}, []drepo.PriceFeed{feed}, nil, st, nil, nil, nil, nil)

	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	_, err := p.Cycle(context.Background(), symbols)
	require.NoError(t, err)

	entries := fetchLog(t, st)
	require.Len(t, entries, 5)
	assert.Equal(t, "H", entries[len(entries)-1].Ticker)
}

func TestMarketPoller_StopsOnCancelledContext(t *testing.T) {
	st := store.NewMemoryStore()
	p := NewMarketPoller(PollerConfig{}, nil, nil, st, nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Cycle(ctx, []string{"AAPL"})
	assert.True(t, errors.Is(err, context.Canceled))
}
