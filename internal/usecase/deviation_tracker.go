package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/eventbus"
	"TradePulse/pkg/logger"
	"TradePulse/pkg/store"
)

const (
	retrainPriority   = 8
	retrainTrigger    = "deviation"
	dueBatch          = 500
	recordGracePeriod = 24 * time.Hour
)

// DeviationConfig tunes the tracker. QualityWindow is the trailing window of
// the quality snapshot taken after every cycle that resolves records.
type DeviationConfig struct {
	Interval      time.Duration
	Threshold     float64
	Debounce      time.Duration
	HistorySize   int64
	QualityWindow time.Duration
}

// Deviation returns |predicted-actual|/actual; false when actual is zero or missing.
func Deviation(predicted, actual float64) (float64, bool) {
	if actual == 0 || math.IsNaN(actual) {
		return 0, false
	}
	return math.Abs(predicted-actual) / actual, true
}

// DeviationTracker matches due predictions to realized prices and escalates retraining.
type DeviationTracker struct {
	cfg     DeviationConfig
	store   store.Store
	emitter drepo.Emitter
	journal drepo.Journal
	metrics drepo.Metrics
	log     *logger.Logger

	retrainMu sync.Mutex
	now       func() time.Time
}

func NewDeviationTracker(
	cfg DeviationConfig,
	st store.Store,
	emitter drepo.Emitter,
	journal drepo.Journal,
	metrics drepo.Metrics,
	log *logger.Logger,
) *DeviationTracker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.08
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 30 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	if cfg.QualityWindow <= 0 {
		cfg.QualityWindow = 24 * time.Hour
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
	return &DeviationTracker{
		cfg:     cfg,
		store:   st,
		emitter: emitter,
		journal: journal,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Track queues one pending record per horizon of p. Redelivering the same event id is a no-op.
func (d *DeviationTracker) Track(ctx context.Context, eventID string, p models.PredictionPayload, issuedAt time.Time) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if !p.IssuedAt.IsZero() {
		issuedAt = p.IssuedAt
	}

	if price, ok := p.Horizons["15"]; ok && price > 0 {
		mp := models.ModelPrediction{Symbol: p.Symbol, Price15Min: price, Confidence: p.Confidence, Timestamp: issuedAt.UTC()}
		if err := d.store.Set(ctx, store.Key(KeyModelPrediction, p.Symbol), mp, 0); err != nil {
			return 0, fmt.Errorf("store model prediction: %w", err)
		}
	}

	horizons := make([]string, 0, len(p.Horizons))
	for h := range p.Horizons {
		horizons = append(horizons, h)
	}
	sort.Strings(horizons)

	queued := 0
	for _, h := range horizons {
		minutes, err := strconv.Atoi(h)
		if err != nil || minutes <= 0 {
			d.log.Warn("deviation: skipping bad horizon", logger.String("symbol", p.Symbol), logger.String("horizon", h))
			continue
		}
		id := eventID + ":" + h
		rec := models.NewPredictionRecord(id, p.Symbol, minutes, p.Horizons[h], p.Confidence, issuedAt.UTC())

		ttl := time.Until(rec.DueAt) + recordGracePeriod
		if ttl < recordGracePeriod {
			ttl = recordGracePeriod
		}
		if err := d.store.Set(ctx, store.Key(KeyPendingRecord, id), rec, ttl); err != nil {
			return queued, fmt.Errorf("store pending record %s: %w", id, err)
		}
		if err := d.store.ZAddCapped(ctx, KeyPending, unixSeconds(rec.DueAt), id, 0); err != nil {
			return queued, fmt.Errorf("queue pending record %s: %w", id, err)
		}
		queued++
	}
	return queued, nil
}

// HandlePrediction is the ai.prediction_ready handler.
func (d *DeviationTracker) HandlePrediction(ctx context.Context, e models.Event) eventbus.Result {
	var p models.PredictionPayload
	if err := e.Decode(&p); err != nil {
		return eventbus.Fail(err)
	}
	n, err := d.Track(ctx, e.ID, p, e.Timestamp)
	if err != nil {
		return eventbus.Fail(err)
	}
	d.log.Debug("deviation: prediction queued", logger.String("symbol", p.Symbol), logger.Int("horizons", n))
	return eventbus.Ok()
}

// Run resolves due predictions every interval until ctx is done.
func (d *DeviationTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			written, err := d.Cycle(ctx)
			if err != nil && ctx.Err() == nil {
				d.log.Warn("deviation: cycle failed", logger.Error(err))
			}
			if len(written) > 0 {
				if _, err := d.QualityMetrics(ctx, 0); err != nil && ctx.Err() == nil {
					d.log.Warn("deviation: quality metrics failed", logger.Error(err))
				}
			}
		}
	}
}

// Cycle resolves every record due by now and returns the deviation records it wrote.
func (d *DeviationTracker) Cycle(ctx context.Context) ([]models.DeviationRecord, error) {
	now := d.now()
	due, err := d.store.ZRangeByScore(ctx, KeyPending, math.Inf(-1), unixSeconds(now), dueBatch)
	if err != nil {
		return nil, fmt.Errorf("read pending predictions: %w", err)
	}

	var (
		written []models.DeviationRecord
		symbols []string
		maxDev  float64
		seen    = make(map[string]bool)
	)
	for _, m := range due {
		var rec models.PredictionRecord
		ok, err := store.GetOrDefault(ctx, d.store, store.Key(KeyPendingRecord, m.Member), &rec)
		if err != nil {
			d.log.Warn("deviation: load record failed", logger.String("id", m.Member), logger.Error(err))
			continue
		}
		if !ok {
			_ = d.store.ZRem(ctx, KeyPending, m.Member)
			continue
		}

		dr := models.DeviationRecord{
			Symbol:         rec.Symbol,
			Predicted:      rec.Predicted,
			Horizon:        rec.Horizon,
			PredictionTime: rec.IssuedAt,
			ActualTime:     now.UTC(),
		}
		tick, err := LatestTick(ctx, d.store, rec.Symbol)
		if err != nil {
			d.log.Warn("deviation: realized price lookup failed", logger.String("symbol", rec.Symbol), logger.Error(err))
			continue
		}
		if tick != nil {
			actual := tick.Price
			dr.Actual = &actual
			if dev, ok := Deviation(rec.Predicted, actual); ok {
				dr.Deviation = &dev
				d.metrics.RecordDeviation(rec.Symbol, strconv.Itoa(rec.Horizon), dev)
				if dev > d.cfg.Threshold {
					if !seen[rec.Symbol] {
						seen[rec.Symbol] = true
						symbols = append(symbols, rec.Symbol)
					}
					maxDev = math.Max(maxDev, dev)
				}
			}
		}

		if err := d.store.PushCapped(ctx, KeyDeviationLog, dr, d.cfg.HistorySize); err != nil {
			d.log.Warn("deviation: history append failed", logger.Error(err))
			continue
		}
		if err := d.store.ZRem(ctx, KeyPending, m.Member); err != nil {
			d.log.Warn("deviation: dequeue failed", logger.String("id", m.Member), logger.Error(err))
		}
		_ = d.store.Delete(ctx, store.Key(KeyPendingRecord, m.Member))
		written = append(written, dr)
	}

	if len(written) > 0 {
		if err := d.journal.RecordDeviations(ctx, written); err != nil {
			d.log.Warn("deviation: journal failed", logger.Error(err))
			d.metrics.RecordError("journal_deviations")
		}
	}
	if len(symbols) > 0 {
		if _, err := d.RequestRetrain(ctx, symbols, maxDev); err != nil {
			return written, err
		}
	}
	return written, nil
}

// RequestRetrain escalates retraining unless a request was made within the debounce window.
// It reports whether a new request was issued.
func (d *DeviationTracker) RequestRetrain(ctx context.Context, symbols []string, maxDev float64) (bool, error) {
	d.retrainMu.Lock()
	defer d.retrainMu.Unlock()

	now := d.now().UTC()
	status, err := d.Status(ctx)
	if err != nil {
		return false, err
	}
	if status.RequestedAt != nil && now.Sub(*status.RequestedAt) < d.cfg.Debounce {
		d.log.Debug("deviation: retrain debounced", logger.Time("requested_at", *status.RequestedAt))
		return false, nil
	}

	status.Pending = true
	status.Trigger = retrainTrigger
	status.RequestedAt = &now
	if err := d.store.Set(ctx, KeyRetrainStatus, status, 0); err != nil {
		return false, fmt.Errorf("save retrain status: %w", err)
	}

	req := models.RetrainRequest{Requested: true, Trigger: retrainTrigger, Symbols: symbols, MaxDeviation: maxDev}
	ev, err := models.NewEvent(models.EventAIModelRetrained, "deviation_tracker", req, models.WithPriority(retrainPriority))
	if err != nil {
		return true, err
	}
	if d.emitter != nil {
		if err := d.emitter.Emit(ctx, ev); err != nil {
			return true, fmt.Errorf("emit retrain request: %w", err)
		}
	}
	d.log.Warn("deviation: retrain requested",
		logger.Strings("symbols", symbols),
		logger.Float64("max_deviation", maxDev),
	)
	return true, nil
}

// MarkRetrained records a completed retraining and clears the pending flag.
func (d *DeviationTracker) MarkRetrained(ctx context.Context) (models.RetrainStatus, error) {
	d.retrainMu.Lock()
	defer d.retrainMu.Unlock()

	status, err := d.Status(ctx)
	if err != nil {
		return status, err
	}
	now := d.now().UTC()
	status.Pending = false
	status.LastRetrain = &now
	if err := d.store.Set(ctx, KeyRetrainStatus, status, 0); err != nil {
		return status, fmt.Errorf("save retrain status: %w", err)
	}
	return status, nil
}

func (d *DeviationTracker) Status(ctx context.Context) (models.RetrainStatus, error) {
	var status models.RetrainStatus
	if _, err := store.GetOrDefault(ctx, d.store, KeyRetrainStatus, &status); err != nil {
		return status, fmt.Errorf("load retrain status: %w", err)
	}
	return status, nil
}

// History returns up to n deviation records, oldest first.
func (d *DeviationTracker) History(ctx context.Context, n int64) ([]models.DeviationRecord, error) {
	if n <= 0 {
		n = d.cfg.HistorySize
	}
	return store.RangeTyped[models.DeviationRecord](ctx, d.store, KeyDeviationLog, -n, -1)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
