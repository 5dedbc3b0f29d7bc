package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetches        *prometheus.CounterVec
	feedLatency    *prometheus.HistogramVec
	lastPrice      *prometheus.GaugeVec
	signals        *prometheus.CounterVec
	intents        *prometheus.CounterVec
	orders         *prometheus.CounterVec
	busEvents      *prometheus.CounterVec
	handlerLatency *prometheus.HistogramVec
	deviation      *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec
}

// New creates a metrics recorder registered on reg.
// A nil reg registers on the default Prometheus registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_feed_fetches_total",
				Help: "Price feed fetch attempts by source and outcome",
			},
			[]string{"source", "status"},
		),
		feedLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepulse_feed_fetch_duration_seconds",
				Help:    "Duration of price feed requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepulse_last_price",
				Help: "Last reconciled price for a symbol",
			},
			[]string{"symbol"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_signals_total",
				Help: "Strategy signals emitted",
			},
			[]string{"strategy", "action"},
		),
		intents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_order_intents_total",
				Help: "Order intents produced by consensus",
			},
			[]string{"action"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_order_decisions_total",
				Help: "Risk gate decisions by outcome and reason",
			},
			[]string{"decision", "reason"},
		),
		busEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_bus_events_total",
				Help: "Bus events by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		handlerLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepulse_bus_handler_duration_seconds",
				Help:    "Duration of bus handler invocations in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"handler"},
		),
		deviation: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepulse_prediction_deviation_ratio",
				Help: "Last observed relative prediction error",
			},
			[]string{"symbol", "horizon"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) RecordFetch(source, status string) {
	r.fetches.WithLabelValues(source, status).Inc()
}

func (r *Recorder) RecordFeedLatency(source string, seconds float64) {
	r.feedLatency.WithLabelValues(source).Observe(seconds)
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordSignal(strategy, action string) {
	r.signals.WithLabelValues(strategy, action).Inc()
}

func (r *Recorder) RecordIntent(action string) {
	r.intents.WithLabelValues(action).Inc()
}

// RecordOrder records a risk gate decision. reason is empty for accepted orders.
func (r *Recorder) RecordOrder(decision, reason string) {
	r.orders.WithLabelValues(decision, reason).Inc()
}

func (r *Recorder) RecordBusEvent(category, outcome string) {
	r.busEvents.WithLabelValues(category, outcome).Inc()
}

func (r *Recorder) RecordHandlerLatency(handler string, seconds float64) {
	r.handlerLatency.WithLabelValues(handler).Observe(seconds)
}

func (r *Recorder) RecordDeviation(symbol, horizon string, ratio float64) {
	r.deviation.WithLabelValues(symbol, horizon).Set(ratio)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
