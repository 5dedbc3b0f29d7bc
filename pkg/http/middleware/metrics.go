package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"TradePulse/pkg/logger"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradepulse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradepulse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"route", "method", "class"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradepulse_http_in_flight_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	regOnce sync.Once
)

// Metrics records request metrics labelled by the echo route template,
// and logs 5xx responses and slow requests.
func Metrics(l *logger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	regOnce.Do(func() {
		prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInFlight)
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			code := c.Response().Status
			status := strconv.Itoa(code)

			httpRequestsTotal.WithLabelValues(route, method, status).Inc()
			httpRequestDuration.WithLabelValues(route, method, statusClass(code)).Observe(duration.Seconds())

			switch {
			case code >= 500:
				l.Error("http request failed",
					logger.String("route", route),
					logger.String("method", method),
					logger.String("status", status),
					logger.Duration("duration_ms", duration),
				)
			case slowThreshold > 0 && duration >= slowThreshold:
				l.Warn("http request slow",
					logger.String("route", route),
					logger.String("method", method),
					logger.String("status", status),
					logger.Duration("duration_ms", duration),
				)
			}
			return nil
		}
	}
}

func statusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
