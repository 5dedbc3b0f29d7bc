package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
)

// Limiter holds one token bucket per key, a feed name or a client address.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// New returns a limiter whose keys default to rps with the given burst.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

// Set configures the rate of one key. A non-positive rps means unlimited.
func (l *Limiter) Set(key string, rps float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[key] = rate.NewLimiter(limitOf(rps), burst)
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	lim = rate.NewLimiter(limitOf(l.rps), l.burst)
	l.limiters[key] = lim
	return lim
}

// Allow reports whether one request for key may happen now.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Wait blocks until a request for key is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

func limitOf(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Feed throttles an inner feed under its own key.
type Feed struct {
	inner drepo.PriceFeed
	lim   *Limiter
}

// Wrap returns inner throttled by lim.
func Wrap(inner drepo.PriceFeed, lim *Limiter) *Feed {
	return &Feed{inner: inner, lim: lim}
}

func (f *Feed) Name() string { return f.inner.Name() }

func (f *Feed) Fetch(ctx context.Context, symbol string) (*models.Reading, error) {
	if err := f.lim.Wait(ctx, f.inner.Name()); err != nil {
		return nil, fmt.Errorf("%w: %s rate wait: %v", models.ErrSourceUnavailable, f.inner.Name(), err)
	}
	return f.inner.Fetch(ctx, symbol)
}
