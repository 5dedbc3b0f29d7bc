package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/pkg/logger"
)

// Settings of one breaker.
type Settings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
	Logger      *logger.Logger
}

// Breaker trips after MaxFailures consecutive failures and fails fast while open.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(name string, s Settings) *Breaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 3
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	log := s.Logger
	if log == nil {
		log = logger.Nop()
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
		// A cancelled caller says nothing about the remote side.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute runs fn under the breaker. An open breaker returns ErrCircuitOpen.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", b.cb.Name(), models.ErrCircuitOpen)
	}
	return v, err
}

func (b *Breaker) State() string { return b.cb.State().String() }

// Feed guards a price feed.
type Feed struct {
	inner drepo.PriceFeed
	br    *Breaker
}

func WrapFeed(inner drepo.PriceFeed, s Settings) *Feed {
	return &Feed{inner: inner, br: New("feed:"+inner.Name(), s)}
}

func (f *Feed) Name() string { return f.inner.Name() }

func (f *Feed) Fetch(ctx context.Context, symbol string) (*models.Reading, error) {
	v, err := f.br.Execute(func() (interface{}, error) {
		return f.inner.Fetch(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	rd, _ := v.(*models.Reading)
	return rd, nil
}

// Venue guards the execution venue. It never retries.
type Venue struct {
	inner drepo.Venue
	br    *Breaker
}

func WrapVenue(inner drepo.Venue, s Settings) *Venue {
	return &Venue{inner: inner, br: New("venue", s)}
}

func (v *Venue) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Fill, error) {
	out, err := v.br.Execute(func() (interface{}, error) {
		return v.inner.SubmitOrder(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	fill, _ := out.(*models.Fill)
	return fill, nil
}
