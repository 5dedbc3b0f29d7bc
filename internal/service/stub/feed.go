package stub

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"TradePulse/internal/domain/models"
)

const Source = "stub"

// LastPrice looks up the previous reconciled price of a symbol.
type LastPrice func(ctx context.Context, symbol string) (float64, bool)

// Feed synthesizes prices for development. It walks at most 0.3% away from the
// last known price, or starts uniformly in [150, 300).
type Feed struct {
	last LastPrice

	mu  sync.Mutex
	rng *rand.Rand
}

func New(last LastPrice) *Feed {
	return &Feed{last: last, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeeded is New with a fixed seed.
func NewSeeded(last LastPrice, seed int64) *Feed {
	return &Feed{last: last, rng: rand.New(rand.NewSource(seed))}
}

func (f *Feed) Name() string { return Source }

func (f *Feed) Fetch(ctx context.Context, symbol string) (*models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var price float64
	if prev, ok := f.lookup(ctx, symbol); ok {
		price = prev * (1 + (f.rng.Float64()*2-1)*0.003)
	} else {
		price = 150 + f.rng.Float64()*150
	}
	return &models.Reading{
		Source: Source,
		Price:  price,
		Volume: float64(1000 + f.rng.Intn(9000)),
	}, nil
}

func (f *Feed) lookup(ctx context.Context, symbol string) (float64, bool) {
	if f.last == nil {
		return 0, false
	}
	p, ok := f.last(ctx, symbol)
	return p, ok && p > 0
}
