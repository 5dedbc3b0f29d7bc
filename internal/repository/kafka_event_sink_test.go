package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/internal/domain/models"
	pkgkafka "TradePulse/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]pkgkafka.Message
	err     error
	block   chan struct{}
}

func (p *recordingPublisher) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := append([]pkgkafka.Message(nil), msgs...)
	p.batches = append(p.batches, cp)
	return p.err
}

func (p *recordingPublisher) messages() []pkgkafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pkgkafka.Message
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func newTestEvent(t *testing.T, typ models.EventType) models.Event {
	t.Helper()
	e, err := models.NewEvent(typ, "test", map[string]string{"symbol": "AAPL"}, models.WithCorrelation("corr-1"))
	require.NoError(t, err)
	return e
}

func TestKafkaEventSink_ForwardsWithHeaders(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewKafkaEventSink(SinkConfig{Topic: "tradepulse.events", FlushInterval: 10 * time.Millisecond}, pub, nil, nil)

	e := newTestEvent(t, models.EventTradingSignal)
	require.NoError(t, s.Forward(context.Background(), e))
	require.NoError(t, s.Close())

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("trading.signal"), msgs[0].Key)
	assert.Contains(t, msgs[0].Headers, pkgkafka.Header{Key: pkgkafka.HeaderCorrelationID, Value: "corr-1"})
	assert.Contains(t, msgs[0].Headers, pkgkafka.Header{Key: "event_type", Value: "trading.signal"})
	assert.Equal(t, e, msgs[0].Value)

	assert.ErrorIs(t, s.Forward(context.Background(), e), models.ErrBusClosed)
	assert.NoError(t, s.Close(), "close is idempotent")
}

func TestKafkaEventSink_DropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	s := NewKafkaEventSink(SinkConfig{Topic: "t", BufferSize: 2, BatchSize: 1}, pub, nil, nil)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Forward(context.Background(), newTestEvent(t, models.EventMarketTick)))
	}
	assert.Less(t, time.Since(start), time.Second, "forward must not block")

	close(pub.block)
	require.NoError(t, s.Close())
	assert.LessOrEqual(t, len(pub.messages()), 3)
}

func TestKafkaEventSink_PublishErrorsAreSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("leader not available")}
	s := NewKafkaEventSink(SinkConfig{Topic: "t", BatchSize: 1}, pub, nil, nil)
	require.NoError(t, s.Forward(context.Background(), newTestEvent(t, models.EventMarketTick)))
	require.NoError(t, s.Close())
	assert.Len(t, pub.messages(), 1)
}
