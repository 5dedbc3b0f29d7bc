package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradePulse/pkg/logger"
)

func init() {
	SetConsumerMetricsRegisterer(prometheus.NewRegistry())
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestProducer_PublishEncodesValueAndHeaders(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, comp: "snappy", clientID: "tradepulse"}

	err := p.Publish(context.Background(), "events", []byte("AAPL"),
		map[string]float64{"price": 101.5},
		Header{Key: HeaderCorrelationID, Value: "corr-1"},
	)
	require.NoError(t, err)

	msgs := w.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "events", msgs[0].Topic)
	assert.Equal(t, []byte("AAPL"), msgs[0].Key)
	assert.JSONEq(t, `{"price":101.5}`, string(msgs[0].Value))
	assert.Equal(t, "corr-1", HeaderValue(msgs[0], HeaderCorrelationID))
	assert.Equal(t, "tradepulse", HeaderValue(msgs[0], "client"))
}

func TestProducer_PublishMessagePassesBytesThrough(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	require.NoError(t, p.PublishMessage(context.Background(), "logs", []byte(`{"a":1}`)))
	msgs := w.written()
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Key)
	assert.Equal(t, `{"a":1}`, string(msgs[0].Value))
}

func TestProducer_WriteError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}}
	err := p.Publish(context.Background(), "events", nil, "x")
	assert.ErrorContains(t, err, "broker down")
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func newTestConsumer(dlq writer) (*Consumer, *fakeReader) {
	cfg := &ConsumerConfig{
		WorkerCount: 1,
		BufferSize:  4,
		RetryMax:    2,
		BackoffMin:  time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		DLQTopic:    "preds.dlq",
	}
	c := newConsumer(cfg, logger.Nop())
	r := &fakeReader{msgs: make(chan kafka.Message, 4)}
	c.readers["preds"] = r
	c.dlq = dlq
	return c, r
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	c, r := newTestConsumer(nil)

	got := make(chan string, 1)
	c.WithConsumerHook(CorrelationHook())
	c.RegisterHandler(HandlerFunc{TopicName: "preds", Fn: func(ctx context.Context, data []byte) error {
		got <- CorrelationID(ctx) + "|" + string(data)
		return nil
	}})
	c.run()

	r.msgs <- kafka.Message{Topic: "preds", Offset: 7, Value: []byte("hello"),
		Headers: []kafka.Header{{Key: HeaderCorrelationID, Value: []byte("c-9")}}}

	select {
	case v := <-got:
		assert.Equal(t, "c-9|hello", v)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}

	assert.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	dlq := &fakeWriter{}
	c, r := newTestConsumer(dlq)

	var mu sync.Mutex
	attempts := 0
	c.RegisterHandler(HandlerFunc{TopicName: "preds", Fn: func(context.Context, []byte) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("bad payload")
	}})
	c.run()

	r.msgs <- kafka.Message{Topic: "preds", Offset: 3, Value: []byte("junk")}

	assert.Eventually(t, func() bool { return len(dlq.written()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()

	m := dlq.written()[0]
	assert.Equal(t, "preds.dlq", m.Topic)
	assert.Equal(t, "preds", HeaderValue(m, "source_topic"))
	assert.Equal(t, "bad payload", HeaderValue(m, "error"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func TestHookChain_PanicBecomesHookError(t *testing.T) {
	chain := NewHookChain(nil, HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("boom")
		},
	})

	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "ERR_PANIC", hookErr.Code)
}

func TestBackoffWithJitter_Bounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestNewConsumer_StartOffset(t *testing.T) {
	c, err := NewConsumer(logger.Nop(), WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	assert.Equal(t, kafka.FirstOffset, c.cfg.StartOffset)

	c, err = NewConsumer(logger.Nop(), WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerStartLatest())
	require.NoError(t, err)
	assert.Equal(t, kafka.LastOffset, c.cfg.StartOffset)
}
