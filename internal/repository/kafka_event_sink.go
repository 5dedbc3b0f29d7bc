package repository

import (
	"context"
	"sync"
	"time"

	"TradePulse/internal/domain/models"
	domrepo "TradePulse/internal/domain/repository"
	pkgkafka "TradePulse/pkg/kafka"
	applogger "TradePulse/pkg/logger"
)

// BatchPublisher is the subset of the Kafka producer used by the sink.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

type SinkConfig struct {
	Topic         string
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// KafkaEventSink forwards bus events to a Kafka topic, keyed by event type.
// Forward never blocks the bus: when the buffer is full the event is dropped and counted.
type KafkaEventSink struct {
	cfg     SinkConfig
	pub     BatchPublisher
	metrics domrepo.Metrics
	l       *applogger.Logger

	ch        chan models.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ domrepo.EventSink = (*KafkaEventSink)(nil)

func NewKafkaEventSink(cfg SinkConfig, pub BatchPublisher, metrics domrepo.Metrics, l *applogger.Logger) *KafkaEventSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 200 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	s := &KafkaEventSink{
		cfg:     cfg,
		pub:     pub,
		metrics: metrics,
		l:       l,
		ch:      make(chan models.Event, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *KafkaEventSink) Forward(_ context.Context, e models.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.ErrBusClosed
	}
	select {
	case s.ch <- e:
	default:
		s.metrics.RecordError("sink_drop")
	}
	return nil
}

func (s *KafkaEventSink) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]pkgkafka.Message, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		err := s.pub.PublishBatch(ctx, s.cfg.Topic, batch)
		cancel()
		if err != nil {
			s.metrics.RecordError("sink_publish")
			s.l.Warn("kafka sink publish failed",
				applogger.String("topic", s.cfg.Topic),
				applogger.Int("events", len(batch)),
				applogger.Error(err),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, toMessage(e))
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func toMessage(e models.Event) pkgkafka.Message {
	headers := []pkgkafka.Header{
		{Key: pkgkafka.HeaderCorrelationID, Value: e.CorrelationID},
		{Key: "event_type", Value: string(e.Type)},
	}
	return pkgkafka.Message{Key: []byte(e.Type), Value: e, Headers: headers}
}

// Close flushes buffered events and stops the sink. The producer itself is closed by its owner.
func (s *KafkaEventSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	<-s.done
	return nil
}
