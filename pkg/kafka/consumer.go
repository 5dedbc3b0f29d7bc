package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"TradePulse/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// HandlerFunc adapts a plain function to MessageHandler.
type HandlerFunc struct {
	TopicName string
	Fn        func(context.Context, []byte) error
}

func (h HandlerFunc) Topic() string { return h.TopicName }

func (h HandlerFunc) Handle(ctx context.Context, data []byte) error { return h.Fn(ctx, data) }

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	StartOffset int64
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerStartLatest starts a new group at the newest offset instead of the oldest.
func WithConsumerStartLatest() ConsumerOption {
	return func(c *ConsumerConfig) {
		c.StartOffset = kafka.LastOffset
	}
}

func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if count > 0 {
			c.WorkerCount = count
		}
	}
}

// WithConsumerRetry configures retry attempts and backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ sets a Kafka topic name for messages that exhaust their retries.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQTopic = topic
	}
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps Kafka readers with a worker pool.
// Messages of one partition are handled one at a time.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	readers  map[string]reader
	handlers map[string]MessageHandler
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	msgChan  chan *message
	dlq      writer
	hook     ConsumerHook

	partMu    sync.Mutex
	partLocks map[string]map[int]*sync.Mutex
}

type message struct {
	topic string
	km    kafka.Message
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(log *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "tradepulse",
		StartOffset: kafka.FirstOffset,
		WorkerCount: 1,
		BufferSize:  10,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := newConsumer(cfg, log)
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

func newConsumer(cfg *ConsumerConfig, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.Nop()
	}
	initConsumerMetricsOnce()
	return &Consumer{
		cfg:       cfg,
		log:       log,
		readers:   make(map[string]reader),
		handlers:  make(map[string]MessageHandler),
		stopChan:  make(chan struct{}),
		msgChan:   make(chan *message, cfg.BufferSize),
		partLocks: make(map[string]map[int]*sync.Mutex),
		hook:      NoopHook{},
	}
}

// RegisterHandler registers a message handler for a specific topic.
// Must be called before Start.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka consumer: handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start creates one reader per registered topic and starts the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	for topic := range c.handlers {
		if _, ok := c.readers[topic]; ok {
			continue
		}
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			StartOffset: c.cfg.StartOffset,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
		})
	}
	c.run()
	return nil
}

func (c *Consumer) run() {
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.messageWorker()
	}
	for topic, r := range c.readers {
		c.wg.Add(1)
		go c.consumeMessages(topic, r)
	}
	c.log.Info("kafka consumer: started",
		logger.Int("workers", c.cfg.WorkerCount),
		logger.Int("topics", len(c.readers)),
	)
}

// Stop stops the Kafka consumer gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error

	c.stopOnce.Do(func() {
		close(c.stopChan)
		stopErr = c.waitForWg(ctx)

		for topic, r := range c.readers {
			if err := r.Close(); err != nil {
				c.log.Warn("kafka consumer: close reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Warn("kafka consumer: close dlq writer", logger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("kafka consumer: stopped")
		}
	})

	return stopErr
}

func (c *Consumer) waitForWg(ctx context.Context) error {
	doneChan := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-doneChan:
		return nil
	}
}

func (c *Consumer) consumeMessages(topic string, r reader) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka consumer: fetch failed", logger.String("topic", topic), logger.Error(err))
			select {
			case <-time.After(c.cfg.BackoffMin):
			case <-c.stopChan:
				return
			}
			continue
		}

		select {
		case c.msgChan <- &message{topic: topic, km: km}:
			if consumerQueueDepth != nil {
				consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.msgChan)))
			}
		case <-c.stopChan:
			return
		}
	}
}

// messageWorker processes messages from the channel.
func (c *Consumer) messageWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case msg := <-c.msgChan:
			c.process(msg)
		}
	}
}

func (c *Consumer) process(msg *message) {
	handler, ok := c.handlers[msg.topic]
	if !ok {
		return
	}

	start := time.Now()
	pl := c.getPartitionLock(msg.topic, msg.km.Partition)
	pl.Lock()
	defer pl.Unlock()

	var err error
	attempts := 0
	for {
		attempts++
		err = c.handleOnce(handler, msg)
		if err == nil || attempts > c.cfg.RetryMax {
			break
		}
		var hookErr *HookError
		if errors.As(err, &hookErr) {
			break
		}
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempts)):
		case <-c.stopChan:
			return
		}
	}

	if err != nil {
		c.hook.OnError(context.Background(), msg.topic, msg.km, msg.km.Value, err)
		c.log.Error("kafka consumer: handler failed",
			logger.String("topic", msg.topic),
			logger.Int("attempts", attempts),
			logger.Error(err),
		)
		c.deadLetter(msg, err)
	}

	// Commit after DLQ too so a poison message is not redelivered forever.
	if err == nil || c.dlq != nil {
		if r := c.readers[msg.topic]; r != nil {
			_ = c.commitWithRetry(r, msg.km, 3)
		}
	}
	if consumerHandleLatency != nil {
		consumerHandleLatency.WithLabelValues(msg.topic).Observe(time.Since(start).Seconds())
	}
}

func (c *Consumer) handleOnce(handler MessageHandler, msg *message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	ctx, km, data, err := c.hook.BeforeHandle(context.Background(), msg.topic, msg.km, msg.km.Value)
	if err != nil {
		return err
	}
	err = handler.Handle(ctx, data)
	c.hook.AfterHandle(ctx, msg.topic, km, data, err)
	return err
}

func (c *Consumer) deadLetter(msg *message, cause error) {
	if c.dlq == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   msg.km.Key,
		Value: msg.km.Value,
		Time:  time.Now(),
		Headers: append(msg.km.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(msg.topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	})
	if err != nil {
		c.log.Error("kafka consumer: dlq write failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
	}
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(r reader, km kafka.Message, max int) error {
	if max <= 0 {
		max = 1
	}
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Warn("kafka consumer: commit failed", logger.Int("attempts", max), logger.Error(err))
	return err
}

func (c *Consumer) getPartitionLock(topic string, partition int) *sync.Mutex {
	c.partMu.Lock()
	defer c.partMu.Unlock()

	m, ok := c.partLocks[topic]
	if !ok {
		m = make(map[int]*sync.Mutex)
		c.partLocks[topic] = m
	}
	l, ok := m[partition]
	if !ok {
		l = &sync.Mutex{}
		m[partition] = l
	}
	return l
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp - jitter
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          sync.Once
	consumerRegisterer    prometheus.Registerer = prometheus.DefaultRegisterer
)

// SetConsumerMetricsRegisterer sets a custom Prometheus registerer for consumer metrics (useful for testing).
// It must be called before the first consumer is created.
func SetConsumerMetricsRegisterer(reg prometheus.Registerer) { consumerRegisterer = reg }

func initConsumerMetricsOnce() {
	consumerOnce.Do(func() {
		consumerQueueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "tradepulse_kafka_consumer_queue_depth", Help: "Number of messages waiting in consumer queue"},
			[]string{"topic"},
		)
		consumerHandleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "tradepulse_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
		if consumerRegisterer != nil {
			consumerRegisterer.MustRegister(consumerQueueDepth, consumerHandleLatency)
		}
	})
}
