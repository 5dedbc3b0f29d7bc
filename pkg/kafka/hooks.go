package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// HeaderCorrelationID carries the bus correlation id across Kafka.
const HeaderCorrelationID = "correlation_id"

// ConsumerHook defines lifecycle hooks around message handling.
// Returning a non-nil error from BeforeHandle skips the handler and the
// message goes straight to error processing (OnError, DLQ, commit).
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
}

// NoopHook is a default hook that does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, []byte, error) {}

// HookError represents an error produced by a hook. It is never retried.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs is an adapter that implements ConsumerHook from plain functions.
// Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error)
	After  func(context.Context, string, kafka.Message, []byte, error)
	Err    func(context.Context, string, kafka.Message, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	if h.Before == nil {
		return ctx, km, data, nil
	}
	return h.Before(ctx, topic, km, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, data, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.Err != nil {
		h.Err(ctx, topic, km, data, err)
	}
}

// HookChain composes hooks. BeforeHandle runs in order, AfterHandle in reverse.
// A panicking hook is converted into a HookError.
type HookChain struct {
	hooks []ConsumerHook
}

// NewHookChain creates a composable hook chain. Nil hooks are ignored.
func NewHookChain(hooks ...ConsumerHook) *HookChain {
	filtered := make([]ConsumerHook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			filtered = append(filtered, h)
		}
	}
	return &HookChain{hooks: filtered}
}

func (c *HookChain) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	for _, h := range c.hooks {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
				}
			}()
			ctx, km, data, err = h.BeforeHandle(ctx, topic, km, data)
		}()
		if err != nil {
			return ctx, km, data, err
		}
	}
	return ctx, km, data, nil
}

func (c *HookChain) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		func(h ConsumerHook) {
			defer func() { _ = recover() }()
			h.AfterHandle(ctx, topic, km, data, err)
		}(c.hooks[i])
	}
}

func (c *HookChain) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	for _, h := range c.hooks {
		func(h ConsumerHook) {
			defer func() { _ = recover() }()
			h.OnError(ctx, topic, km, data, err)
		}(h)
	}
}

type ctxKey string

const ctxCorrelationID ctxKey = "kafka_correlation_id"

// CorrelationHook copies the correlation_id header into the handler context.
func CorrelationHook() ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			if id := HeaderValue(km, HeaderCorrelationID); id != "" {
				ctx = context.WithValue(ctx, ctxCorrelationID, id)
			}
			return ctx, km, data, nil
		},
	}
}

// CorrelationID returns the id placed in ctx by CorrelationHook.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxCorrelationID).(string)
	return id
}

// HeaderValue returns the first header with the given key.
func HeaderValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return ""
}
