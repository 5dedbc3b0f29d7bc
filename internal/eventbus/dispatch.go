package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TradePulse/internal/domain/models"
	"TradePulse/pkg/logger"
	"TradePulse/pkg/store"
)

func (b *Bus) runLoop(ctx context.Context, stream, offset string) {
	defer b.loops.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := b.store.ReadLog(ctx, stream, offset, b.cfg.ReadCount, b.cfg.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warn("event bus: read failed", logger.String("stream", stream), logger.Error(err))
			b.metrics.RecordError("bus_read")
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.RetryBackoff):
			}
			continue
		}
		if len(entries) == 0 {
			continue
		}

		last := offset
		for _, entry := range entries {
			if ctx.Err() != nil {
				break
			}
			b.handleEntry(stream, entry)
			last = entry.ID
		}
		if last != offset {
			offset = last
			b.saveOffset(stream, offset)
		}
	}
}

func (b *Bus) handleEntry(stream string, entry store.LogEntry) {
	var e models.Event
	if err := json.Unmarshal(entry.Payload, &e); err != nil {
		b.skip("malformed", "unknown")
		b.log.Warn("event bus: malformed entry", logger.String("stream", stream), logger.String("entry_id", entry.ID), logger.Error(err))
		return
	}
	if err := e.Validate(); err != nil {
		b.skip("malformed", string(e.Category()))
		b.log.Warn("event bus: invalid event", logger.String("stream", stream), logger.String("entry_id", entry.ID), logger.Error(err))
		return
	}
	if e.Expired(b.now()) {
		b.skip("expired", string(e.Category()))
		return
	}
	// Escalated events sit in two logs; whichever loop sees them first wins.
	if !b.seen.Add(e.ID) {
		b.skip("duplicate", string(e.Category()))
		return
	}

	b.dispatch(e)
}

func (b *Bus) skip(reason, category string) {
	b.stats.skip(reason)
	b.metrics.RecordBusEvent(category, reason)
}

func (b *Bus) handlersFor(e models.Event) []namedHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	exact := b.byType[e.Type]
	wild := b.byCategory[e.Category()]
	out := make([]namedHandler, 0, len(exact)+len(wild))
	out = append(out, exact...)
	return append(out, wild...)
}

// dispatch runs exact-type handlers, then category handlers, in registration order.
func (b *Bus) dispatch(e models.Event) {
	start := b.now()
	handlers := b.handlersFor(e)

	errs := 0
	for _, h := range handlers {
		hstart := time.Now()
		res := b.invoke(h, e)
		b.metrics.RecordHandlerLatency(h.name, time.Since(hstart).Seconds())

		if res.Err != nil {
			errs++
			b.metrics.RecordBusEvent(string(e.Category()), "handler_error")
			b.log.Warn("event bus: handler failed",
				logger.String("event_id", e.ID),
				logger.Error(res.Err),
			)
		}
		for _, f := range res.Events {
			if f.CorrelationID == "" {
				f.CorrelationID = e.ID
			}
			if err := b.Emit(b.handlerCtx, f); err != nil {
				b.log.Warn("event bus: follow-up emit failed",
					logger.String("cause_id", e.ID),
					logger.String("type", string(f.Type)),
					logger.Error(err),
				)
			}
		}
	}

	b.stats.record(e.Type, len(handlers), errs, b.now().Sub(start), b.now().UTC())
	b.metrics.RecordBusEvent(string(e.Category()), "processed")
}

// invoke runs one handler and converts an error or panic into a HandlerError.
func (b *Bus) invoke(h namedHandler, e models.Event) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: &models.HandlerError{
				Handler:   h.name,
				EventType: e.Type,
				Err:       fmt.Errorf("panic: %v", r),
			}}
		}
	}()

	res = h.fn(b.handlerCtx, e)
	if res.Err != nil {
		var he *models.HandlerError
		if !errors.As(res.Err, &he) {
			res.Err = &models.HandlerError{Handler: h.name, EventType: e.Type, Err: res.Err}
		}
	}
	return res
}
