package models

import (
	"errors"
	"fmt"
)

var (
	ErrNoData            = errors.New("no data")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrBusClosed         = errors.New("event bus closed")
	ErrShutdownTimeout   = errors.New("shutdown grace period exceeded")
	ErrExecution         = errors.New("execution failed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrCircuitOpen       = errors.New("circuit open")
)

// HandlerError wraps a failure raised by a single bus handler.
type HandlerError struct {
	Handler   string
	EventType EventType
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s on %s: %v", e.Handler, e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// RiskViolation is returned when an order intent fails a gate.
type RiskViolation struct {
	Reason RejectReason
	Detail string
}

func (e *RiskViolation) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("risk violation %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("risk violation %s", e.Reason)
}
