package models

import "time"

// SessionInfo is a point-in-time view of the auto-trading session.
type SessionInfo struct {
	ID          string     `json:"session_id"`
	Active      bool       `json:"active"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	TradesInRun int        `json:"trades_in_run"`
}
