package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradePulse/internal/domain/models"
)

// Session is the auto-trading session. Each activation starts a new run with
// its own id and trade counter. It is shared by the risk gate and the bus.
type Session struct {
	mu        sync.RWMutex
	id        string
	active    bool
	startedAt time.Time
	stoppedAt time.Time
	trades    int
	now       func() time.Time
}

// NewSession creates an inactive session.
func NewSession() *Session {
	return &Session{id: uuid.NewString(), now: time.Now}
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Activate starts a new run. Activating an active session is an invalid transition.
func (s *Session) Activate() (models.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return s.infoLocked(), fmt.Errorf("%w: session %s already active", models.ErrInvalidTransition, s.id)
	}
	s.id = uuid.NewString()
	s.active = true
	s.trades = 0
	s.startedAt = s.now().UTC()
	s.stoppedAt = time.Time{}
	return s.infoLocked(), nil
}

// Deactivate stops the current run. It is a no-op on an inactive session.
func (s *Session) Deactivate() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		s.active = false
		s.stoppedAt = s.now().UTC()
	}
	return s.infoLocked()
}

// Trades returns the number of accepted orders in the current run.
func (s *Session) Trades() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trades
}

// RecordTrade counts an accepted order against the run identified by id.
// A trade from a previous run is ignored.
func (s *Session) RecordTrade(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.id {
		s.trades++
	}
}

func (s *Session) Info() models.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() models.SessionInfo {
	info := models.SessionInfo{ID: s.id, Active: s.active, TradesInRun: s.trades}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		info.StartedAt = &t
	}
	if !s.stoppedAt.IsZero() {
		t := s.stoppedAt
		info.StoppedAt = &t
	}
	return info
}
