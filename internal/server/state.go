// Package server holds the top-level server state: the player registry,
// the entity id allocator, open connections and the session factory the
// TCP listener calls into.
package server

import (
	"sync"
	"time"
)

// Phase is the lifecycle phase of the server process.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseRunning
	PhaseStopping
	PhaseStopped
)

var phaseStrings = map[Phase]string{
	PhaseStarting: "starting",
	PhaseRunning:  "running",
	PhaseStopping: "stopping",
	PhaseStopped:  "stopped",
}

// String returns the string representation of Phase.
func (p Phase) String() string {
	if str, ok := phaseStrings[p]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes Phase as a JSON string (e.g. "running").
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// State tracks the lifecycle phase and aggregate counters. It is safe for
// concurrent use.
type State struct {
	mu sync.RWMutex

	phase          Phase
	phaseChangedAt time.Time
	startedAt      time.Time

	totalLogins   int
	totalSessions int
	sessionErrors int
	peakPlayers   int
}

// NewState creates a State in the starting phase.
func NewState() *State {
	now := time.Now()
	return &State{
		phase:          PhaseStarting,
		phaseChangedAt: now,
		startedAt:      now,
	}
}

// SetPhase updates the phase and returns the previous one.
func (s *State) SetPhase(phase Phase) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.phase
	s.phase = phase
	s.phaseChangedAt = time.Now()
	return old
}

// GetPhase returns the current phase.
func (s *State) GetPhase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Uptime returns the time since the state was created.
func (s *State) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// RecordSession counts a finished session.
func (s *State) RecordSession(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSessions++
	if failed {
		s.sessionErrors++
	}
}

// RecordLogin counts a login and tracks the peak player count.
func (s *State) RecordLogin(online int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalLogins++
	if online > s.peakPlayers {
		s.peakPlayers = online
	}
}

// Counters is a snapshot of the aggregate counters.
type Counters struct {
	Phase         Phase     `json:"phase"`
	StartedAt     time.Time `json:"started_at"`
	TotalLogins   int       `json:"total_logins"`
	TotalSessions int       `json:"total_sessions"`
	SessionErrors int       `json:"session_errors"`
	PeakPlayers   int       `json:"peak_players"`
}

// Snapshot returns the current counters.
func (s *State) Snapshot() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counters{
		Phase:         s.phase,
		StartedAt:     s.startedAt,
		TotalLogins:   s.totalLogins,
		TotalSessions: s.totalSessions,
		SessionErrors: s.sessionErrors,
		PeakPlayers:   s.peakPlayers,
	}
}
