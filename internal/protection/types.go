// Package protection implements the protection session engine: the
// session lifecycle state machine, its persisted records, and the typed
// events it emits.
//
// A protection session is a self-declared interval during which access to
// chosen applications and contacts is denied. At most one session is
// active at any time. Sessions are created only by the Controller,
// mutated only through its operations, and become immutable history
// entries the instant they end.
package protection

import (
	"time"

	"github.com/google/uuid"
)

// ActivationType records how a session was started.
type ActivationType string

const (
	ActivationManual    ActivationType = "manual"
	ActivationScheduled ActivationType = "scheduled"
	ActivationLocation  ActivationType = "location"
	ActivationBiometric ActivationType = "biometric"
	ActivationFinancial ActivationType = "financial"
)

// Valid reports whether a is a known activation type.
func (a ActivationType) Valid() bool {
	switch a {
	case ActivationManual, ActivationScheduled, ActivationLocation,
		ActivationBiometric, ActivationFinancial:
		return true
	}
	return false
}

// EndReason records why a session ended. It is set if and only if the
// session has an actual end time.
type EndReason string

const (
	EndTimerExpired       EndReason = "timerExpired"
	EndSobrietyTestPassed EndReason = "sobrietyTestPassed"
	EndEmergencyOverride  EndReason = "emergencyOverride"
	EndManualStop         EndReason = "manualStop"
)

// AttemptType distinguishes what kind of access was attempted.
type AttemptType string

const (
	AttemptApp     AttemptType = "app"
	AttemptMessage AttemptType = "message"
	AttemptCall    AttemptType = "call"
)

// Valid reports whether t is a known attempt type.
func (t AttemptType) Valid() bool {
	switch t {
	case AttemptApp, AttemptMessage, AttemptCall:
		return true
	}
	return false
}

// AttemptOutcome records how an access attempt was resolved.
type AttemptOutcome string

const (
	OutcomeBlocked           AttemptOutcome = "blocked"
	OutcomeAllowedAfterTest  AttemptOutcome = "allowedAfterTest"
	OutcomeEmergencyOverride AttemptOutcome = "emergencyOverride"
)

// BlockedAttempt is the audit record of a denied or overridden access to
// a blocked app or contact. Field names are the persisted contract.
type BlockedAttempt struct {
	ID               string         `json:"id"`
	Timestamp        time.Time      `json:"timestamp"`
	AttemptType      AttemptType    `json:"attemptType"`
	TargetName       string         `json:"targetName"`
	TargetIdentifier string         `json:"targetIdentifier"`
	Outcome          AttemptOutcome `json:"outcome"`
}

// Session is a single protection interval. Attempts are kept in insertion
// order, which is chronological order. Field names are the persisted
// contract: an active session omits actualEndTime and endReason.
type Session struct {
	ID               string           `json:"id"`
	StartTime        time.Time        `json:"startTime"`
	ScheduledEndTime *time.Time       `json:"scheduledEndTime"`
	ActivationType   ActivationType   `json:"activationType"`
	BlockedAttempts  []BlockedAttempt `json:"blockedAttempts"`
	ActualEndTime    *time.Time       `json:"actualEndTime,omitempty"`
	EndReason        EndReason        `json:"endReason,omitempty"`
}

// newSession creates an active session starting now.
func newSession(now time.Time, duration *time.Duration, at ActivationType) *Session {
	s := &Session{
		ID:              uuid.NewString(),
		StartTime:       now,
		ActivationType:  at,
		BlockedAttempts: []BlockedAttempt{},
	}
	if duration != nil {
		end := now.Add(*duration)
		s.ScheduledEndTime = &end
	}
	return s
}

// Ended reports whether the session has reached a terminal state.
func (s *Session) Ended() bool {
	return s.ActualEndTime != nil
}

// Remaining returns the time until the scheduled end, zero once elapsed,
// and ok=false for sessions without a scheduled end.
func (s *Session) Remaining(now time.Time) (time.Duration, bool) {
	if s.ScheduledEndTime == nil {
		return 0, false
	}
	d := s.ScheduledEndTime.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Clone returns a deep copy safe to hand to subscribers and IPC clients.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ScheduledEndTime != nil {
		t := *s.ScheduledEndTime
		out.ScheduledEndTime = &t
	}
	if s.ActualEndTime != nil {
		t := *s.ActualEndTime
		out.ActualEndTime = &t
	}
	out.BlockedAttempts = append([]BlockedAttempt(nil), s.BlockedAttempts...)
	return &out
}

// HistoryLimit bounds the retained ended sessions; the oldest entry is
// evicted first.
const HistoryLimit = 100
