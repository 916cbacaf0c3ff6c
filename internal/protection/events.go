package protection

import "time"

// EventType distinguishes controller events.
type EventType int

const (
	// EventActivated indicates a session became active.
	EventActivated EventType = iota
	// EventDeactivated indicates the active session ended.
	EventDeactivated
	// EventAttemptRecorded indicates a blocked attempt was appended.
	EventAttemptRecorded
	// EventChallengeIssued indicates a sobriety challenge was issued.
	EventChallengeIssued
	// EventChallengeFailed indicates a challenge answer was rejected.
	EventChallengeFailed
)

// Event is emitted by the Controller on state changes. Session and
// Attempt are snapshots; subscribers may retain them.
type Event struct {
	Type      EventType
	Session   *Session
	Attempt   *BlockedAttempt
	Timestamp time.Time
}

// Subscribe returns a channel of controller events. Slow subscribers are
// skipped rather than blocking a state transition.
func (c *Controller) Subscribe() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, 32)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// emit sends an event to all subscribers without blocking. Caller holds
// the controller lock; session is the snapshot the event describes (the
// just-ended session for EventDeactivated).
func (c *Controller) emit(eventType EventType, session *Session, attempt *BlockedAttempt) {
	event := Event{
		Type:      eventType,
		Session:   session.Clone(),
		Attempt:   attempt,
		Timestamp: c.clk.Now(),
	}
	for _, ch := range c.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
