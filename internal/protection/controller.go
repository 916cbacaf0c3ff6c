package protection

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"shieldd/internal/challenge"
	"shieldd/internal/logging"
	"shieldd/internal/notify"
	"shieldd/internal/policy"
	"shieldd/internal/store"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyActive is returned by Activate while a session is active.
	// Non-fatal: the existing session is returned alongside it.
	ErrAlreadyActive = errors.New("protection: session already active")

	// ErrNotActive is returned by operations requiring an active session.
	ErrNotActive = errors.New("protection: no active session")

	// ErrChallengeMismatch indicates a wrong challenge answer. A fresh
	// challenge has been issued.
	ErrChallengeMismatch = errors.New("protection: challenge answer incorrect")

	// ErrChallengeAttemptsExhausted indicates the retry limit was reached.
	// The session stays active; the caller must use EmergencyOverride or
	// wait for the timer.
	ErrChallengeAttemptsExhausted = errors.New("protection: challenge attempts exhausted")

	// ErrNoChallengeOutstanding is returned by CompleteDeactivation when
	// no challenge was requested.
	ErrNoChallengeOutstanding = errors.New("protection: no challenge outstanding")

	// ErrManualStopNotAllowed is returned by ManualStop when the policy
	// does not permit unchallenged stops.
	ErrManualStopNotAllowed = errors.New("protection: manual stop not permitted by policy")
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Options tunes controller behavior.
type Options struct {
	// MathRetryLimit overrides the challenge retry limit for math
	// difficulties. Zero keeps the default (3).
	MathRetryLimit int

	// TypingRetryLimit overrides the retry limit for the extreme
	// (reversed-typing) difficulty. Zero keeps the default (2).
	TypingRetryLimit int

	// EndingSoonWarning is how far before the scheduled end the
	// "ending soon" notification fires. Zero disables it.
	EndingSoonWarning time.Duration
}

// Controller is the single serialization point for all session state.
// Every mutation executes under its lock and is persisted through the
// Store before the call returns; a failed write leaves in-memory state
// authoritative and is retried on the next mutating call.
type Controller struct {
	mu sync.Mutex

	clk        Clock
	store      store.Store
	challenges *challenge.Service
	notifier   notify.Notifier
	log        *logging.Logger
	opts       Options

	policy  policy.UserPolicy
	session *Session  // nil while Inactive
	history []Session // ended sessions, newest first, max HistoryLimit

	outstanding    *challenge.Challenge
	challengeFails int

	// pending holds writes that failed and await retry; a nil value is a
	// pending delete.
	pending map[string][]byte

	warnedEndingSoon bool

	subscribers []chan Event

	// notifyCh carries user notifications to a single delivery
	// goroutine, preserving dispatch order.
	notifyCh chan notification
}

// notification is a queued user alert. The notifier is snapshotted at
// enqueue time so a later SetNotifier does not reroute older alerts.
type notification struct {
	target        notify.Notifier
	summary, body string
}

// New constructs a Controller, loading persisted state and finalizing a
// session whose scheduled end already elapsed (retroactive expiry) before
// any state is exposed.
func New(st store.Store, challenges *challenge.Service, clk Clock, log *logging.Logger, opts Options) (*Controller, error) {
	if clk == nil {
		clk = SystemClock()
	}
	if log == nil {
		log = logging.Default()
	}

	c := &Controller{
		clk:        clk,
		store:      st,
		challenges: challenges,
		log:        log.WithComponent("protection"),
		opts:       opts,
		pending:    make(map[string][]byte),
		notifyCh:   make(chan notification, 16),
	}
	go c.deliverNotifications()

	if err := c.loadState(); err != nil {
		return nil, fmt.Errorf("load persisted state: %w", err)
	}
	c.recoverSession()

	return c, nil
}

// SetNotifier attaches a notification dispatcher. Notifications are
// fire-and-forget and never block a state transition.
func (c *Controller) SetNotifier(n notify.Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

// recoverSession applies retroactive expiry to a loaded session. Called
// during construction, before the controller is shared.
func (c *Controller) recoverSession() {
	if c.session == nil {
		return
	}
	now := c.clk.Now()
	if c.session.ScheduledEndTime != nil && !now.Before(*c.session.ScheduledEndTime) {
		c.log.Info("finalizing expired session from previous run",
			"session_id", c.session.ID,
			"scheduled_end", c.session.ScheduledEndTime)
		c.endLocked(EndTimerExpired, *c.session.ScheduledEndTime)
		return
	}
	c.log.Info("recovered active session",
		"session_id", c.session.ID,
		"started", c.session.StartTime)
}

// Activate starts a protection session. Idempotent while Active: the
// existing session is returned with ErrAlreadyActive and no new session
// is created. A nil duration makes the session manual-stop-only.
func (c *Controller) Activate(duration *time.Duration, at ActivationType) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session.Clone(), ErrAlreadyActive
	}
	if duration != nil && *duration <= 0 {
		return nil, fmt.Errorf("protection: duration must be positive, got %v", *duration)
	}
	if !at.Valid() {
		return nil, fmt.Errorf("protection: unknown activation type %q", at)
	}

	now := c.clk.Now()
	c.session = newSession(now, duration, at)
	c.warnedEndingSoon = false
	c.persistSession()

	c.log.Info("session activated",
		"session_id", c.session.ID,
		"activation_type", at,
		"scheduled_end", c.session.ScheduledEndTime)
	c.emit(EventActivated, c.session, nil)

	return c.session.Clone(), nil
}

// Tick drives time-based transitions. It is invoked at a fixed cadence
// while the daemon runs and expires the session once its scheduled end is
// reached. Safe to call while Inactive.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}
	now := c.clk.Now()

	if c.session.ScheduledEndTime != nil && !now.Before(*c.session.ScheduledEndTime) {
		c.log.Info("session timer expired", "session_id", c.session.ID)
		c.endLocked(EndTimerExpired, now)
		return
	}

	if c.opts.EndingSoonWarning > 0 && !c.warnedEndingSoon {
		if remaining, ok := c.session.Remaining(now); ok && remaining <= c.opts.EndingSoonWarning {
			c.warnedEndingSoon = true
			c.notify("Protection ending soon",
				fmt.Sprintf("Your protection session ends in %s.", remaining.Round(time.Minute)))
		}
	}
}

// RecordAttempt appends a blocked-attempt audit record to the active
// session. While Inactive it is a logged no-op returning ErrNotActive.
func (c *Controller) RecordAttempt(t AttemptType, targetName, targetID string, outcome AttemptOutcome) (*BlockedAttempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		c.log.Warn("attempt reported with no active session",
			"attempt_type", t, "target", targetID)
		return nil, ErrNotActive
	}
	if !t.Valid() {
		return nil, fmt.Errorf("protection: unknown attempt type %q", t)
	}

	attempt := BlockedAttempt{
		ID:               uuid.NewString(),
		Timestamp:        c.clk.Now(),
		AttemptType:      t,
		TargetName:       targetName,
		TargetIdentifier: targetID,
		Outcome:          outcome,
	}
	c.session.BlockedAttempts = append(c.session.BlockedAttempts, attempt)
	c.persistSession()

	c.log.Info("blocked attempt recorded",
		"session_id", c.session.ID,
		"attempt_type", t,
		"target", targetID,
		"outcome", outcome)
	c.emit(EventAttemptRecorded, c.session, &attempt)

	if c.policy.NotifyOnBlock && outcome == OutcomeBlocked {
		c.notify("Access blocked",
			fmt.Sprintf("%s was blocked during your protection session.", targetName))
	}

	return &attempt, nil
}

// RequestDeactivation issues a fresh sobriety challenge. It does not
// change session state. At most one challenge is outstanding; requesting
// again invalidates the previous one and resets the attempt counter.
func (c *Controller) RequestDeactivation() (challenge.Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return challenge.Challenge{}, ErrNotActive
	}

	ch := c.challenges.Generate(c.policy.TestDifficulty)
	c.outstanding = &ch
	c.challengeFails = 0

	c.log.Info("sobriety challenge issued",
		"session_id", c.session.ID,
		"difficulty", ch.Difficulty,
		"challenge_type", ch.Type)
	c.emit(EventChallengeIssued, c.session, nil)

	return ch, nil
}

// retryLimit returns the configured maximum failures for a challenge.
func (c *Controller) retryLimit(ch *challenge.Challenge) int {
	if ch.Type == challenge.TypeTyping {
		if c.opts.TypingRetryLimit > 0 {
			return c.opts.TypingRetryLimit
		}
	} else if c.opts.MathRetryLimit > 0 {
		return c.opts.MathRetryLimit
	}
	return ch.Difficulty.MaxAttempts()
}

// CompleteDeactivation validates an answer to the outstanding challenge.
// Success ends the session with EndSobrietyTestPassed. A wrong answer
// discards the challenge, issues a replacement with a different prompt,
// and returns it with ErrChallengeMismatch; once the retry limit is
// reached the flow halts with ErrChallengeAttemptsExhausted and the
// session remains active.
func (c *Controller) CompleteDeactivation(answer string) (*challenge.Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, ErrNotActive
	}
	if c.outstanding == nil {
		return nil, ErrNoChallengeOutstanding
	}

	if challenge.Validate(*c.outstanding, answer) {
		c.log.Info("sobriety challenge passed", "session_id", c.session.ID)
		c.endLocked(EndSobrietyTestPassed, c.clk.Now())
		return nil, nil
	}

	c.challengeFails++
	limit := c.retryLimit(c.outstanding)
	c.log.Info("sobriety challenge failed",
		"session_id", c.session.ID,
		"failures", c.challengeFails,
		"limit", limit)
	c.emit(EventChallengeFailed, c.session, nil)

	if c.challengeFails >= limit {
		c.outstanding = nil
		return nil, ErrChallengeAttemptsExhausted
	}

	fresh := c.challenges.Regenerate(c.outstanding.Difficulty, c.outstanding.Prompt)
	c.outstanding = &fresh
	return &fresh, ErrChallengeMismatch
}

// EmergencyOverride ends the active session immediately, bypassing the
// challenge entirely.
func (c *Controller) EmergencyOverride() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNotActive
	}
	c.log.Warn("emergency override invoked", "session_id", c.session.ID)
	c.endLocked(EndEmergencyOverride, c.clk.Now())
	return nil
}

// ManualStop ends the session without a challenge, permitted only when
// the policy explicitly allows it.
func (c *Controller) ManualStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNotActive
	}
	if !c.policy.AllowManualStop {
		return ErrManualStopNotAllowed
	}
	c.log.Info("manual stop", "session_id", c.session.ID)
	c.endLocked(EndManualStop, c.clk.Now())
	return nil
}

// endLocked finalizes the active session: terminal fields are set, the
// session moves to the head of history (bounded), the active slot is
// cleared, and both records are persisted before returning. Caller holds
// the lock.
func (c *Controller) endLocked(reason EndReason, endedAt time.Time) {
	ended := c.session
	ended.ActualEndTime = &endedAt
	ended.EndReason = reason

	c.history = append([]Session{*ended}, c.history...)
	if len(c.history) > HistoryLimit {
		c.history = c.history[:HistoryLimit]
	}

	c.session = nil
	c.outstanding = nil
	c.challengeFails = 0
	c.warnedEndingSoon = false

	c.persistSession()
	c.persistHistory()

	c.log.Info("session ended",
		"session_id", ended.ID,
		"end_reason", reason,
		"attempts", len(ended.BlockedAttempts))
	c.emit(EventDeactivated, ended, nil)
	c.notify("Protection ended", endMessage(reason))
}

func endMessage(reason EndReason) string {
	switch reason {
	case EndTimerExpired:
		return "Your protection session completed its full duration."
	case EndSobrietyTestPassed:
		return "Your protection session ended after a passed sobriety test."
	case EndEmergencyOverride:
		return "Your protection session was ended by emergency override."
	default:
		return "Your protection session was stopped."
	}
}

// Active reports whether a session is currently active.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// SessionState returns whether a session is active and a snapshot of it.
func (c *Controller) SessionState() (bool, *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil, c.session.Clone()
}

// Remaining returns the time left until the scheduled end of the active
// session; ok is false while Inactive or for manual-stop-only sessions.
func (c *Controller) Remaining() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return 0, false
	}
	return c.session.Remaining(c.clk.Now())
}

// History returns ended sessions, newest first.
func (c *Controller) History() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Session, len(c.history))
	for i := range c.history {
		out[i] = *c.history[i].Clone()
	}
	return out
}

// Policy returns the current policy snapshot.
func (c *Controller) Policy() policy.UserPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// SetPolicy validates, normalizes, and persists a new policy. The
// enforcement hook sees the new snapshot on its next query.
func (c *Controller) SetPolicy(p policy.UserPolicy) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.policy = p
	c.persistPolicy()
	c.log.Info("policy updated",
		"blocked_apps", len(p.BlockedAppIDs),
		"blocked_contacts", len(p.BlockedContactIDs),
		"emergency_contacts", len(p.EmergencyContactIDs))
	return nil
}

// IsBlocked answers the enforcement hook's query for a single target
// against the current policy snapshot and session state. Pure read.
func (c *Controller) IsBlocked(kind policy.TargetKind, targetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return policy.IsBlocked(kind, targetID, c.policy, c.session != nil)
}

// notify queues a notification without holding up the transition.
// Caller holds the lock. Delivery happens on the single delivery
// goroutine, so the user sees alerts in the order they were raised:
// "ending soon" never arrives after "ended".
func (c *Controller) notify(summary, body string) {
	if c.notifier == nil {
		return
	}
	select {
	case c.notifyCh <- notification{target: c.notifier, summary: summary, body: body}:
	default:
		c.log.Warn("notification queue full, dropped", "summary", summary)
	}
}

// deliverNotifications drains the notification queue in order.
func (c *Controller) deliverNotifications() {
	for n := range c.notifyCh {
		if err := n.target.Notify(n.summary, n.body); err != nil {
			c.log.Warn("notification failed", "error", err)
		}
	}
}
