package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"shieldd/internal/logging"
	"shieldd/internal/protection"
	"shieldd/internal/store"
)

// Activator is the slice of the session controller the scheduler drives.
type Activator interface {
	Activate(duration *time.Duration, at protection.ActivationType) (*protection.Session, error)
}

// Scheduler evaluates recurring schedules and activates protection when
// one fires. Activation while a session is already active is a no-op
// under the controller's idempotence rule; schedules never stack or
// extend an in-progress session.
type Scheduler struct {
	mu sync.Mutex

	controller Activator
	store      store.Store
	clk        protection.Clock
	log        *logging.Logger

	schedules []Schedule

	// lastFired suppresses re-firing the same occurrence on every poll.
	lastFired time.Time
}

// New creates a Scheduler and loads persisted schedules.
func New(controller Activator, st store.Store, clk protection.Clock, log *logging.Logger) (*Scheduler, error) {
	if clk == nil {
		clk = protection.SystemClock()
	}
	if log == nil {
		log = logging.Default()
	}

	s := &Scheduler{
		controller: controller,
		store:      st,
		clk:        clk,
		log:        log.WithComponent("schedule"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) load() error {
	data, err := s.store.Get(store.KeySchedules)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := store.ValidateRecord(store.KeySchedules, data); err != nil {
		s.log.Error("corrupt schedules record, archiving", "error", err)
		return s.store.Archive(store.KeySchedules, data, err.Error())
	}
	return json.Unmarshal(data, &s.schedules)
}

// Schedules returns a snapshot of the configured schedules.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Schedule(nil), s.schedules...)
}

// SetSchedules validates, persists, and installs a new schedule set.
func (s *Scheduler) SetSchedules(schedules []Schedule) error {
	for i := range schedules {
		if err := schedules[i].Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if schedules == nil {
		schedules = []Schedule{}
	}
	data, err := json.Marshal(schedules)
	if err != nil {
		return err
	}
	if err := s.store.Set(store.KeySchedules, data); err != nil {
		return err
	}
	s.schedules = schedules
	s.log.Info("schedules updated", "count", len(schedules))
	return nil
}

// ComputeNextTrigger returns the earliest future trigger among enabled
// schedules along with the schedule that produces it. ok is false when
// nothing is enabled.
func (s *Scheduler) ComputeNextTrigger(now time.Time) (time.Time, Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextTriggerLocked(now)
}

func (s *Scheduler) nextTriggerLocked(now time.Time) (time.Time, Schedule, bool) {
	var (
		best     time.Time
		bestSked Schedule
		found    bool
	)
	for _, sked := range s.schedules {
		trigger := sked.NextTrigger(now)
		if trigger.IsZero() {
			continue
		}
		if !found || trigger.Before(best) {
			best = trigger
			bestSked = sked
			found = true
		}
	}
	return best, bestSked, found
}

// Poll fires any trigger whose instant has been reached since the last
// poll. Called from the daemon's tick loop.
func (s *Scheduler) Poll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	since := s.lastFired
	if since.IsZero() {
		// First poll: only consider triggers from this instant on, so a
		// long-past occurrence does not fire retroactively.
		s.lastFired = now
		return
	}

	trigger, sked, ok := s.nextTriggerLocked(since)
	if !ok || trigger.After(now) {
		return
	}
	s.lastFired = trigger

	duration := sked.Duration()
	s.log.Info("schedule trigger reached",
		"trigger", trigger,
		"duration", duration)

	_, err := s.controller.Activate(&duration, protection.ActivationScheduled)
	if err != nil {
		if errors.Is(err, protection.ErrAlreadyActive) {
			// No stacking: the in-progress session is left untouched.
			s.log.Info("schedule fired while already active, ignoring")
			return
		}
		s.log.Error("scheduled activation failed", "error", err)
	}
}

// Run polls at the given interval until the context is canceled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}
