package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldd/internal/logging"
	"shieldd/internal/protection"
	"shieldd/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type recordingActivator struct {
	mu        sync.Mutex
	calls     []time.Duration
	alreadyOn bool
}

func (r *recordingActivator) Activate(duration *time.Duration, at protection.ActivationType) (*protection.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.alreadyOn {
		return &protection.Session{}, protection.ErrAlreadyActive
	}
	r.calls = append(r.calls, *duration)
	return &protection.Session{}, nil
}

func (r *recordingActivator) activations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.calls...)
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(&logging.Config{Level: logging.LevelError, Output: "stderr"})
	require.NoError(t, err)
	return log
}

func TestComputeNextTriggerAcrossSchedules(t *testing.T) {
	st := store.NewMemory()
	clk := &fakeClock{now: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)} // Friday
	s, err := New(&recordingActivator{}, st, clk, quietLogger(t))
	require.NoError(t, err)

	_, _, ok := s.ComputeNextTrigger(clk.Now())
	assert.False(t, ok, "no schedules configured")

	require.NoError(t, s.SetSchedules([]Schedule{
		{Weekdays: []int{5}, StartTime: "22:00", EndTime: "23:00", Enabled: true},
		{Weekdays: []int{5}, StartTime: "18:00", EndTime: "19:00", Enabled: true},
		{Weekdays: []int{5}, StartTime: "12:00", EndTime: "13:00", Enabled: false},
	}))

	trigger, sked, ok := s.ComputeNextTrigger(clk.Now())
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 28, 18, 0, 0, 0, time.UTC), trigger)
	assert.Equal(t, "18:00", sked.StartTime)
}

func TestPollFiresTrigger(t *testing.T) {
	st := store.NewMemory()
	clk := &fakeClock{now: time.Date(2026, 8, 28, 17, 59, 0, 0, time.UTC)} // Friday
	activator := &recordingActivator{}
	s, err := New(activator, st, clk, quietLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.SetSchedules([]Schedule{
		{Weekdays: []int{5}, StartTime: "18:00", EndTime: "19:30", Enabled: true},
	}))

	s.Poll() // establish baseline
	assert.Empty(t, activator.activations())

	clk.Advance(2 * time.Minute)
	s.Poll()

	calls := activator.activations()
	require.Len(t, calls, 1)
	assert.Equal(t, 90*time.Minute, calls[0])

	// The same occurrence does not fire twice.
	clk.Advance(time.Minute)
	s.Poll()
	assert.Len(t, activator.activations(), 1)
}

func TestPollNoStacking(t *testing.T) {
	st := store.NewMemory()
	clk := &fakeClock{now: time.Date(2026, 8, 28, 17, 59, 0, 0, time.UTC)}
	activator := &recordingActivator{alreadyOn: true}
	s, err := New(activator, st, clk, quietLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.SetSchedules([]Schedule{
		{Weekdays: []int{5}, StartTime: "18:00", EndTime: "19:30", Enabled: true},
	}))

	s.Poll()
	clk.Advance(2 * time.Minute)
	s.Poll() // fires into an already-active controller; must be a no-op
	assert.Empty(t, activator.activations())
}

func TestSetSchedulesValidatesAndPersists(t *testing.T) {
	st := store.NewMemory()
	s, err := New(&recordingActivator{}, st, &fakeClock{now: time.Now()}, quietLogger(t))
	require.NoError(t, err)

	err = s.SetSchedules([]Schedule{{Weekdays: []int{9}, StartTime: "22:00", EndTime: "23:00"}})
	assert.Error(t, err)

	require.NoError(t, s.SetSchedules([]Schedule{
		{Weekdays: []int{1, 2}, StartTime: "21:00", EndTime: "23:00", Enabled: true},
	}))

	data, err := st.Get(store.KeySchedules)
	require.NoError(t, err)
	require.NoError(t, store.ValidateRecord(store.KeySchedules, data))

	// A new scheduler instance sees the persisted set.
	reloaded, err := New(&recordingActivator{}, st, &fakeClock{now: time.Now()}, quietLogger(t))
	require.NoError(t, err)
	assert.Len(t, reloaded.Schedules(), 1)
}
