// Package schedule computes automatic activation triggers from recurring
// weekday/time-of-day rules and drives the session controller when one
// fires.
package schedule

import (
	"fmt"
	"time"
)

// Schedule is a recurring protection window. Field names are the
// persisted record contract.
type Schedule struct {
	// Weekdays holds days the schedule applies to, 0 = Sunday.
	Weekdays []int `json:"weekdays"`

	// StartTime and EndTime are times of day in "HH:MM". An end before
	// the start means the window crosses midnight.
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`

	Enabled bool `json:"enabled"`
}

// Validate checks the schedule fields.
func (s *Schedule) Validate() error {
	if len(s.Weekdays) == 0 {
		return fmt.Errorf("schedule: no weekdays")
	}
	for _, d := range s.Weekdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("schedule: weekday out of range: %d", d)
		}
	}
	if _, err := parseTimeOfDay(s.StartTime); err != nil {
		return fmt.Errorf("schedule: start time: %w", err)
	}
	if _, err := parseTimeOfDay(s.EndTime); err != nil {
		return fmt.Errorf("schedule: end time: %w", err)
	}
	start, _ := parseTimeOfDay(s.StartTime)
	end, _ := parseTimeOfDay(s.EndTime)
	if start == end {
		return fmt.Errorf("schedule: zero-length window")
	}
	return nil
}

// Duration returns the protection window length. A window whose end is
// before its start crosses midnight.
func (s *Schedule) Duration() time.Duration {
	start, _ := parseTimeOfDay(s.StartTime)
	end, _ := parseTimeOfDay(s.EndTime)
	if end > start {
		return end - start
	}
	return 24*time.Hour - start + end
}

// appliesOn reports whether the schedule covers the given weekday.
func (s *Schedule) appliesOn(day time.Weekday) bool {
	for _, d := range s.Weekdays {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}

// NextTrigger returns the earliest future activation instant for this
// schedule, strictly after now; zero time if the schedule is disabled.
func (s *Schedule) NextTrigger(now time.Time) time.Time {
	if !s.Enabled {
		return time.Time{}
	}
	start, err := parseTimeOfDay(s.StartTime)
	if err != nil {
		return time.Time{}
	}

	// Walk at most a week of days, skipping today's occurrence when it
	// is already past.
	for offset := 0; offset <= 7; offset++ {
		day := now.AddDate(0, 0, offset)
		if !s.appliesOn(day.Weekday()) {
			continue
		}
		trigger := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location()).Add(start)
		if trigger.After(now) {
			return trigger
		}
	}
	return time.Time{}
}

// parseTimeOfDay parses "HH:MM" into an offset from midnight.
func parseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
