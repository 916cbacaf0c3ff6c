package schedule

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sked    Schedule
		wantErr bool
	}{
		{
			name: "valid evening window",
			sked: Schedule{Weekdays: []int{5, 6}, StartTime: "22:00", EndTime: "23:30", Enabled: true},
		},
		{
			name: "valid overnight window",
			sked: Schedule{Weekdays: []int{5}, StartTime: "22:00", EndTime: "06:00", Enabled: true},
		},
		{
			name:    "no weekdays",
			sked:    Schedule{StartTime: "22:00", EndTime: "23:00"},
			wantErr: true,
		},
		{
			name:    "weekday out of range",
			sked:    Schedule{Weekdays: []int{7}, StartTime: "22:00", EndTime: "23:00"},
			wantErr: true,
		},
		{
			name:    "malformed start time",
			sked:    Schedule{Weekdays: []int{1}, StartTime: "25:99", EndTime: "23:00"},
			wantErr: true,
		},
		{
			name:    "zero-length window",
			sked:    Schedule{Weekdays: []int{1}, StartTime: "22:00", EndTime: "22:00"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sked.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	sked := Schedule{Weekdays: []int{5}, StartTime: "22:00", EndTime: "23:30"}
	if got := sked.Duration(); got != 90*time.Minute {
		t.Errorf("Duration() = %v, want 90m", got)
	}

	overnight := Schedule{Weekdays: []int{5}, StartTime: "22:00", EndTime: "06:00"}
	if got := overnight.Duration(); got != 8*time.Hour {
		t.Errorf("overnight Duration() = %v, want 8h", got)
	}
}

func TestNextTrigger(t *testing.T) {
	// 2026-08-28 is a Friday.
	friday10am := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sked Schedule
		now  time.Time
		want time.Time
	}{
		{
			name: "later today",
			sked: Schedule{Weekdays: []int{5}, StartTime: "22:00", EndTime: "23:00", Enabled: true},
			now:  friday10am,
			want: time.Date(2026, 8, 28, 22, 0, 0, 0, time.UTC),
		},
		{
			name: "today's occurrence already past",
			sked: Schedule{Weekdays: []int{5}, StartTime: "09:00", EndTime: "10:00", Enabled: true},
			now:  friday10am,
			want: time.Date(2026, 9, 4, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "wraps week boundary",
			sked: Schedule{Weekdays: []int{3}, StartTime: "08:00", EndTime: "09:00", Enabled: true}, // Wednesday
			now:  friday10am,
			want: time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "disabled schedule never triggers",
			sked: Schedule{Weekdays: []int{5}, StartTime: "22:00", EndTime: "23:00"},
			now:  friday10am,
			want: time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sked.NextTrigger(tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("NextTrigger(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}
