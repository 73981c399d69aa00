package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestEntryValidate(t *testing.T) {
	valid := Entry{
		Kind:        KindSchedule,
		ZoneID:      4,
		DurationSec: 600,
		StartTime:   "06:00",
		Days:        []time.Weekday{time.Monday, time.Thursday},
	}
	validRoutine := Entry{
		Kind:         KindRoutine,
		ZoneID:       7,
		DurationSec:  300,
		StartTime:    "19:30",
		StartDate:    "2026-02-25",
		IntervalDays: 3,
	}

	tests := []struct {
		name    string
		mutate  func(*Entry)
		entry   Entry
		wantErr bool
	}{
		{name: "valid schedule", entry: valid},
		{name: "valid routine", entry: validRoutine},
		{
			name:    "unknown kind",
			entry:   valid,
			mutate:  func(e *Entry) { e.Kind = "cron" },
			wantErr: true,
		},
		{
			name:    "zone too low",
			entry:   valid,
			mutate:  func(e *Entry) { e.ZoneID = 0 },
			wantErr: true,
		},
		{
			name:    "zone too high",
			entry:   valid,
			mutate:  func(e *Entry) { e.ZoneID = 13 },
			wantErr: true,
		},
		{
			name:    "zero duration",
			entry:   valid,
			mutate:  func(e *Entry) { e.DurationSec = 0 },
			wantErr: true,
		},
		{
			name:    "duration over cap",
			entry:   valid,
			mutate:  func(e *Entry) { e.DurationSec = 1801 },
			wantErr: true,
		},
		{
			name:    "bad start time",
			entry:   valid,
			mutate:  func(e *Entry) { e.StartTime = "25:00" },
			wantErr: true,
		},
		{
			name:    "no weekdays",
			entry:   valid,
			mutate:  func(e *Entry) { e.Days = nil },
			wantErr: true,
		},
		{
			name:    "weekday out of range",
			entry:   valid,
			mutate:  func(e *Entry) { e.Days = []time.Weekday{7} },
			wantErr: true,
		},
		{
			name:    "duplicate weekday",
			entry:   valid,
			mutate:  func(e *Entry) { e.Days = []time.Weekday{time.Monday, time.Monday} },
			wantErr: true,
		},
		{
			name:    "bad start date",
			entry:   validRoutine,
			mutate:  func(e *Entry) { e.StartDate = "2026/02/25" },
			wantErr: true,
		},
		{
			name:    "zero interval",
			entry:   validRoutine,
			mutate:  func(e *Entry) { e.IntervalDays = 0 },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.entry
			if tt.mutate != nil {
				tt.mutate(&e)
			}
			err := e.Validate(12, 1800*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ce *ConfigError
				if !errors.As(err, &ce) {
					t.Errorf("error %T is not a *ConfigError", err)
				}
			}
		})
	}
}

func TestNextOccurrenceWeekday(t *testing.T) {
	e := Entry{
		Kind:        KindSchedule,
		ZoneID:      4,
		DurationSec: 600,
		StartTime:   "06:00",
		Enabled:     true,
		Days:        []time.Weekday{time.Monday},
	}

	saturday := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	next, ok := e.NextOccurrence(saturday)
	if !ok {
		t.Fatal("no next occurrence")
	}
	want := time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// Same day, before the start time.
	monday5 := time.Date(2026, 3, 16, 5, 0, 0, 0, time.UTC)
	next, _ = e.NextOccurrence(monday5)
	if !next.Equal(want) {
		t.Errorf("next = %v, want same-day %v", next, want)
	}

	// Exactly at the start time the next occurrence is a week out.
	next, _ = e.NextOccurrence(want)
	if !next.Equal(want.AddDate(0, 0, 7)) {
		t.Errorf("next = %v, want %v", next, want.AddDate(0, 0, 7))
	}
}

func TestNextOccurrenceRoutine(t *testing.T) {
	e := Entry{
		Kind:         KindRoutine,
		ZoneID:       7,
		DurationSec:  300,
		StartTime:    "06:00",
		Enabled:      true,
		StartDate:    "2026-03-16",
		IntervalDays: 3,
	}

	before := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	next, ok := e.NextOccurrence(before)
	if !ok {
		t.Fatal("no next occurrence")
	}
	first := time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC)
	if !next.Equal(first) {
		t.Errorf("next = %v, want the start date %v", next, first)
	}

	after := time.Date(2026, 3, 16, 7, 0, 0, 0, time.UTC)
	next, _ = e.NextOccurrence(after)
	if !next.Equal(first.AddDate(0, 0, 3)) {
		t.Errorf("next = %v, want %v", next, first.AddDate(0, 0, 3))
	}

	sameDay := time.Date(2026, 3, 19, 5, 0, 0, 0, time.UTC)
	next, _ = e.NextOccurrence(sameDay)
	if !next.Equal(first.AddDate(0, 0, 3)) {
		t.Errorf("next = %v, want same-day %v", next, first.AddDate(0, 0, 3))
	}
}

func TestNextAcrossEntries(t *testing.T) {
	entries := []Entry{
		{
			ID: 1, Kind: KindSchedule, ZoneID: 4, DurationSec: 600,
			StartTime: "06:00", Enabled: true, Days: []time.Weekday{time.Monday},
		},
		{
			ID: 2, Kind: KindRoutine, ZoneID: 7, DurationSec: 300,
			StartTime: "05:30", Enabled: true, StartDate: "2026-03-16", IntervalDays: 1,
		},
		{
			ID: 3, Kind: KindSchedule, ZoneID: 9, DurationSec: 600,
			StartTime: "04:00", Enabled: false, Days: []time.Weekday{time.Monday},
		},
	}

	now := time.Date(2026, 3, 16, 5, 0, 0, 0, time.UTC)
	next, ok := Next(entries, now)
	if !ok {
		t.Fatal("no next run")
	}
	if next.EntryID != 2 {
		t.Errorf("next entry = %d, want 2 (disabled 04:00 entry must not win)", next.EntryID)
	}
	if next.MinutesUntil != 30 {
		t.Errorf("minutes until = %d, want 30", next.MinutesUntil)
	}

	if _, ok := Next(nil, now); ok {
		t.Error("Next on no entries reported a run")
	}
}

func TestDueAtStraddlesMidnight(t *testing.T) {
	e := Entry{
		Kind:        KindSchedule,
		ZoneID:      4,
		DurationSec: 600,
		StartTime:   "00:05",
		Enabled:     true,
		Days:        []time.Weekday{time.Monday},
	}

	sundayNight := time.Date(2026, 3, 15, 23, 58, 0, 0, time.UTC)
	occ, ok := e.dueAt(sundayNight, 10*time.Minute)
	if !ok {
		t.Fatal("entry not due inside the pre-midnight grace window")
	}
	want := time.Date(2026, 3, 16, 0, 5, 0, 0, time.UTC)
	if !occ.Equal(want) {
		t.Errorf("occurrence = %v, want %v", occ, want)
	}

	mondayLate := time.Date(2026, 3, 16, 0, 20, 0, 0, time.UTC)
	if _, ok := e.dueAt(mondayLate, 10*time.Minute); ok {
		t.Error("entry still due after the grace window closed")
	}
}
