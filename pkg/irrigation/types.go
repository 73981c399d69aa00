// Package irrigation drives the pump, the zone valves and the hose-gun
// outlet. The Executor owns the interlock: at most one zone (or the hose
// gun) runs at a time, every run has a bounded duration, and every run that
// started is recorded as exactly one Event when it ends.
package irrigation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAuto      Trigger = "auto"
	TriggerScheduled Trigger = "scheduled"
)

// Event is one row of the append-only irrigation history. DurationSec is
// the time water actually flowed, not the requested duration; Success is
// true only when the run reached its full requested duration with the
// hardware behaving.
type Event struct {
	ID             uuid.UUID `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ZoneID         int       `json:"zone_id"`
	DurationSec    int       `json:"duration_sec"`
	Trigger        Trigger   `json:"trigger"`
	MoistureBefore float64   `json:"moisture_before"`
	Success        bool      `json:"success"`
}

// EventSink receives finished run events, usually the history file.
type EventSink interface {
	AppendEvent(Event) error
}

// BusyError rejects a start while something else holds the interlock.
type BusyError struct {
	CurrentZone int // 0 unless a zone run holds the interlock
	Reason      string
}

func (e *BusyError) Error() string { return "interlock busy: " + e.Reason }

// InvalidZoneError rejects a zone id outside the configured range.
type InvalidZoneError struct {
	Zone  int
	Zones int
}

func (e *InvalidZoneError) Error() string {
	return fmt.Sprintf("zone %d outside [1, %d]", e.Zone, e.Zones)
}

// TankLowError rejects a non-manual start while the water tank is below the
// configured minimum, or has never been read.
type TankLowError struct {
	Percent float64
	Minimum float64
}

func (e *TankLowError) Error() string {
	return fmt.Sprintf("water tank at %.1f%%, minimum %.1f%%", e.Percent, e.Minimum)
}

// ValidationError rejects malformed request parameters.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
