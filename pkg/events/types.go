package events

import "encoding/json"

// Event name constants
const (
	SensorUpdated      = "sensor.updated"
	IrrigationStarted  = "irrigation.started"
	IrrigationFinished = "irrigation.finished"
	HoseChanged        = "hose.changed"
	ScheduleWaiting    = "schedule.waiting"
	ScheduleAbandoned  = "schedule.abandoned"
	AlertRaised        = "alert.raised"
	ModeChanged        = "mode.changed"
)

// Event is a generic event fanned out from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// TankPayload is one tank inside a SensorUpdatedEvent.
type TankPayload struct {
	Tank    int     `json:"tank"`
	Voltage float64 `json:"voltage"`
	Percent float64 `json:"percent"`
	Stale   bool    `json:"stale,omitempty"`
}

// ZonePayload is one zone inside a SensorUpdatedEvent.
type ZonePayload struct {
	Zone        int     `json:"zone"`
	Moisture    float64 `json:"moisture"`
	Temperature float64 `json:"temperature"`
	EC          float64 `json:"ec"`
	Threshold   float64 `json:"threshold"`
	Status      string  `json:"status"`
}

// SensorUpdatedEvent is the typed payload for sensor.updated, published once
// per completed sampling cycle.
type SensorUpdatedEvent struct {
	Tanks []TankPayload `json:"tanks"`
	Zones []ZonePayload `json:"zones"`
	Ts    int64         `json:"ts"`
}

// RunEvent is the typed payload for irrigation.started and
// irrigation.finished. Success is only meaningful on finished.
type RunEvent struct {
	ID             string  `json:"id"`
	Zone           int     `json:"zone"`
	DurationSec    int     `json:"duration_sec"`
	Trigger        string  `json:"trigger"`
	MoistureBefore float64 `json:"moisture_before"`
	Success        bool    `json:"success,omitempty"`
	Ts             int64   `json:"ts"`
}

// HoseEvent is the typed payload for hose.changed.
type HoseEvent struct {
	On bool  `json:"on"`
	Ts int64 `json:"ts"`
}

// ScheduleEvent is the typed payload for schedule.waiting and
// schedule.abandoned.
type ScheduleEvent struct {
	EntryID int    `json:"entry_id"`
	Zone    int    `json:"zone"`
	Reason  string `json:"reason,omitempty"`
	Ts      int64  `json:"ts"`
}

// AlertEvent is the typed payload for alert.raised.
type AlertEvent struct {
	Level   string  `json:"level"`
	Kind    string  `json:"kind"`
	Message string  `json:"message"`
	Tank    int     `json:"tank,omitempty"`
	Zone    int     `json:"zone,omitempty"`
	Value   float64 `json:"value,omitempty"`
	Ts      int64   `json:"ts"`
}

// ModeEvent is the typed payload for mode.changed.
type ModeEvent struct {
	Mode string `json:"mode"`
	Ts   int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.RunEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Zone, payload.Success)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
