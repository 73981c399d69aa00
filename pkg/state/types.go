// Package state owns the mutable runtime picture of the controller: the
// per-zone soil readings, the tank levels, the operating mode and the
// irrigation interlock. A single Store is shared by the sampling engine
// (writes readings), the executor (writes the interlock) and the HTTP
// handlers (read), so every access goes through its lock.
package state

import "time"

// ZoneStatus is the coarse state of one zone shown in /zones.
type ZoneStatus string

const (
	// ZoneOffline means the zone's probe could not be read. The last
	// cached values stay visible but must not drive automation.
	ZoneOffline ZoneStatus = "offline"
	// ZoneDry means moisture is below the zone threshold.
	ZoneDry ZoneStatus = "dry"
	// ZoneOK means moisture is at or above the zone threshold.
	ZoneOK ZoneStatus = "ok"
	// ZoneIrrigating means the zone currently holds the interlock.
	ZoneIrrigating ZoneStatus = "irrigating"
)

// Zone is the cached view of one irrigation zone.
type Zone struct {
	ID          int        `json:"id"`
	Moisture    float64    `json:"moisture"`
	Temperature float64    `json:"temperature"`
	EC          float64    `json:"ec"`
	Threshold   float64    `json:"threshold"`
	Status      ZoneStatus `json:"status"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

// TankReading is the latest filtered reading of one tank level sensor.
type TankReading struct {
	Tank    int     `json:"tank"`
	Voltage float64 `json:"voltage"` // rounded to 3 decimals
	Percent float64 `json:"percent"` // clamped to [0, 100]
	// Stale is set when the last sampling cycle produced too few valid
	// samples and the previous value was kept instead.
	Stale     bool      `json:"stale"`
	Timestamp time.Time `json:"timestamp"`
}

// Mode selects whether schedules may start irrigation on their own.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Phase is the executor's position in the run lifecycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
)

// Interlock mirrors the executor's exclusivity state. The pump is shared,
// so at most one zone (or the hose gun) may run at a time; everything else
// reads this to decide whether it may start.
type Interlock struct {
	Phase         Phase     `json:"phase"`
	Running       bool      `json:"running"`
	CurrentZone   int       `json:"current_zone"` // 0 when no zone holds it
	HoseGun       bool      `json:"hose_gun"`
	Trigger       string    `json:"trigger,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	ExpectedEndAt time.Time `json:"expected_end_at,omitempty"`
}

// Snapshot is the combined view returned by /status.
type Snapshot struct {
	Mode      Mode          `json:"mode"`
	Interlock Interlock     `json:"interlock"`
	Tanks     []TankReading `json:"tanks"`
	Zones     []Zone        `json:"zones"`
}
