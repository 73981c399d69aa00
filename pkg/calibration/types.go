package calibration

import (
	"fmt"
	"math"
	"time"
)

// Tank numbers used throughout the daemon. Tank 1 feeds the pump, tank 2
// holds the nutrient solution and is only monitored.
const (
	TankWater    = 1
	TankNutrient = 2
)

// Tanks lists every tank in the order the engine samples them.
var Tanks = []int{TankWater, TankNutrient}

// Factory defaults for the sensors shipped with the controller.
const (
	DefaultEmptyVolts = 0.5
	DefaultFullVolts  = 4.5
)

// Channel holds the calibration of a single tank level sensor.
type Channel struct {
	// EmptyVolts is the sensor output with the tank empty.
	EmptyVolts float64 `json:"empty_value"`
	// FullVolts is the sensor output with the tank full.
	FullVolts float64 `json:"full_value"`
	// CalibratedAt is when the channel was last calibrated. Nil means the
	// factory defaults are still in place.
	CalibratedAt *time.Time `json:"calibrated_at,omitempty"`
}

// Calibration is the persisted calibration of both tank sensors.
type Calibration struct {
	SensorType  string     `json:"sensor_type"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	Water       Channel    `json:"tank1_water"`
	Nutrient    Channel    `json:"tank2_nutrient"`
}

// Default returns the factory calibration.
func Default() Calibration {
	return Calibration{
		SensorType: "analog-voltage",
		Water:      Channel{EmptyVolts: DefaultEmptyVolts, FullVolts: DefaultFullVolts},
		Nutrient:   Channel{EmptyVolts: DefaultEmptyVolts, FullVolts: DefaultFullVolts},
	}
}

// Channel returns the channel of the given tank. Unknown tanks map to the
// water tank.
func (c *Calibration) Channel(tank int) *Channel {
	if tank == TankNutrient {
		return &c.Nutrient
	}
	return &c.Water
}

// Normalized returns a copy of c with all voltages rounded to the millivolt
// resolution the ADC actually delivers.
func (c Calibration) Normalized() Calibration {
	c.Water.EmptyVolts = Round3(c.Water.EmptyVolts)
	c.Water.FullVolts = Round3(c.Water.FullVolts)
	c.Nutrient.EmptyVolts = Round3(c.Nutrient.EmptyVolts)
	c.Nutrient.FullVolts = Round3(c.Nutrient.FullVolts)
	return c
}

// Validate checks both channels.
func (c Calibration) Validate() error {
	if err := c.Water.Validate(); err != nil {
		return fmt.Errorf("tank1_water: %w", err)
	}
	if err := c.Nutrient.Validate(); err != nil {
		return fmt.Errorf("tank2_nutrient: %w", err)
	}
	return nil
}

// Validate checks that the channel voltages sit within the ADC input range
// and that the full reading is above the empty one. The ordering also keeps
// the percent mapping from ever dividing by zero.
func (ch Channel) Validate() error {
	if ch.EmptyVolts < 0 || ch.EmptyVolts > 5 {
		return fmt.Errorf("empty_value %.3f V outside [0, 5] V", ch.EmptyVolts)
	}
	if ch.FullVolts < 0 || ch.FullVolts > 5 {
		return fmt.Errorf("full_value %.3f V outside [0, 5] V", ch.FullVolts)
	}
	if Round3(ch.FullVolts) <= Round3(ch.EmptyVolts) {
		return fmt.Errorf("full_value %.3f V is not above empty_value %.3f V",
			Round3(ch.FullVolts), Round3(ch.EmptyVolts))
	}
	return nil
}

// PercentFrom maps a raw voltage onto the [0, 100] fill range of this
// channel. Voltages outside the calibrated span clamp to the nearest bound.
func (ch Channel) PercentFrom(voltage float64) float64 {
	span := ch.FullVolts - ch.EmptyVolts
	if span == 0 {
		return 0
	}
	pct := (voltage - ch.EmptyVolts) / span * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Round3 rounds v to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
