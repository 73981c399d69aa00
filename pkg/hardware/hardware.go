// Package hardware defines the driver interfaces the controller talks to:
// the relay board switching the pump and valves, the ADC reading the tank
// level sensors, and the RS-485 soil probe chain. Concrete bindings live in
// the deployment; this package ships a Simulator for development and tests.
package hardware

import (
	"sync"
	"time"
)

// RelayDriver switches the pump, the per-zone valves and the hose-gun outlet.
type RelayDriver interface {
	// SetZone opens (on=true) or closes the valve of the given zone.
	SetZone(id int, on bool) error
	// SetPump switches the shared water pump.
	SetPump(on bool) error
	// SetHoseGun switches the manual hose-gun outlet.
	SetHoseGun(on bool) error
}

// ADCDriver reads raw voltages from the analog tank level sensors.
type ADCDriver interface {
	// ReadVoltage returns the voltage on the given channel, in volts.
	ReadVoltage(channel int) (float64, error)
}

// SoilReading is a single measurement from one soil probe.
type SoilReading struct {
	Moisture    float64 // volumetric moisture, percent
	Temperature float64 // degrees Celsius
	EC          float64 // electrical conductivity, mS/cm
}

// SoilSensorBus reads the RS-485 soil probe chain, one probe per zone.
type SoilSensorBus interface {
	ReadZone(id int) (SoilReading, error)
}

// Clock abstracts time.Now so time-driven logic can be tested.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return systemClock{} }

// BusLock serializes transactions on the shared field wiring. The relay
// board and the sensor chain hang off one controller that tolerates a
// single outstanding transaction, so every actuator write and sensor read
// must hold this lock.
type BusLock struct {
	sync.Mutex
}
