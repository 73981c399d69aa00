package hardware

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Simulator implements RelayDriver, ADCDriver and SoilSensorBus in memory.
// Tank voltages drift down while the pump runs and soil moisture creeps up
// while a valve is open, so the daemon behaves plausibly without a field
// deployment attached.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand

	pump   bool
	hose   bool
	valves map[int]bool

	tankVolts map[int]float64
	soil      map[int]SoilReading
	downZones map[int]bool
}

// NewSimulator returns a Simulator with the given zones prefilled with
// plausible probe readings.
func NewSimulator(zones int) *Simulator {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	s := &Simulator{
		rng:    rng,
		valves: make(map[int]bool, zones),
		tankVolts: map[int]float64{
			1: 2.8, // water tank, roughly 60% with default calibration
			2: 3.4, // nutrient tank
		},
		soil:      make(map[int]SoilReading, zones),
		downZones: make(map[int]bool),
	}

	for id := 1; id <= zones; id++ {
		s.soil[id] = SoilReading{
			Moisture:    30 + rng.Float64()*35,
			Temperature: 18 + rng.Float64()*8,
			EC:          0.8 + rng.Float64()*0.9,
		}
	}

	return s
}

// SetZoneDown marks a zone's probe as unreachable. Reads of that zone fail
// with a CommError until the probe is marked up again.
func (s *Simulator) SetZoneDown(id int, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downZones[id] = down
}

func (s *Simulator) SetZone(id int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"zone": id,
		"on":   on,
	}).Trace("Simulated valve write")

	s.valves[id] = on

	return nil
}

func (s *Simulator) SetPump(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logrus.WithField("on", on).Trace("Simulated pump write")

	s.pump = on

	return nil
}

func (s *Simulator) SetHoseGun(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logrus.WithField("on", on).Trace("Simulated hose-gun write")

	s.hose = on

	return nil
}

func (s *Simulator) ReadVoltage(channel int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.tankVolts[channel]
	if !ok {
		return 0, &CommError{
			Device: fmt.Sprintf("adc-%d", channel),
			Err:    fmt.Errorf("no such channel"),
		}
	}

	// The water tank drains while the pump runs.
	if s.pump && channel == 1 && base > 0.5 {
		base -= 0.002
		s.tankVolts[channel] = base
	}

	v := base + (s.rng.Float64()-0.5)*0.02

	logrus.WithFields(logrus.Fields{
		"channel": channel,
		"voltage": v,
	}).Trace("Simulated ADC read")

	return v, nil
}

func (s *Simulator) ReadZone(id int) (SoilReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.soil[id]
	if !ok || s.downZones[id] {
		return SoilReading{}, &CommError{
			Device: fmt.Sprintf("soil-%d", id),
			Err:    fmt.Errorf("probe not responding"),
		}
	}

	if s.valves[id] && r.Moisture < 95 {
		r.Moisture += 1.5
	} else if r.Moisture > 5 {
		r.Moisture -= s.rng.Float64() * 0.2
	}
	r.Moisture += (s.rng.Float64() - 0.5) * 0.4
	r.Temperature += (s.rng.Float64() - 0.5) * 0.1
	s.soil[id] = r

	logrus.WithFields(logrus.Fields{
		"zone":     id,
		"moisture": r.Moisture,
	}).Trace("Simulated soil probe read")

	return r, nil
}
