package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/spinoza-lab/drip/pkg/calibration"
	"github.com/spinoza-lab/drip/pkg/events"
	"github.com/spinoza-lab/drip/pkg/hardware"
	"github.com/spinoza-lab/drip/pkg/state"
)

var errReadFailed = errors.New("read failed")

type engineConfig struct {
	interval time.Duration
	samples  int
	trim     int
	zones    int
}

func (c engineConfig) CheckInterval() time.Duration { return c.interval }
func (c engineConfig) SampleCount() int             { return c.samples }
func (c engineConfig) OutlierRemove() int           { return c.trim }
func (c engineConfig) ZoneCount() int               { return c.zones }

// fakeADC replays a per-channel script, repeating the last entry once the
// script runs out. NaN entries fail the read.
type fakeADC struct {
	mu     sync.Mutex
	script map[int][]float64
	calls  map[int]int
}

func newFakeADC() *fakeADC {
	return &fakeADC{script: map[int][]float64{}, calls: map[int]int{}}
}

func (a *fakeADC) set(channel int, volts ...float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script[channel] = volts
	a.calls[channel] = 0
}

func (a *fakeADC) ReadVoltage(channel int) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	script := a.script[channel]
	if len(script) == 0 {
		return 0, &hardware.CommError{Device: fmt.Sprintf("adc-%d", channel), Err: errReadFailed}
	}
	i := a.calls[channel]
	a.calls[channel]++
	if i >= len(script) {
		i = len(script) - 1
	}
	v := script[i]
	if math.IsNaN(v) {
		return 0, &hardware.CommError{Device: fmt.Sprintf("adc-%d", channel), Err: errReadFailed}
	}
	return v, nil
}

type fakeSoil struct {
	mu       sync.Mutex
	readings map[int]hardware.SoilReading
	down     map[int]bool
}

func newFakeSoil() *fakeSoil {
	return &fakeSoil{readings: map[int]hardware.SoilReading{}, down: map[int]bool{}}
}

func (s *fakeSoil) set(zone int, r hardware.SoilReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[zone] = r
}

func (s *fakeSoil) setDown(zone int, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down[zone] = down
}

func (s *fakeSoil) ReadZone(zone int) (hardware.SoilReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down[zone] {
		return hardware.SoilReading{}, &hardware.CommError{Device: fmt.Sprintf("soil-%d", zone), Err: errReadFailed}
	}
	r, ok := s.readings[zone]
	if !ok {
		return hardware.SoilReading{}, &hardware.CommError{Device: fmt.Sprintf("soil-%d", zone), Err: errReadFailed}
	}
	return r, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type tankCheck struct {
	tank    int
	percent float64
	stale   bool
}

type recordingAlerter struct {
	mu     sync.Mutex
	tanks  []tankCheck
	faults []int
}

func (a *recordingAlerter) CheckTank(tank int, percent, voltage float64, stale bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tanks = append(a.tanks, tankCheck{tank: tank, percent: percent, stale: stale})
}

func (a *recordingAlerter) ZoneCommFault(zone int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults = append(a.faults, zone)
}

type engineFixture struct {
	engine *Engine
	adc    *fakeADC
	soil   *fakeSoil
	store  *state.Store
	hub    *events.EventHub
	alert  *recordingAlerter
}

func newTestEngine(t *testing.T, cfg engineConfig) *engineFixture {
	t.Helper()

	f := &engineFixture{
		adc:   newFakeADC(),
		soil:  newFakeSoil(),
		store: state.NewStore(cfg.zones, 40.0),
		hub:   events.NewEventHub(),
		alert: &recordingAlerter{},
	}
	clock := fixedClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	f.engine = NewEngine(cfg, f.adc, f.soil, clock, &hardware.BusLock{}, f.store,
		calibration.Default(), f.hub, f.alert)
	return f
}

func defaultEngineConfig() engineConfig {
	return engineConfig{interval: 0, samples: 10, trim: 2, zones: 2}
}

func TestTrimmedMean(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		trim    int
		want    float64
		wantOK  bool
	}{
		{
			name:    "drops high outlier",
			samples: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 100},
			trim:    2,
			want:    5.5,
			wantOK:  true,
		},
		{
			name:    "unsorted input",
			samples: []float64{100, 5, 1, 7, 3, 9, 2, 8, 4, 6},
			trim:    2,
			want:    5.5,
			wantOK:  true,
		},
		{
			name:    "no trimming",
			samples: []float64{2, 4},
			trim:    0,
			want:    3,
			wantOK:  true,
		},
		{
			name:    "trim larger than sample count",
			samples: []float64{5},
			trim:    2,
			want:    5,
			wantOK:  true,
		},
		{
			name:    "two samples with trim",
			samples: []float64{2, 4},
			trim:    1,
			want:    3,
			wantOK:  true,
		},
		{
			name:    "empty",
			samples: nil,
			trim:    2,
			want:    0,
			wantOK:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := trimmedMean(tt.samples, tt.trim)
			if ok != tt.wantOK {
				t.Fatalf("trimmedMean() ok = %v, want %v", ok, tt.wantOK)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("trimmedMean() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunCyclePublishesReadings(t *testing.T) {
	f := newTestEngine(t, defaultEngineConfig())
	f.adc.set(1, 2.5)
	f.adc.set(2, 3.5)
	f.soil.set(1, hardware.SoilReading{Moisture: 55, Temperature: 21.5, EC: 1.2})
	f.soil.set(2, hardware.SoilReading{Moisture: 20, Temperature: 19, EC: 0.9})

	ch := f.hub.Subscribe()
	defer f.hub.Unsubscribe(ch)

	f.engine.RunCycle(context.Background())

	tank, ok := f.store.Tank(calibration.TankWater)
	if !ok {
		t.Fatal("no reading for tank 1")
	}
	if tank.Voltage != 2.5 || tank.Percent != 50.0 || tank.Stale {
		t.Errorf("tank 1 = %+v, want voltage 2.5 percent 50", tank)
	}

	tank2, _ := f.store.Tank(calibration.TankNutrient)
	if tank2.Percent != 75.0 {
		t.Errorf("tank 2 percent = %v, want 75", tank2.Percent)
	}

	z1, _ := f.store.Zone(1)
	if z1.Status != state.ZoneOK || z1.Moisture != 55 {
		t.Errorf("zone 1 = %+v, want ok/55", z1)
	}
	z2, _ := f.store.Zone(2)
	if z2.Status != state.ZoneDry {
		t.Errorf("zone 2 status = %v, want dry", z2.Status)
	}

	select {
	case ev := <-ch:
		if ev.Name != events.SensorUpdated {
			t.Fatalf("event name = %q, want %q", ev.Name, events.SensorUpdated)
		}
		payload, err := events.DecodeAs[events.SensorUpdatedEvent](ev)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(payload.Tanks) != 2 || len(payload.Zones) != 2 {
			t.Errorf("payload has %d tanks, %d zones, want 2/2", len(payload.Tanks), len(payload.Zones))
		}
	case <-time.After(time.Second):
		t.Fatal("no sensor.updated event published")
	}
}

func TestRunCycleTrimsOutliersAndClamps(t *testing.T) {
	f := newTestEngine(t, defaultEngineConfig())
	// Mean of the middle six samples is 5.5V, beyond full scale.
	f.adc.set(1, 1, 2, 3, 4, 5, 6, 7, 8, 9, 100)
	f.adc.set(2, 0.1)

	f.engine.RunCycle(context.Background())

	tank, _ := f.store.Tank(calibration.TankWater)
	if tank.Voltage != 5.5 {
		t.Errorf("tank 1 voltage = %v, want 5.5", tank.Voltage)
	}
	if tank.Percent != 100.0 {
		t.Errorf("tank 1 percent = %v, want clamped 100", tank.Percent)
	}

	tank2, _ := f.store.Tank(calibration.TankNutrient)
	if tank2.Percent != 0.0 {
		t.Errorf("tank 2 percent = %v, want clamped 0", tank2.Percent)
	}
}

func TestRunCycleKeepsStaleReadingOnBadBurst(t *testing.T) {
	f := newTestEngine(t, defaultEngineConfig())
	f.adc.set(1, 2.5)
	f.adc.set(2, 3.5)

	f.engine.RunCycle(context.Background())

	// Five valid samples is one short of the sample_count-2*trim floor.
	bad := math.NaN()
	f.adc.set(1, 2.5, 2.5, 2.5, 2.5, 2.5, bad, bad, bad, bad, bad)

	f.engine.RunCycle(context.Background())

	tank, ok := f.store.Tank(calibration.TankWater)
	if !ok {
		t.Fatal("tank 1 reading lost")
	}
	if !tank.Stale {
		t.Error("tank 1 not marked stale")
	}
	if tank.Voltage != 2.5 || tank.Percent != 50.0 {
		t.Errorf("tank 1 cached values changed: %+v", tank)
	}

	tank2, _ := f.store.Tank(calibration.TankNutrient)
	if tank2.Stale {
		t.Error("tank 2 marked stale even though its burst was fine")
	}

	// Exactly sample_count-2*trim valid samples is still enough.
	f.adc.set(1, 2.0, 2.0, 2.0, 2.0, 2.0, 2.0, bad, bad, bad, bad)

	f.engine.RunCycle(context.Background())

	tank, _ = f.store.Tank(calibration.TankWater)
	if tank.Stale {
		t.Error("tank 1 still stale after a burst at the validity floor")
	}
	if tank.Voltage != 2.0 {
		t.Errorf("tank 1 voltage = %v, want 2.0", tank.Voltage)
	}
}

func TestRunCycleNoReadingBeforeFirstGoodBurst(t *testing.T) {
	f := newTestEngine(t, defaultEngineConfig())
	f.adc.set(1, math.NaN())
	f.adc.set(2, 3.5)

	f.engine.RunCycle(context.Background())

	if _, ok := f.store.Tank(calibration.TankWater); ok {
		t.Error("tank 1 has a reading even though every sample failed")
	}
	if _, ok := f.store.Tank(calibration.TankNutrient); !ok {
		t.Error("tank 2 reading missing")
	}
}

func TestZoneFaultIsolation(t *testing.T) {
	cfg := defaultEngineConfig()
	cfg.zones = 3
	f := newTestEngine(t, cfg)
	f.adc.set(1, 2.5)
	f.adc.set(2, 3.5)
	for z := 1; z <= 3; z++ {
		f.soil.set(z, hardware.SoilReading{Moisture: 50 + float64(z), Temperature: 20, EC: 1})
	}

	f.engine.RunCycle(context.Background())

	f.soil.setDown(2, true)
	f.soil.set(1, hardware.SoilReading{Moisture: 61, Temperature: 20, EC: 1})
	f.soil.set(3, hardware.SoilReading{Moisture: 63, Temperature: 20, EC: 1})

	f.engine.RunCycle(context.Background())

	z2, _ := f.store.Zone(2)
	if z2.Status != state.ZoneOffline {
		t.Errorf("zone 2 status = %v, want offline", z2.Status)
	}
	if z2.Moisture != 52 {
		t.Errorf("zone 2 cached moisture = %v, want 52", z2.Moisture)
	}

	z1, _ := f.store.Zone(1)
	z3, _ := f.store.Zone(3)
	if z1.Moisture != 61 || z3.Moisture != 63 {
		t.Errorf("healthy zones not updated: zone1=%v zone3=%v", z1.Moisture, z3.Moisture)
	}

	f.alert.mu.Lock()
	faults := append([]int(nil), f.alert.faults...)
	f.alert.mu.Unlock()
	if len(faults) != 1 || faults[0] != 2 {
		t.Errorf("alerter faults = %v, want [2]", faults)
	}

	// One good read brings the zone back.
	f.soil.setDown(2, false)
	f.soil.set(2, hardware.SoilReading{Moisture: 30, Temperature: 20, EC: 1})

	f.engine.RunCycle(context.Background())

	z2, _ = f.store.Zone(2)
	if z2.Status != state.ZoneDry {
		t.Errorf("zone 2 status after recovery = %v, want dry", z2.Status)
	}
	if z2.Moisture != 30 {
		t.Errorf("zone 2 moisture after recovery = %v, want 30", z2.Moisture)
	}
}

func TestSetCalibrationRecomputesCachedPercents(t *testing.T) {
	f := newTestEngine(t, defaultEngineConfig())
	f.adc.set(1, 2.5)
	f.adc.set(2, 3.5)

	f.engine.RunCycle(context.Background())

	cal := calibration.Default()
	cal.Water.EmptyVolts = 0.5
	cal.Water.FullVolts = 2.5
	f.engine.SetCalibration(cal)

	tank, _ := f.store.Tank(calibration.TankWater)
	if tank.Percent != 100.0 {
		t.Errorf("tank 1 percent = %v, want 100 under the new calibration", tank.Percent)
	}
	if tank.Voltage != 2.5 {
		t.Errorf("tank 1 voltage = %v, want unchanged 2.5", tank.Voltage)
	}

	if got := f.engine.Calibration().Water.FullVolts; got != 2.5 {
		t.Errorf("Calibration().Water.FullVolts = %v, want 2.5", got)
	}
}

func TestRunCycleReportsTanksToAlerter(t *testing.T) {
	f := newTestEngine(t, defaultEngineConfig())
	f.adc.set(1, 1.3)
	f.adc.set(2, 3.5)

	f.engine.RunCycle(context.Background())

	f.alert.mu.Lock()
	defer f.alert.mu.Unlock()
	if len(f.alert.tanks) != 2 {
		t.Fatalf("alerter saw %d tank checks, want 2", len(f.alert.tanks))
	}
	if f.alert.tanks[0].tank != calibration.TankWater || f.alert.tanks[0].percent != 20.0 {
		t.Errorf("tank check = %+v, want tank 1 at 20%%", f.alert.tanks[0])
	}
}
