// Package sensor runs the sampling engine. Each cycle takes a burst of ADC
// samples per tank, folds them with a trimmed mean, maps the voltage to a
// fill percent through the calibration, then polls every soil probe. All
// results land in the state store; readers never touch the hardware.
package sensor

import (
	"context"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/calibration"
	"github.com/spinoza-lab/drip/pkg/events"
	"github.com/spinoza-lab/drip/pkg/hardware"
	"github.com/spinoza-lab/drip/pkg/state"
)

// Config is the slice of the daemon configuration the engine reads. It is
// consulted every cycle so config reloads take effect without a restart.
type Config interface {
	CheckInterval() time.Duration
	SampleCount() int
	OutlierRemove() int
	ZoneCount() int
}

// Alerter receives findings after each cycle. Nil disables alerting.
type Alerter interface {
	CheckTank(tank int, percent, voltage float64, stale bool)
	ZoneCommFault(zone int, err error)
}

// Engine owns the sampling schedule. It is the only writer of tank and zone
// readings in the state store.
type Engine struct {
	cfg   Config
	adc   hardware.ADCDriver
	soil  hardware.SoilSensorBus
	clock hardware.Clock
	bus   *hardware.BusLock
	store *state.Store
	hub   *events.EventHub
	alert Alerter

	calMu sync.RWMutex
	cal   calibration.Calibration

	recorder *CycleRecorder

	lastSummary cycleSummary
	lastLogTime time.Time
}

// NewEngine wires an engine. bus must be the same lock handed to the
// executor so sampling and actuation never overlap on the wire.
func NewEngine(
	cfg Config,
	adc hardware.ADCDriver,
	soil hardware.SoilSensorBus,
	clock hardware.Clock,
	bus *hardware.BusLock,
	store *state.Store,
	cal calibration.Calibration,
	hub *events.EventHub,
	alert Alerter,
) *Engine {
	return &Engine{
		cfg:      cfg,
		adc:      adc,
		soil:     soil,
		clock:    clock,
		bus:      bus,
		store:    store,
		hub:      hub,
		alert:    alert,
		cal:      cal,
		recorder: NewCycleRecorder(60),
	}
}

// Run samples until ctx is canceled. A cycle spreads its tank burst across
// the whole check interval, so cycles follow each other back to back.
func (e *Engine) Run(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"interval": e.cfg.CheckInterval(),
		"samples":  e.cfg.SampleCount(),
	}).Info("Sampling loop starting")

	for ctx.Err() == nil {
		e.RunCycle(ctx)
	}

	logrus.Debug("Sampling loop exited")
}

// RunCycle performs exactly one sampling cycle: the tank burst, the soil
// pass, alert checks and the sensor.updated publish.
func (e *Engine) RunCycle(ctx context.Context) {
	interval := e.cfg.CheckInterval()
	count := e.cfg.SampleCount()
	trim := e.cfg.OutlierRemove()
	if count < 1 {
		count = 1
	}

	spacing := interval / time.Duration(count)

	bursts := map[int][]float64{}
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return
		}
		for _, tank := range calibration.Tanks {
			v, err := e.readVoltage(tank)
			if err != nil {
				logrus.WithError(err).WithField("tank", tank).Debug("ADC sample failed")
				continue
			}
			bursts[tank] = append(bursts[tank], v)
		}
		if i < count-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(spacing):
			}
		}
	}

	now := e.clock.Now()
	for _, tank := range calibration.Tanks {
		e.publishTank(tank, bursts[tank], count, trim, now)
	}

	e.pollZones(ctx)
	e.finishCycle(now)
}

// readVoltage holds the bus for a single ADC transaction. Tank ids map
// one to one onto ADC channels.
func (e *Engine) readVoltage(tank int) (float64, error) {
	e.bus.Lock()
	defer e.bus.Unlock()
	return e.adc.ReadVoltage(tank)
}

// publishTank folds one burst into a reading. A burst with too few valid
// samples keeps the previous reading and marks it stale instead of
// publishing garbage.
func (e *Engine) publishTank(tank int, burst []float64, count, trim int, now time.Time) {
	required := count - 2*trim
	if required < 1 {
		required = 1
	}
	if len(burst) < required {
		kept := e.store.MarkTankStale(tank)
		logrus.WithFields(logrus.Fields{
			"tank":     tank,
			"valid":    len(burst),
			"required": required,
			"kept":     kept,
		}).Warn("Tank burst had too few valid samples")
		return
	}

	mean, ok := trimmedMean(burst, trim)
	if !ok {
		return
	}

	ch := e.channelFor(tank)
	voltage := calibration.Round3(mean)
	percent := math.Round(ch.PercentFrom(voltage)*10) / 10

	e.store.SetTank(state.TankReading{
		Tank:      tank,
		Voltage:   voltage,
		Percent:   percent,
		Timestamp: now,
	})
}

// pollZones reads every probe in ascending zone order. A failing zone only
// takes itself offline; the pass continues with the next one.
func (e *Engine) pollZones(ctx context.Context) {
	for zone := 1; zone <= e.cfg.ZoneCount(); zone++ {
		if ctx.Err() != nil {
			return
		}
		e.bus.Lock()
		r, err := e.soil.ReadZone(zone)
		e.bus.Unlock()
		if err != nil {
			e.store.SetZoneOffline(zone)
			if e.alert != nil {
				e.alert.ZoneCommFault(zone, err)
			}
			logrus.WithError(err).WithField("zone", zone).Debug("Soil probe read failed")
			continue
		}
		e.store.SetZoneReading(zone, r.Moisture, r.Temperature, r.EC, e.clock.Now())
	}
}

func (e *Engine) finishCycle(now time.Time) {
	snap := e.store.Snapshot()

	if e.alert != nil {
		for _, tr := range snap.Tanks {
			e.alert.CheckTank(tr.Tank, tr.Percent, tr.Voltage, tr.Stale)
		}
	}

	payload := events.SensorUpdatedEvent{Ts: now.Unix()}
	for _, tr := range snap.Tanks {
		payload.Tanks = append(payload.Tanks, events.TankPayload{
			Tank:    tr.Tank,
			Voltage: tr.Voltage,
			Percent: tr.Percent,
			Stale:   tr.Stale,
		})
	}
	for _, z := range snap.Zones {
		payload.Zones = append(payload.Zones, events.ZonePayload{
			Zone:        z.ID,
			Moisture:    z.Moisture,
			Temperature: z.Temperature,
			EC:          z.EC,
			Threshold:   z.Threshold,
			Status:      string(z.Status),
		})
	}
	e.hub.Publish(events.SensorUpdated, payload)

	e.recorder.AddRecord(now)
	e.checkMissedCycles(now)
	e.logSummary(snap, now)
}

// checkMissedCycles looks at the recent completion records and logs when
// fewer cycles finished than the interval allows, e.g. after a suspend or
// a wedged bus.
func (e *Engine) checkMissedCycles(now time.Time) {
	interval := e.cfg.CheckInterval()
	if interval <= 0 {
		return
	}
	window := 6*interval + interval/2
	got := e.recorder.RecordsIn(window, interval, now)
	expected := int(window / interval)
	if got < expected-1 {
		logrus.WithFields(logrus.Fields{
			"got":      got,
			"expected": expected,
			"window":   window,
		}).Info("Possibly missed sampling cycles")
	}
}

type cycleSummary struct {
	tank1Percent float64
	tank2Percent float64
	zonesOffline int
	zonesDry     int
}

// logSummary logs the cycle outcome at Debug, demoted to Trace while
// nothing changes so steady state does not flood the log.
func (e *Engine) logSummary(snap state.Snapshot, now time.Time) {
	cur := cycleSummary{}
	for _, tr := range snap.Tanks {
		switch tr.Tank {
		case calibration.TankWater:
			cur.tank1Percent = tr.Percent
		case calibration.TankNutrient:
			cur.tank2Percent = tr.Percent
		}
	}
	for _, z := range snap.Zones {
		switch z.Status {
		case state.ZoneOffline:
			cur.zonesOffline++
		case state.ZoneDry:
			cur.zonesDry++
		}
	}

	fields := logrus.Fields{
		"tank1":        cur.tank1Percent,
		"tank2":        cur.tank2Percent,
		"zonesOffline": cur.zonesOffline,
		"zonesDry":     cur.zonesDry,
	}

	defer func() { e.lastLogTime = now }()

	if now.Sub(e.lastLogTime) < e.cfg.CheckInterval()+time.Second &&
		reflect.DeepEqual(e.lastSummary, cur) {
		logrus.WithFields(fields).Trace("Sampling cycle finished")
		return
	}

	logrus.WithFields(fields).Debug("Sampling cycle finished")
	e.lastSummary = cur
}

// SetCalibration swaps the voltage mapping and recomputes the cached tank
// percents from the last good voltages, so readers see the new mapping
// without waiting for the next burst.
func (e *Engine) SetCalibration(cal calibration.Calibration) {
	e.calMu.Lock()
	e.cal = cal
	e.calMu.Unlock()

	for _, tank := range calibration.Tanks {
		r, ok := e.store.Tank(tank)
		if !ok {
			continue
		}
		ch := e.channelFor(tank)
		r.Percent = math.Round(ch.PercentFrom(r.Voltage)*10) / 10
		e.store.SetTank(r)
	}
}

// Calibration returns the mapping currently in use.
func (e *Engine) Calibration() calibration.Calibration {
	e.calMu.RLock()
	defer e.calMu.RUnlock()
	return e.cal
}

func (e *Engine) channelFor(tank int) calibration.Channel {
	e.calMu.RLock()
	defer e.calMu.RUnlock()
	return *e.cal.Channel(tank)
}
