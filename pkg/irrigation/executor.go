package irrigation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/calibration"
	"github.com/spinoza-lab/drip/pkg/events"
	"github.com/spinoza-lab/drip/pkg/hardware"
	"github.com/spinoza-lab/drip/pkg/state"
)

// Config is the slice of the daemon configuration the executor needs.
type Config interface {
	ZoneCount() int
	MinTankPercent() float64
	DefaultDuration() time.Duration
	MaxDuration() time.Duration
	HoseTimeout() time.Duration
	SequencePause() time.Duration
	DrainPulse() time.Duration
	PumpSettle() time.Duration
}

type activeRun struct {
	id             uint64
	eventID        uuid.UUID
	zone           int
	trigger        Trigger
	requested      time.Duration
	startedAt      time.Time
	moistureBefore float64
	timer          *time.Timer
	finished       bool
}

type hoseState struct {
	startedAt time.Time
	timer     *time.Timer
}

// Executor serializes all pump and valve actuation. The mutex covers the
// run/hose bookkeeping; the bus lock covers the wire.
type Executor struct {
	cfg    Config
	relays hardware.RelayDriver
	clock  hardware.Clock
	bus    *hardware.BusLock
	store  *state.Store
	hub    *events.EventHub
	sink   EventSink

	mu       sync.Mutex
	runSeq   uint64
	run      *activeRun
	hose     *hoseState
	draining bool

	seqMu     sync.Mutex
	seqCancel func()
	seqZones  []int

	// sleep is replaced in tests to skip the settle delays.
	sleep func(time.Duration)
}

// NewExecutor wires an Executor. hub may be nil; sink must not be.
func NewExecutor(cfg Config, relays hardware.RelayDriver, clock hardware.Clock, bus *hardware.BusLock, store *state.Store, hub *events.EventHub, sink EventSink) *Executor {
	return &Executor{
		cfg:    cfg,
		relays: relays,
		clock:  clock,
		bus:    bus,
		store:  store,
		hub:    hub,
		sink:   sink,
		sleep:  time.Sleep,
	}
}

// Start begins irrigating one zone for the given duration. Zero duration
// means the configured default. Manual starts skip the tank gate; auto and
// scheduled starts are rejected while the water tank is below the minimum.
func (e *Executor) Start(zone int, duration time.Duration, trigger Trigger) error {
	if zone < 1 || zone > e.cfg.ZoneCount() {
		return &InvalidZoneError{Zone: zone, Zones: e.cfg.ZoneCount()}
	}
	if duration == 0 {
		duration = e.cfg.DefaultDuration()
	}
	if duration < 0 {
		return &ValidationError{Reason: "duration must be positive"}
	}
	if max := e.cfg.MaxDuration(); duration > max {
		return &ValidationError{Reason: fmt.Sprintf("duration %s exceeds the cap of %s", duration, max)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.interlockFreeLocked(); err != nil {
		return err
	}
	if trigger != TriggerManual {
		if err := e.tankGateLocked(); err != nil {
			return err
		}
	}

	return e.startLocked(zone, duration, trigger)
}

func (e *Executor) interlockFreeLocked() error {
	if e.run != nil {
		return &BusyError{
			CurrentZone: e.run.zone,
			Reason:      fmt.Sprintf("zone %d is irrigating", e.run.zone),
		}
	}
	if e.hose != nil {
		return &BusyError{Reason: "hose gun is active"}
	}
	if e.draining {
		return &BusyError{Reason: "winter drain in progress"}
	}
	return nil
}

func (e *Executor) tankGateLocked() error {
	min := e.cfg.MinTankPercent()
	r, ok := e.store.Tank(calibration.TankWater)
	if !ok {
		// Never sampled: an unknown level must not start unattended runs.
		return &TankLowError{Percent: 0, Minimum: min}
	}
	if r.Percent < min {
		return &TankLowError{Percent: r.Percent, Minimum: min}
	}
	return nil
}

func (e *Executor) startLocked(zone int, duration time.Duration, trigger Trigger) error {
	now := e.clock.Now()
	e.store.SetInterlock(state.Interlock{
		Phase:       state.PhaseStarting,
		CurrentZone: zone,
		Trigger:     string(trigger),
		StartedAt:   now,
	})

	if err := e.engage(zone); err != nil {
		e.store.SetInterlock(state.Interlock{Phase: state.PhaseIdle})
		return err
	}

	e.runSeq++
	run := &activeRun{
		id:        e.runSeq,
		eventID:   uuid.New(),
		zone:      zone,
		trigger:   trigger,
		requested: duration,
		startedAt: now,
	}
	if z, ok := e.store.Zone(zone); ok {
		run.moistureBefore = z.Moisture
	}
	id := run.id
	run.timer = time.AfterFunc(duration, func() { e.timerFired(id) })
	e.run = run

	e.store.SetZoneIrrigating(zone, true)
	e.store.SetInterlock(state.Interlock{
		Phase:         state.PhaseRunning,
		Running:       true,
		CurrentZone:   zone,
		Trigger:       string(trigger),
		StartedAt:     now,
		ExpectedEndAt: now.Add(duration),
	})

	logrus.WithFields(logrus.Fields{
		"zone":     zone,
		"duration": duration,
		"trigger":  trigger,
	}).Info("Irrigation started")

	e.hub.Publish(events.IrrigationStarted, events.RunEvent{
		ID:             run.eventID.String(),
		Zone:           zone,
		DurationSec:    int(duration / time.Second),
		Trigger:        string(trigger),
		MoistureBefore: run.moistureBefore,
		Ts:             now.Unix(),
	})

	return nil
}

// engage turns the pump on, lets the line pressurize, then opens the valve.
// On failure both outputs are driven back off before returning.
func (e *Executor) engage(zone int) error {
	e.bus.Lock()
	defer e.bus.Unlock()

	if err := e.relays.SetPump(true); err != nil {
		e.allOffBusHeld(zone)
		return &hardware.ActuatorError{Device: "pump", Err: err}
	}
	e.sleep(e.cfg.PumpSettle())
	if err := e.relays.SetZone(zone, true); err != nil {
		e.allOffBusHeld(zone)
		return &hardware.ActuatorError{Device: fmt.Sprintf("zone-%d", zone), Err: err}
	}
	return nil
}

// disengage closes the valve first, then stops the pump, attempting both
// regardless of errors. The first error is returned.
func (e *Executor) disengage(zone int) error {
	e.bus.Lock()
	defer e.bus.Unlock()

	var firstErr error
	if err := e.relays.SetZone(zone, false); err != nil {
		firstErr = &hardware.ActuatorError{Device: fmt.Sprintf("zone-%d", zone), Err: err}
		logrus.WithError(err).WithField("zone", zone).Error("Failed to close valve")
	}
	e.sleep(e.cfg.PumpSettle())
	if err := e.relays.SetPump(false); err != nil {
		if firstErr == nil {
			firstErr = &hardware.ActuatorError{Device: "pump", Err: err}
		}
		logrus.WithError(err).Error("Failed to stop pump")
	}
	return firstErr
}

// allOffBusHeld is the cleanup path of a failed engage. The caller holds
// the bus lock.
func (e *Executor) allOffBusHeld(zone int) {
	if err := e.relays.SetZone(zone, false); err != nil {
		logrus.WithError(err).WithField("zone", zone).Error("Cleanup: failed to close valve")
	}
	if err := e.relays.SetPump(false); err != nil {
		logrus.WithError(err).Error("Cleanup: failed to stop pump")
	}
}

func (e *Executor) timerFired(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil || e.run.id != id || e.run.finished {
		// A concurrent Stop won the race; nothing left to do.
		return
	}
	if err := e.finishLocked(true); err != nil {
		logrus.WithError(err).Error("Hardware error while ending a timed run")
	}
}

// Stop ends the active zone run. Calling it with no run active is a no-op.
func (e *Executor) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil || e.run.finished {
		return nil
	}
	e.run.timer.Stop()
	return e.finishLocked(false)
}

// finishLocked closes out the active run: valve off, pump off, one history
// event, interlock released. The release happens even when the actuators
// fail.
func (e *Executor) finishLocked(completed bool) error {
	run := e.run
	run.finished = true

	defer func() {
		e.store.SetZoneIrrigating(run.zone, false)
		e.store.SetInterlock(state.Interlock{Phase: state.PhaseIdle})
		e.run = nil
	}()

	now := e.clock.Now()
	actual := run.requested
	if !completed {
		actual = now.Sub(run.startedAt)
		if actual < 0 {
			actual = 0
		}
	}

	e.store.SetInterlock(state.Interlock{
		Phase:       state.PhaseStopping,
		Running:     true,
		CurrentZone: run.zone,
		Trigger:     string(run.trigger),
		StartedAt:   run.startedAt,
	})

	hwErr := e.disengage(run.zone)
	success := completed && hwErr == nil

	ev := Event{
		ID:             run.eventID,
		Timestamp:      now,
		ZoneID:         run.zone,
		DurationSec:    int(actual.Round(time.Second) / time.Second),
		Trigger:        run.trigger,
		MoistureBefore: run.moistureBefore,
		Success:        success,
	}
	if err := e.sink.AppendEvent(ev); err != nil {
		logrus.WithError(err).Error("Failed to append irrigation event")
	}

	e.hub.Publish(events.IrrigationFinished, events.RunEvent{
		ID:             run.eventID.String(),
		Zone:           run.zone,
		DurationSec:    ev.DurationSec,
		Trigger:        string(run.trigger),
		MoistureBefore: run.moistureBefore,
		Success:        success,
		Ts:             now.Unix(),
	})

	entry := logrus.WithFields(logrus.Fields{
		"zone":     run.zone,
		"duration": actual.Round(time.Second),
		"trigger":  run.trigger,
		"success":  success,
	})
	if success {
		entry.Info("Irrigation finished")
	} else {
		entry.Warn("Irrigation ended early")
	}

	return hwErr
}

// Idle reports whether nothing holds the interlock.
func (e *Executor) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run == nil && e.hose == nil && !e.draining
}

// HoseOn opens the hose-gun outlet. It takes the same interlock as a zone
// run and switches itself off after the configured timeout.
func (e *Executor) HoseOn() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.interlockFreeLocked(); err != nil {
		return err
	}

	e.bus.Lock()
	if err := e.relays.SetPump(true); err != nil {
		_ = e.relays.SetPump(false)
		e.bus.Unlock()
		return &hardware.ActuatorError{Device: "pump", Err: err}
	}
	e.sleep(e.cfg.PumpSettle())
	if err := e.relays.SetHoseGun(true); err != nil {
		_ = e.relays.SetHoseGun(false)
		_ = e.relays.SetPump(false)
		e.bus.Unlock()
		return &hardware.ActuatorError{Device: "hose-gun", Err: err}
	}
	e.bus.Unlock()

	now := e.clock.Now()
	timeout := e.cfg.HoseTimeout()
	h := &hoseState{startedAt: now}
	h.timer = time.AfterFunc(timeout, func() {
		if err := e.HoseOff(); err != nil {
			logrus.WithError(err).Error("Hose gun auto-off failed")
		}
	})
	e.hose = h

	e.store.SetInterlock(state.Interlock{
		Phase:         state.PhaseRunning,
		Running:       true,
		HoseGun:       true,
		Trigger:       string(TriggerManual),
		StartedAt:     now,
		ExpectedEndAt: now.Add(timeout),
	})

	logrus.WithField("timeout", timeout).Info("Hose gun on")
	e.hub.Publish(events.HoseChanged, events.HoseEvent{On: true, Ts: now.Unix()})

	return nil
}

// HoseOff closes the hose-gun outlet. Calling it with the hose off is a
// no-op, so the safety timer and a manual off cannot double-act.
func (e *Executor) HoseOff() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hoseOffLocked()
}

func (e *Executor) hoseOffLocked() error {
	if e.hose == nil {
		return nil
	}
	e.hose.timer.Stop()
	e.hose = nil

	defer e.store.SetInterlock(state.Interlock{Phase: state.PhaseIdle})

	e.bus.Lock()
	var firstErr error
	if err := e.relays.SetHoseGun(false); err != nil {
		firstErr = &hardware.ActuatorError{Device: "hose-gun", Err: err}
		logrus.WithError(err).Error("Failed to close hose gun")
	}
	e.sleep(e.cfg.PumpSettle())
	if err := e.relays.SetPump(false); err != nil {
		if firstErr == nil {
			firstErr = &hardware.ActuatorError{Device: "pump", Err: err}
		}
		logrus.WithError(err).Error("Failed to stop pump")
	}
	e.bus.Unlock()

	logrus.Info("Hose gun off")
	e.hub.Publish(events.HoseChanged, events.HoseEvent{On: false, Ts: e.clock.Now().Unix()})

	return firstErr
}

// HoseActive reports whether the hose gun holds the interlock.
func (e *Executor) HoseActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hose != nil
}

// EmergencyStop cancels any sequence or drain, ends the active run and hose
// use, then forces every output off whether or not it was tracked. Outputs
// can be on without a tracked run after a daemon crash, so the sweep never
// trusts the bookkeeping.
func (e *Executor) EmergencyStop() error {
	e.CancelSequence()

	e.mu.Lock()
	var firstErr error
	if e.run != nil && !e.run.finished {
		e.run.timer.Stop()
		firstErr = e.finishLocked(false)
	}
	if e.hose != nil {
		if err := e.hoseOffLocked(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.mu.Unlock()

	e.bus.Lock()
	defer e.bus.Unlock()
	if err := e.relays.SetPump(false); err != nil && firstErr == nil {
		firstErr = &hardware.ActuatorError{Device: "pump", Err: err}
	}
	if err := e.relays.SetHoseGun(false); err != nil && firstErr == nil {
		firstErr = &hardware.ActuatorError{Device: "hose-gun", Err: err}
	}
	for zone := 1; zone <= e.cfg.ZoneCount(); zone++ {
		if err := e.relays.SetZone(zone, false); err != nil && firstErr == nil {
			firstErr = &hardware.ActuatorError{Device: fmt.Sprintf("zone-%d", zone), Err: err}
		}
	}

	logrus.Warn("Emergency stop executed")
	return firstErr
}
