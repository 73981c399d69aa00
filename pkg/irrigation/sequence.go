package irrigation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/state"
)

// idlePoll is how often a sequence checks for the current run to end.
const idlePoll = 100 * time.Millisecond

// RunSequence irrigates the given zones one after another with a pause in
// between so the line can depressurize. Zero perZone and pause mean the
// configured defaults. It returns once the sequence is accepted; progress
// shows through the interlock and the event stream. The tank gate applies
// per zone through the given trigger.
func (e *Executor) RunSequence(zones []int, perZone, pause time.Duration, trigger Trigger) error {
	if len(zones) == 0 {
		return &ValidationError{Reason: "sequence needs at least one zone"}
	}
	seen := make(map[int]bool, len(zones))
	for _, z := range zones {
		if z < 1 || z > e.cfg.ZoneCount() {
			return &InvalidZoneError{Zone: z, Zones: e.cfg.ZoneCount()}
		}
		if seen[z] {
			return &ValidationError{Reason: "sequence lists a zone twice"}
		}
		seen[z] = true
	}
	if perZone == 0 {
		perZone = e.cfg.DefaultDuration()
	}
	if perZone < 0 {
		return &ValidationError{Reason: "duration must be positive"}
	}
	if max := e.cfg.MaxDuration(); perZone > max {
		return &ValidationError{Reason: "per-zone duration exceeds the cap"}
	}
	if pause == 0 {
		pause = e.cfg.SequencePause()
	}
	if pause < 0 {
		return &ValidationError{Reason: "pause must be positive"}
	}

	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	if e.seqCancel != nil {
		return &BusyError{Reason: "a sequence is already running"}
	}

	e.mu.Lock()
	err := e.interlockFreeLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.seqCancel = cancel
	e.seqZones = append([]int(nil), zones...)

	go e.runSequence(ctx, zones, perZone, pause, trigger)
	return nil
}

func (e *Executor) runSequence(ctx context.Context, zones []int, perZone, pause time.Duration, trigger Trigger) {
	defer func() {
		e.seqMu.Lock()
		e.seqCancel = nil
		e.seqZones = nil
		e.seqMu.Unlock()
	}()

	logrus.WithFields(logrus.Fields{
		"zones":    zones,
		"per_zone": perZone,
	}).Info("Sequence starting")

	for i, zone := range zones {
		if ctx.Err() != nil {
			logrus.Info("Sequence canceled")
			return
		}
		if err := e.Start(zone, perZone, trigger); err != nil {
			logrus.WithError(err).WithField("zone", zone).Warn("Sequence aborted")
			return
		}
		e.waitForIdle(ctx)

		if i < len(zones)-1 {
			select {
			case <-ctx.Done():
				logrus.Info("Sequence canceled")
				return
			case <-time.After(pause):
			}
		}
	}

	logrus.Info("Sequence finished")
}

// waitForIdle blocks until the interlock frees up or ctx is canceled.
func (e *Executor) waitForIdle(ctx context.Context) {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.Idle() {
				return
			}
		}
	}
}

// CancelSequence stops a running sequence or drain between steps. The
// active zone run, if any, is left alone; pair with Stop for a full halt.
func (e *Executor) CancelSequence() {
	e.seqMu.Lock()
	if e.seqCancel != nil {
		e.seqCancel()
		e.seqCancel = nil
	}
	e.seqMu.Unlock()
}

// SequenceZones returns the zone list of the running sequence, nil if none.
func (e *Executor) SequenceZones() []int {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	return append([]int(nil), e.seqZones...)
}

// Drain pulses every zone valve once with the pump off, emptying the
// manifold before winter shutdown. It holds the interlock for the whole
// pass but records no history events since no water is pumped.
func (e *Executor) Drain() error {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	if e.seqCancel != nil {
		return &BusyError{Reason: "a sequence is already running"}
	}

	e.mu.Lock()
	if err := e.interlockFreeLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.draining = true
	now := e.clock.Now()
	e.store.SetInterlock(state.Interlock{
		Phase:     state.PhaseRunning,
		Running:   true,
		Trigger:   "drain",
		StartedAt: now,
	})
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	e.seqCancel = cancel

	go e.runDrain(ctx)
	return nil
}

func (e *Executor) runDrain(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.draining = false
		e.store.SetInterlock(state.Interlock{Phase: state.PhaseIdle})
		e.mu.Unlock()

		e.seqMu.Lock()
		e.seqCancel = nil
		e.seqMu.Unlock()
	}()

	pulse := e.cfg.DrainPulse()
	logrus.WithField("pulse", pulse).Info("Winter drain starting")

	for zone := 1; zone <= e.cfg.ZoneCount(); zone++ {
		if ctx.Err() != nil {
			logrus.Info("Winter drain canceled")
			return
		}

		e.bus.Lock()
		err := e.relays.SetZone(zone, true)
		e.bus.Unlock()
		if err != nil {
			logrus.WithError(err).WithField("zone", zone).Error("Drain: failed to open valve")
			continue
		}

		canceled := false
		select {
		case <-ctx.Done():
			canceled = true
		case <-time.After(pulse):
		}

		e.bus.Lock()
		if err := e.relays.SetZone(zone, false); err != nil {
			logrus.WithError(err).WithField("zone", zone).Error("Drain: failed to close valve")
		}
		e.bus.Unlock()

		if canceled {
			logrus.Info("Winter drain canceled")
			return
		}
	}

	logrus.Info("Winter drain finished")
}
