package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/spinoza-lab/drip/pkg/events"
	"github.com/spinoza-lab/drip/pkg/irrigation"
	"github.com/spinoza-lab/drip/pkg/state"
)

type schedConfig struct{ tick time.Duration }

func (c schedConfig) ScheduleTick() time.Duration { return c.tick }

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type startCall struct {
	zone     int
	duration time.Duration
	trigger  irrigation.Trigger
}

// fakeStarter replays queued errors, then keeps returning sticky.
type fakeStarter struct {
	mu     sync.Mutex
	calls  []startCall
	queue  []error
	sticky error
}

func (f *fakeStarter) Start(zone int, d time.Duration, tr irrigation.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, startCall{zone: zone, duration: d, trigger: tr})
	if len(f.queue) > 0 {
		err := f.queue[0]
		f.queue = f.queue[1:]
		return err
	}
	return f.sticky
}

func (f *fakeStarter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStarter) call(i int) startCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// monday is a Monday. Fixture entries fire at 06:00.
var monday = time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 16, hour, min, 0, 0, time.UTC)
}

func weekdayEntry(id, zone int) Entry {
	return Entry{
		ID:          id,
		Kind:        KindSchedule,
		ZoneID:      zone,
		DurationSec: 600,
		StartTime:   "06:00",
		Enabled:     true,
		Days:        []time.Weekday{time.Monday},
	}
}

type schedFixture struct {
	sched   *Scheduler
	starter *fakeStarter
	store   *state.Store
	clock   *stepClock
	reg     *Registry
}

func newTestScheduler(t *testing.T, hub *events.EventHub, entries ...Entry) *schedFixture {
	t.Helper()

	f := &schedFixture{
		starter: &fakeStarter{},
		store:   state.NewStore(12, 40.0),
		clock:   &stepClock{t: monday},
	}
	f.reg = NewRegistry(entries, func([]Entry) error { return nil })
	f.sched = NewScheduler(schedConfig{tick: time.Minute}, f.reg, f.starter, f.store, f.clock, hub)
	return f
}

func TestGraceWindowFiresOncePerDate(t *testing.T) {
	f := newTestScheduler(t, nil, weekdayEntry(1, 4))

	f.sched.evaluate(at(5, 49))
	if f.starter.callCount() != 0 {
		t.Fatal("fired before the grace window opened")
	}

	for _, tick := range []time.Time{at(5, 50), at(5, 55), at(6, 0), at(6, 10)} {
		f.sched.evaluate(tick)
	}
	if got := f.starter.callCount(); got != 1 {
		t.Fatalf("fired %d times inside one grace window, want 1", got)
	}
	call := f.starter.call(0)
	if call.zone != 4 || call.duration != 600*time.Second || call.trigger != irrigation.TriggerScheduled {
		t.Errorf("start call = %+v", call)
	}

	f.sched.evaluate(at(6, 11))
	if f.starter.callCount() != 1 {
		t.Error("fired outside the grace window")
	}

	// A week later the same entry fires again.
	f.sched.evaluate(at(6, 0).AddDate(0, 0, 7))
	if f.starter.callCount() != 2 {
		t.Error("entry did not fire on the next matching date")
	}
}

func TestDisabledEntryNeverFires(t *testing.T) {
	e := weekdayEntry(1, 4)
	e.Enabled = false
	f := newTestScheduler(t, nil, e)

	f.sched.evaluate(at(6, 0))
	if f.starter.callCount() != 0 {
		t.Error("disabled entry fired")
	}
}

func TestBusyEntryWaitsThenFires(t *testing.T) {
	f := newTestScheduler(t, nil, weekdayEntry(1, 4))
	f.starter.queue = []error{&irrigation.BusyError{CurrentZone: 9, Reason: "zone 9 running"}}

	f.sched.evaluate(at(6, 0))
	if f.starter.callCount() != 1 {
		t.Fatalf("start attempts = %d, want 1", f.starter.callCount())
	}
	pending := f.sched.Pending()
	if len(pending) != 1 || pending[0].EntryID != 1 {
		t.Fatalf("pending = %+v, want entry 1 waiting", pending)
	}

	// Next tick the interlock is free. The wait may outlive the grace
	// window; that is the point of the waiting state.
	f.sched.evaluate(at(6, 15))
	if f.starter.callCount() != 2 {
		t.Fatalf("waiting entry did not retry, attempts = %d", f.starter.callCount())
	}
	if len(f.sched.Pending()) != 0 {
		t.Error("pending not cleared after a successful start")
	}

	// The occurrence is consumed, no third attempt.
	f.sched.evaluate(at(6, 16))
	if f.starter.callCount() != 2 {
		t.Error("entry fired again after its waiting run started")
	}
}

func TestWaitingRunAbandonedAfterMaxWait(t *testing.T) {
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	f := newTestScheduler(t, hub, weekdayEntry(1, 4))
	f.starter.sticky = &irrigation.BusyError{Reason: "drain in progress"}

	f.sched.evaluate(at(6, 0))
	f.sched.evaluate(at(6, 30))
	attempts := f.starter.callCount()
	if attempts != 2 {
		t.Fatalf("start attempts = %d, want 2", attempts)
	}

	drainEvents(ch)

	f.sched.evaluate(at(7, 1))
	if f.starter.callCount() != attempts {
		t.Error("abandoned entry still attempted a start")
	}
	if len(f.sched.Pending()) != 0 {
		t.Error("pending not cleared after abandoning")
	}

	ev := waitEvent(t, ch, events.ScheduleAbandoned)
	payload, err := events.DecodeAs[events.ScheduleEvent](ev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.EntryID != 1 {
		t.Errorf("abandoned entry = %d, want 1", payload.EntryID)
	}

	// Terminal for the date, even though the interlock is free now.
	f.starter.sticky = nil
	f.sched.evaluate(at(7, 2))
	if f.starter.callCount() != attempts {
		t.Error("abandoned occurrence fired later the same day")
	}
}

func TestManualModeConsumesOccurrence(t *testing.T) {
	f := newTestScheduler(t, nil, weekdayEntry(1, 4))
	f.store.SetMode(state.ModeManual)

	f.sched.evaluate(at(6, 0))
	if f.starter.callCount() != 0 {
		t.Fatal("scheduler started a run in manual mode")
	}

	// Back to auto inside the same grace window: the occurrence was
	// consumed and must not fire late.
	f.store.SetMode(state.ModeAuto)
	f.sched.evaluate(at(6, 5))
	if f.starter.callCount() != 0 {
		t.Error("occurrence fired after manual mode already consumed it")
	}
}

func TestManualModeAbandonsWaitingRun(t *testing.T) {
	f := newTestScheduler(t, nil, weekdayEntry(1, 4))
	f.starter.sticky = &irrigation.BusyError{Reason: "zone 9 running"}

	f.sched.evaluate(at(6, 0))
	if len(f.sched.Pending()) != 1 {
		t.Fatal("entry not waiting")
	}

	f.store.SetMode(state.ModeManual)
	f.starter.sticky = nil
	f.sched.evaluate(at(6, 1))

	if f.starter.callCount() != 1 {
		t.Error("waiting run started despite manual mode")
	}
	if len(f.sched.Pending()) != 0 {
		t.Error("pending survived the switch to manual mode")
	}
}

func TestRoutineCadence(t *testing.T) {
	e := Entry{
		ID:           1,
		Kind:         KindRoutine,
		ZoneID:       7,
		DurationSec:  300,
		StartTime:    "06:00",
		Enabled:      true,
		StartDate:    "2026-02-25",
		IntervalDays: 3,
	}
	f := newTestScheduler(t, nil, e)

	fireAt := func(day time.Time) bool {
		before := f.starter.callCount()
		f.sched.evaluate(time.Date(day.Year(), day.Month(), day.Day(), 6, 0, 0, 0, time.UTC))
		return f.starter.callCount() > before
	}

	cases := []struct {
		day  time.Time
		want bool
	}{
		{time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		if got := fireAt(tc.day); got != tc.want {
			t.Errorf("routine fired=%v on %s, want %v", got, tc.day.Format(dateLayout), tc.want)
		}
	}
}

func TestRoutineMoistureGate(t *testing.T) {
	e := Entry{
		ID:            1,
		Kind:          KindRoutine,
		ZoneID:        7,
		DurationSec:   300,
		StartTime:     "06:00",
		Enabled:       true,
		StartDate:     "2026-03-16",
		IntervalDays:  1,
		CheckMoisture: true,
	}
	f := newTestScheduler(t, nil, e)

	// Wet soil consumes the occurrence without a run.
	f.store.SetZoneReading(7, 45.0, 20, 1.0, f.clock.Now())
	f.sched.evaluate(at(6, 0))
	if f.starter.callCount() != 0 {
		t.Fatal("routine ran despite moisture above threshold")
	}
	f.sched.evaluate(at(6, 1))
	if f.starter.callCount() != 0 {
		t.Fatal("consumed occurrence was retried")
	}

	// Next day the soil is dry.
	f.store.SetZoneReading(7, 28.5, 20, 1.0, f.clock.Now())
	f.sched.evaluate(at(6, 0).AddDate(0, 0, 1))
	if f.starter.callCount() != 1 {
		t.Fatalf("routine did not run on dry soil, attempts = %d", f.starter.callCount())
	}
}

func TestRoutineOfflineZoneAbandons(t *testing.T) {
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	e := Entry{
		ID:            1,
		Kind:          KindRoutine,
		ZoneID:        7,
		DurationSec:   300,
		StartTime:     "06:00",
		Enabled:       true,
		StartDate:     "2026-03-16",
		IntervalDays:  1,
		CheckMoisture: true,
	}
	f := newTestScheduler(t, hub, e)

	// Zone 7 was never read, so its status is offline.
	f.sched.evaluate(at(6, 0))
	if f.starter.callCount() != 0 {
		t.Fatal("routine ran with an offline zone")
	}

	ev := waitEvent(t, ch, events.ScheduleAbandoned)
	payload, err := events.DecodeAs[events.ScheduleEvent](ev)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Zone != 7 {
		t.Errorf("abandoned zone = %d, want 7", payload.Zone)
	}
}

func TestAscendingOrderOneStartPerTick(t *testing.T) {
	f := newTestScheduler(t, nil, weekdayEntry(2, 5), weekdayEntry(1, 2))
	// The first start wins the interlock, the second bounces.
	f.starter.queue = []error{nil, &irrigation.BusyError{CurrentZone: 2, Reason: "zone 2 running"}}

	f.sched.evaluate(at(6, 0))

	if f.starter.callCount() != 2 {
		t.Fatalf("start attempts = %d, want 2", f.starter.callCount())
	}
	if f.starter.call(0).zone != 2 || f.starter.call(1).zone != 5 {
		t.Errorf("attempts out of order: %+v then %+v", f.starter.call(0), f.starter.call(1))
	}

	pending := f.sched.Pending()
	if len(pending) != 1 || pending[0].EntryID != 2 {
		t.Fatalf("pending = %+v, want entry 2 waiting", pending)
	}

	// The waiting entry goes first on the next tick.
	f.sched.evaluate(at(6, 1))
	if f.starter.callCount() != 3 || f.starter.call(2).zone != 5 {
		t.Errorf("waiting entry not retried first: %+v", f.starter.calls)
	}
}

func TestDisableDropsWaitingRun(t *testing.T) {
	f := newTestScheduler(t, nil, weekdayEntry(1, 4))
	f.starter.sticky = &irrigation.BusyError{Reason: "zone 9 running"}

	f.sched.evaluate(at(6, 0))
	if len(f.sched.Pending()) != 1 {
		t.Fatal("entry not waiting")
	}

	if _, err := f.reg.SetEnabled(1, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	f.sched.CancelPending(1)

	if len(f.sched.Pending()) != 0 {
		t.Error("pending survived CancelPending")
	}

	f.starter.sticky = nil
	f.sched.evaluate(at(6, 1))
	if f.starter.callCount() != 1 {
		t.Error("disabled entry started anyway")
	}
}

func drainEvents(ch chan events.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func waitEvent(t *testing.T, ch chan events.Event, name string) events.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", name)
		}
	}
}
