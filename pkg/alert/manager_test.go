package alert

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spinoza-lab/drip/pkg/events"
)

type alertConfig struct {
	min, max float64
	cooldown time.Duration
}

func (c alertConfig) MinTankPercent() float64      { return c.min }
func (c alertConfig) TankMaxPercent() float64      { return c.max }
func (c alertConfig) AlertCooldown() time.Duration { return c.cooldown }

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager() (*Manager, *stepClock) {
	clock := &stepClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	cfg := alertConfig{min: 20, max: 90, cooldown: 300 * time.Second}
	return NewManager(cfg, clock, nil), clock
}

func TestCheckTankCooldownSuppression(t *testing.T) {
	m, clock := newTestManager()

	m.CheckTank(1, 17, 1.18, false)
	m.CheckTank(1, 16.5, 1.16, false)
	m.CheckTank(1, 17.5, 1.2, false)

	if got := len(m.History(0, "")); got != 1 {
		t.Fatalf("history has %d alerts within cooldown, want 1", got)
	}

	clock.advance(301 * time.Second)
	m.CheckTank(1, 17, 1.18, false)

	hist := m.History(0, "")
	if len(hist) != 2 {
		t.Fatalf("history has %d alerts after cooldown, want 2", len(hist))
	}
	if hist[0].Kind != KindTankLow || hist[0].Level != LevelWarning {
		t.Errorf("alert = %v/%v, want tank_low warning", hist[0].Kind, hist[0].Level)
	}
}

func TestCheckTankCriticalEscalation(t *testing.T) {
	m, _ := newTestManager()

	m.CheckTank(1, 18, 1.2, false)
	// Dropping below 0.8x the minimum escalates immediately, the warning
	// cooldown must not hold it back.
	m.CheckTank(1, 10, 0.9, false)

	hist := m.History(0, "")
	if len(hist) != 2 {
		t.Fatalf("history has %d alerts, want 2", len(hist))
	}
	if hist[0].Level != LevelCritical || hist[0].Kind != KindTankLow {
		t.Errorf("newest alert = %v/%v, want critical tank_low", hist[0].Level, hist[0].Kind)
	}
	if hist[1].Level != LevelWarning {
		t.Errorf("first alert = %v, want warning", hist[1].Level)
	}
}

func TestCheckTankHigh(t *testing.T) {
	m, _ := newTestManager()

	m.CheckTank(2, 95, 4.3, false)

	hist := m.History(0, "")
	if len(hist) != 1 || hist[0].Kind != KindTankHigh {
		t.Fatalf("history = %+v, want one tank_high alert", hist)
	}
	if hist[0].Tank != 2 {
		t.Errorf("alert tank = %d, want 2", hist[0].Tank)
	}
}

func TestCheckTankImplausibleVoltage(t *testing.T) {
	m, _ := newTestManager()

	m.CheckTank(1, 50, 0.01, false)
	m.CheckTank(2, 50, 4.99, false)

	hist := m.History(0, "")
	if len(hist) != 2 {
		t.Fatalf("history has %d alerts, want 2", len(hist))
	}
	for _, a := range hist {
		if a.Kind != KindSensorFault {
			t.Errorf("alert kind = %v, want sensor_fault", a.Kind)
		}
	}
}

func TestCheckTankStale(t *testing.T) {
	m, _ := newTestManager()

	m.CheckTank(1, 50, 2.5, true)

	hist := m.History(0, "")
	if len(hist) != 1 || hist[0].Kind != KindSensorFault {
		t.Fatalf("history = %+v, want one sensor_fault alert", hist)
	}
	if !strings.Contains(hist[0].Message, "stale") {
		t.Errorf("message %q does not mention staleness", hist[0].Message)
	}
}

func TestZoneCommFault(t *testing.T) {
	m, _ := newTestManager()

	m.ZoneCommFault(3, errors.New("modbus timeout"))
	m.ZoneCommFault(3, errors.New("modbus timeout"))
	m.ZoneCommFault(4, errors.New("modbus timeout"))

	hist := m.History(0, "")
	if len(hist) != 2 {
		t.Fatalf("history has %d alerts, want 2 (per-zone cooldown)", len(hist))
	}
}

func TestHistoryFilterAndLimit(t *testing.T) {
	m, _ := newTestManager()

	m.Info("daemon started")
	m.CheckTank(1, 10, 0.9, false)
	m.CheckTank(2, 95, 4.3, false)

	warnings := m.History(0, LevelWarning)
	if len(warnings) != 1 || warnings[0].Kind != KindTankHigh {
		t.Fatalf("warning filter = %+v, want the tank_high alert", warnings)
	}

	if got := m.History(2, ""); len(got) != 2 {
		t.Fatalf("History(2) returned %d alerts, want 2", len(got))
	}

	all := m.History(0, "")
	if all[0].Kind != KindTankHigh || all[len(all)-1].Kind != KindSystem {
		t.Errorf("history not newest first: %+v", all)
	}
}

func TestCountsWindow(t *testing.T) {
	m, clock := newTestManager()

	m.CheckTank(1, 10, 0.9, false)
	clock.advance(25 * time.Hour)
	m.CheckTank(2, 95, 4.3, false)

	counts := m.Counts()
	if counts[LevelCritical] != 0 {
		t.Errorf("critical count = %d, want 0 after 24h", counts[LevelCritical])
	}
	if counts[LevelWarning] != 1 {
		t.Errorf("warning count = %d, want 1", counts[LevelWarning])
	}
}

func TestRaisePublishesToHub(t *testing.T) {
	clock := &stepClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	cfg := alertConfig{min: 20, max: 90, cooldown: 300 * time.Second}
	hub := events.NewEventHub()
	m := NewManager(cfg, clock, hub)

	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	m.CheckTank(1, 10, 0.9, false)

	select {
	case ev := <-ch:
		if ev.Name != events.AlertRaised {
			t.Fatalf("event name = %q, want %q", ev.Name, events.AlertRaised)
		}
		payload, err := events.DecodeAs[events.AlertEvent](ev)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.Level != string(LevelCritical) || payload.Tank != 1 {
			t.Errorf("payload = %+v, want critical for tank 1", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no alert.raised event published")
	}
}
