// Package alert turns sensor findings into rate limited alerts. Every
// condition is keyed, and a key that already fired within the cooldown
// stays silent, so a tank that sits below its minimum for an hour produces
// one alert instead of one per sampling cycle.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/events"
	"github.com/spinoza-lab/drip/pkg/hardware"
)

// Level grades an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Kind names the condition behind an alert.
type Kind string

const (
	KindTankLow     Kind = "tank_low"
	KindTankHigh    Kind = "tank_high"
	KindSensorFault Kind = "sensor_fault"
	KindCommFault   Kind = "comm_fault"
	KindSystem      Kind = "system"
)

// Alert is one raised alert as kept in history and shown by /alerts.
type Alert struct {
	Level     Level     `json:"level"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Tank      int       `json:"tank,omitempty"`
	Zone      int       `json:"zone,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config is the slice of the daemon configuration the manager reads.
type Config interface {
	MinTankPercent() float64
	TankMaxPercent() float64
	AlertCooldown() time.Duration
}

// Sensor outputs outside this range point at wiring trouble rather than an
// actual tank level.
const (
	minPlausibleVolts = 0.05
	maxPlausibleVolts = 4.95
)

// criticalFactor scales the minimum level down to the point where a low
// tank escalates from warning to critical.
const criticalFactor = 0.8

const historyCapacity = 100

// Manager rate limits, records and fans out alerts. All methods are safe
// for concurrent use.
type Manager struct {
	cfg   Config
	clock hardware.Clock
	hub   *events.EventHub

	mu       sync.Mutex
	lastSent map[string]time.Time
	history  []Alert
}

// NewManager returns an empty manager. hub may be nil in tests.
func NewManager(cfg Config, clock hardware.Clock, hub *events.EventHub) *Manager {
	return &Manager{
		cfg:      cfg,
		clock:    clock,
		hub:      hub,
		lastSent: map[string]time.Time{},
	}
}

// CheckTank grades one tank reading. Called by the sampling engine after
// every cycle, once per tank.
func (m *Manager) CheckTank(tank int, percent, voltage float64, stale bool) {
	if voltage < minPlausibleVolts || voltage > maxPlausibleVolts {
		m.raise(Alert{
			Level:   LevelWarning,
			Kind:    KindSensorFault,
			Message: fmt.Sprintf("tank %d sensor reads %.3fV, outside the plausible range", tank, voltage),
			Tank:    tank,
			Value:   voltage,
		})
	}

	if stale {
		m.raise(Alert{
			Level:   LevelWarning,
			Kind:    KindSensorFault,
			Message: fmt.Sprintf("tank %d readings are stale, showing the last good value", tank),
			Tank:    tank,
			Value:   percent,
		})
	}

	min := m.cfg.MinTankPercent()
	max := m.cfg.TankMaxPercent()

	switch {
	case percent < criticalFactor*min:
		m.raise(Alert{
			Level:   LevelCritical,
			Kind:    KindTankLow,
			Message: fmt.Sprintf("tank %d critically low at %.1f%%", tank, percent),
			Tank:    tank,
			Value:   percent,
		})
	case percent < min:
		m.raise(Alert{
			Level:   LevelWarning,
			Kind:    KindTankLow,
			Message: fmt.Sprintf("tank %d low at %.1f%% (minimum %.0f%%)", tank, percent, min),
			Tank:    tank,
			Value:   percent,
		})
	case percent > max:
		m.raise(Alert{
			Level:   LevelWarning,
			Kind:    KindTankHigh,
			Message: fmt.Sprintf("tank %d above %.0f%% at %.1f%%, check the float valve", tank, max, percent),
			Tank:    tank,
			Value:   percent,
		})
	}
}

// ZoneCommFault records a failed probe read.
func (m *Manager) ZoneCommFault(zone int, err error) {
	m.raise(Alert{
		Level:   LevelWarning,
		Kind:    KindCommFault,
		Message: fmt.Sprintf("zone %d probe unreachable: %v", zone, err),
		Zone:    zone,
	})
}

// Info raises an informational alert, e.g. on daemon start.
func (m *Manager) Info(message string) {
	m.raise(Alert{
		Level:   LevelInfo,
		Kind:    KindSystem,
		Message: message,
	})
}

// cooldownKey includes the level so an escalation to critical is not
// silenced by the cooldown of the earlier warning.
func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s/%s/t%d/z%d", a.Kind, a.Level, a.Tank, a.Zone)
}

func (m *Manager) raise(a Alert) {
	now := m.clock.Now()
	key := cooldownKey(a)

	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cfg.AlertCooldown() {
		m.mu.Unlock()
		return
	}
	m.lastSent[key] = now

	a.Timestamp = now
	if len(m.history) >= historyCapacity {
		m.history = m.history[1:]
	}
	m.history = append(m.history, a)
	m.mu.Unlock()

	fields := logrus.Fields{"kind": a.Kind}
	if a.Tank != 0 {
		fields["tank"] = a.Tank
	}
	if a.Zone != 0 {
		fields["zone"] = a.Zone
	}
	switch a.Level {
	case LevelCritical:
		logrus.WithFields(fields).Error(a.Message)
	case LevelWarning:
		logrus.WithFields(fields).Warn(a.Message)
	default:
		logrus.WithFields(fields).Info(a.Message)
	}

	if m.hub != nil {
		m.hub.Publish(events.AlertRaised, events.AlertEvent{
			Level:   string(a.Level),
			Kind:    string(a.Kind),
			Message: a.Message,
			Tank:    a.Tank,
			Zone:    a.Zone,
			Value:   a.Value,
			Ts:      a.Timestamp.Unix(),
		})
	}
}

// History returns the most recent alerts, newest first. level filters to a
// single level when non-empty; limit <= 0 means everything retained.
func (m *Manager) History(limit int, level Level) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		if level != "" && m.history[i].Level != level {
			continue
		}
		out = append(out, m.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Counts returns how many alerts of each level were raised in the last 24
// hours.
func (m *Manager) Counts() map[Level]int {
	cutoff := m.clock.Now().Add(-24 * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[Level]int{}
	for _, a := range m.history {
		if a.Timestamp.Before(cutoff) {
			continue
		}
		counts[a.Level]++
	}
	return counts
}
