// Package telemetry fans hub events out to the optional side channels:
// MQTT, InfluxDB and Prometheus. Everything here runs as a hub subscriber,
// so a slow or dead endpoint can never stall the control loops.
package telemetry

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/events"
)

// Metrics exposes the controller state as Prometheus metrics, fed entirely
// from hub events.
type Metrics struct {
	registry *prometheus.Registry

	tankPercent     *prometheus.GaugeVec
	tankVoltage     *prometheus.GaugeVec
	tankStale       *prometheus.GaugeVec
	zoneMoisture    *prometheus.GaugeVec
	zoneTemperature *prometheus.GaugeVec
	zoneEC          *prometheus.GaugeVec
	zoneOffline     *prometheus.GaugeVec

	interlockRunning prometheus.Gauge
	hoseOn           prometheus.Gauge

	runsTotal      *prometheus.CounterVec
	runSeconds     *prometheus.CounterVec
	alertsTotal    *prometheus.CounterVec
	abandonedTotal prometheus.Counter
}

// NewMetrics builds the metric set on its own registry, keeping the Go
// runtime collectors out of the scrape.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		tankPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "drip", Subsystem: "tank", Name: "percent",
			Help: "Filtered tank level in percent.",
		}, []string{"tank"}),
		tankVoltage: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "drip", Subsystem: "tank", Name: "voltage",
			Help: "Filtered tank sensor voltage.",
		}, []string{"tank"}),
		tankStale: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "drip", Subsystem: "tank", Name: "stale",
			Help: "1 while the tank reading is a retained previous value.",
		}, []string{"tank"}),
		zoneMoisture: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "drip", Subsystem: "zone", Name: "moisture_percent",
			Help: "Soil moisture per zone.",
		}, []string{"zone"}),
		zoneTemperature: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "drip", Subsystem: "zone", Name: "temperature_celsius",
			Help: "Soil temperature per zone.",
		}, []string{"zone"}),
		zoneEC: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "drip", Subsystem: "zone", Name: "ec",
			Help: "Soil electrical conductivity per zone.",
		}, []string{"zone"}),
		zoneOffline: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "drip", Subsystem: "zone", Name: "offline",
			Help: "1 while the zone probe is unreachable.",
		}, []string{"zone"}),
		interlockRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "drip", Name: "interlock_running",
			Help: "1 while a zone run holds the interlock.",
		}),
		hoseOn: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "drip", Name: "hose_on",
			Help: "1 while the hose gun outlet is open.",
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drip", Name: "irrigation_runs_total",
			Help: "Finished irrigation runs.",
		}, []string{"trigger", "success"}),
		runSeconds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drip", Name: "irrigation_seconds_total",
			Help: "Seconds of water flow per zone.",
		}, []string{"zone"}),
		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drip", Name: "alerts_total",
			Help: "Alerts raised, by level.",
		}, []string{"level"}),
		abandonedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "drip", Name: "schedule_abandoned_total",
			Help: "Scheduled occurrences consumed without a run.",
		}),
	}
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Run consumes hub events until ctx is canceled.
func (m *Metrics) Run(ctx context.Context, hub *events.EventHub) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	logrus.Debug("Prometheus collector starting")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			m.observe(ev)
		}
	}
}

func (m *Metrics) observe(ev events.Event) {
	switch ev.Name {
	case events.SensorUpdated:
		p, err := events.DecodeAs[events.SensorUpdatedEvent](ev)
		if err != nil {
			return
		}
		for _, tank := range p.Tanks {
			labels := prometheus.Labels{"tank": strconv.Itoa(tank.Tank)}
			m.tankPercent.With(labels).Set(tank.Percent)
			m.tankVoltage.With(labels).Set(tank.Voltage)
			m.tankStale.With(labels).Set(boolGauge(tank.Stale))
		}
		for _, z := range p.Zones {
			labels := prometheus.Labels{"zone": strconv.Itoa(z.Zone)}
			m.zoneMoisture.With(labels).Set(z.Moisture)
			m.zoneTemperature.With(labels).Set(z.Temperature)
			m.zoneEC.With(labels).Set(z.EC)
			m.zoneOffline.With(labels).Set(boolGauge(z.Status == "offline"))
		}

	case events.IrrigationStarted:
		m.interlockRunning.Set(1)

	case events.IrrigationFinished:
		m.interlockRunning.Set(0)
		p, err := events.DecodeAs[events.RunEvent](ev)
		if err != nil {
			return
		}
		m.runsTotal.With(prometheus.Labels{
			"trigger": p.Trigger,
			"success": strconv.FormatBool(p.Success),
		}).Inc()
		m.runSeconds.With(prometheus.Labels{"zone": strconv.Itoa(p.Zone)}).Add(float64(p.DurationSec))

	case events.HoseChanged:
		p, err := events.DecodeAs[events.HoseEvent](ev)
		if err != nil {
			return
		}
		m.hoseOn.Set(boolGauge(p.On))

	case events.AlertRaised:
		p, err := events.DecodeAs[events.AlertEvent](ev)
		if err != nil {
			return
		}
		m.alertsTotal.With(prometheus.Labels{"level": p.Level}).Inc()

	case events.ScheduleAbandoned:
		m.abandonedTotal.Inc()
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
