package telemetry

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/config"
	"github.com/spinoza-lab/drip/pkg/events"
)

// Recorder writes sampling cycles and finished runs to InfluxDB. Write
// failures are logged and dropped; history on disk is the system of record,
// the time series is a convenience.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewRecorder validates the settings and builds the client. The connection
// itself is lazy; the first write reaches out.
func NewRecorder(cfg config.InfluxSettings) (*Recorder, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, pkgerrors.New("influx settings incomplete: url, token, org and bucket are required")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Run consumes hub events until ctx is canceled, then closes the client.
func (r *Recorder) Run(ctx context.Context, hub *events.EventHub) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	logrus.Info("Influx recorder starting")
	for {
		select {
		case <-ctx.Done():
			r.client.Close()
			logrus.Debug("Influx recorder closed")
			return
		case ev := <-ch:
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev events.Event) {
	switch ev.Name {
	case events.SensorUpdated:
		p, err := events.DecodeAs[events.SensorUpdatedEvent](ev)
		if err != nil {
			return
		}
		ts := time.Unix(p.Ts, 0)

		points := make([]*write.Point, 0, len(p.Tanks)+len(p.Zones))
		for _, tank := range p.Tanks {
			points = append(points, influxdb2.NewPoint("tank",
				map[string]string{"tank": strconv.Itoa(tank.Tank)},
				map[string]any{
					"percent": tank.Percent,
					"voltage": tank.Voltage,
					"stale":   tank.Stale,
				},
				ts))
		}
		for _, z := range p.Zones {
			points = append(points, influxdb2.NewPoint("zone",
				map[string]string{"zone": strconv.Itoa(z.Zone)},
				map[string]any{
					"moisture":    z.Moisture,
					"temperature": z.Temperature,
					"ec":          z.EC,
					"status":      z.Status,
				},
				ts))
		}
		if err := r.writeAPI.WritePoint(ctx, points...); err != nil {
			logrus.WithError(err).Debug("Influx sensor write failed")
		}

	case events.IrrigationFinished:
		p, err := events.DecodeAs[events.RunEvent](ev)
		if err != nil {
			return
		}
		point := influxdb2.NewPoint("irrigation",
			map[string]string{
				"zone":    strconv.Itoa(p.Zone),
				"trigger": p.Trigger,
			},
			map[string]any{
				"duration_sec":    p.DurationSec,
				"moisture_before": p.MoistureBefore,
				"success":         p.Success,
			},
			time.Unix(p.Ts, 0))
		if err := r.writeAPI.WritePoint(ctx, point); err != nil {
			logrus.WithError(err).Debug("Influx run write failed")
		}

	case events.AlertRaised:
		p, err := events.DecodeAs[events.AlertEvent](ev)
		if err != nil {
			return
		}
		point := influxdb2.NewPoint("alert",
			map[string]string{
				"level": p.Level,
				"kind":  p.Kind,
			},
			map[string]any{
				"message": p.Message,
				"value":   p.Value,
			},
			time.Unix(p.Ts, 0))
		if err := r.writeAPI.WritePoint(ctx, point); err != nil {
			logrus.WithError(err).Debug("Influx alert write failed")
		}
	}
}
