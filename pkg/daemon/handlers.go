package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/alert"
	"github.com/spinoza-lab/drip/pkg/calibration"
	"github.com/spinoza-lab/drip/pkg/events"
	"github.com/spinoza-lab/drip/pkg/irrigation"
	"github.com/spinoza-lab/drip/pkg/schedule"
	"github.com/spinoza-lab/drip/pkg/state"
	"github.com/spinoza-lab/drip/pkg/version"
)

// respondError maps domain errors onto status codes and the machine
// readable reason codes clients dispatch on.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "hardware"

	var (
		busy     *irrigation.BusyError
		badZone  *irrigation.InvalidZoneError
		tankLow  *irrigation.TankLowError
		badReq   *irrigation.ValidationError
		badEntry *schedule.ConfigError
	)
	switch {
	case errors.As(err, &busy):
		status, code = http.StatusConflict, "busy"
	case errors.As(err, &badZone):
		status, code = http.StatusBadRequest, "invalid_zone"
	case errors.As(err, &tankLow):
		status, code = http.StatusConflict, "tank_low"
	case errors.As(err, &badReq), errors.As(err, &badEntry):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, schedule.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	}

	c.IndentedJSON(status, gin.H{"error": err.Error(), "code": code})
	_ = c.AbortWithError(status, err)
}

func abortBadRequest(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
	_ = c.AbortWithError(http.StatusBadRequest, err)
}

// statusResponse is the full picture returned by GET /status.
type statusResponse struct {
	state.Snapshot
	Waiting   []schedule.PendingRun `json:"waiting,omitempty"`
	Sequence  []int                 `json:"sequence,omitempty"`
	UptimeSec int64                 `json:"uptime_sec"`
	Version   string                `json:"version"`
}

func getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, statusResponse{
		Snapshot:  svc.store.Snapshot(),
		Waiting:   svc.scheduler.Pending(),
		Sequence:  svc.executor.SequenceZones(),
		UptimeSec: int64(time.Since(svc.startedAt).Seconds()),
		Version:   version.Version,
	})
}

func getZones(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, svc.store.Zones())
}

func getTanks(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, svc.store.Tanks())
}

func getInterlock(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, svc.store.Interlock())
}

func getMode(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, svc.store.Mode())
}

func setMode(c *gin.Context) {
	var m string
	if err := c.ShouldBindJSON(&m); err != nil {
		abortBadRequest(c, err)
		return
	}

	mode := state.Mode(m)
	if mode != state.ModeAuto && mode != state.ModeManual {
		abortBadRequest(c, fmt.Errorf("mode must be %q or %q, got %q", state.ModeAuto, state.ModeManual, m))
		return
	}

	svc.store.SetMode(mode)
	svc.conf.SetMode(string(mode))
	if err := svc.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		respondError(c, err)
		return
	}
	svc.hub.Publish(events.ModeChanged, events.ModeEvent{Mode: string(mode), Ts: time.Now().Unix()})

	logrus.Infof("operating mode set to %s", mode)

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("mode set to %s", mode))
}

type startRequest struct {
	ZoneID      int `json:"zone_id"`
	DurationSec int `json:"duration_sec"`
}

func startIrrigation(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	d := time.Duration(req.DurationSec) * time.Second
	if err := svc.executor.Start(req.ZoneID, d, irrigation.TriggerManual); err != nil {
		respondError(c, err)
		return
	}
	if d == 0 {
		d = svc.conf.DefaultDuration()
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("zone %d irrigating for %s", req.ZoneID, d))
}

func stopIrrigation(c *gin.Context) {
	// Stop is stop-all: a running sequence must not hop to its next zone
	// right after the current run is cut short.
	svc.executor.CancelSequence()
	if err := svc.executor.Stop(); err != nil {
		respondError(c, err)
		return
	}

	c.IndentedJSON(http.StatusOK, "stopped")
}

type sequenceRequest struct {
	Zones       []int `json:"zones"`
	DurationSec int   `json:"duration_sec"`
	PauseSec    int   `json:"pause_sec"`
}

func startSequence(c *gin.Context) {
	var req sequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	perZone := time.Duration(req.DurationSec) * time.Second
	pause := time.Duration(req.PauseSec) * time.Second
	if err := svc.executor.RunSequence(req.Zones, perZone, pause, irrigation.TriggerManual); err != nil {
		respondError(c, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("sequence started across %d zones", len(req.Zones)))
}

func startDrain(c *gin.Context) {
	if err := svc.executor.Drain(); err != nil {
		respondError(c, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, "winter drain started")
}

func emergencyStop(c *gin.Context) {
	if err := svc.executor.EmergencyStop(); err != nil {
		respondError(c, err)
		return
	}

	c.IndentedJSON(http.StatusOK, "emergency stop executed")
}

func getHose(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, svc.executor.HoseActive())
}

type hoseRequest struct {
	On bool `json:"on"`
}

func setHose(c *gin.Context) {
	var req hoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}

	var err error
	if req.On {
		err = svc.executor.HoseOn()
	} else {
		err = svc.executor.HoseOff()
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if req.On {
		c.IndentedJSON(http.StatusCreated, fmt.Sprintf("hose gun on, auto-off in %s", svc.conf.HoseTimeout()))
	} else {
		c.IndentedJSON(http.StatusCreated, "hose gun off")
	}
}

// entryView decorates a schedule entry with its next occurrence.
type entryView struct {
	schedule.Entry
	NextAt *time.Time `json:"next_at,omitempty"`
}

func listSchedules(c *gin.Context) {
	now := time.Now()
	entries := svc.registry.List()

	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		v := entryView{Entry: e}
		if e.Enabled {
			if at, ok := e.NextOccurrence(now); ok {
				v.NextAt = &at
			}
		}
		out = append(out, v)
	}

	c.IndentedJSON(http.StatusOK, out)
}

func addSchedule(c *gin.Context) {
	var e schedule.Entry
	if err := c.ShouldBindJSON(&e); err != nil {
		abortBadRequest(c, err)
		return
	}
	if e.DurationSec == 0 {
		e.DurationSec = int(svc.conf.DefaultDuration() / time.Second)
	}
	if err := e.Validate(svc.conf.ZoneCount(), svc.conf.MaxDuration()); err != nil {
		respondError(c, err)
		return
	}

	e.CreatedAt = time.Now()
	stored, err := svc.registry.Add(e)
	if err != nil {
		respondError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"id":   stored.ID,
		"type": stored.Kind,
		"zone": stored.ZoneID,
	}).Info("schedule entry added")

	c.IndentedJSON(http.StatusCreated, stored)
}

func deleteSchedule(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}

	if err := svc.registry.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	// A deleted entry must not fire from the waiting queue.
	svc.scheduler.CancelPending(id)

	logrus.Infof("schedule entry %d deleted", id)

	c.IndentedJSON(http.StatusOK, fmt.Sprintf("schedule %d deleted", id))
}

func setScheduleEnabled(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}

	var enabled bool
	if err := c.ShouldBindJSON(&enabled); err != nil {
		abortBadRequest(c, err)
		return
	}

	entry, err := svc.registry.SetEnabled(id, enabled)
	if err != nil {
		respondError(c, err)
		return
	}
	if !enabled {
		svc.scheduler.CancelPending(id)
	}

	logrus.Infof("schedule entry %d enabled=%t", id, enabled)

	c.IndentedJSON(http.StatusOK, entry)
}

func getNextRun(c *gin.Context) {
	next, ok := schedule.Next(svc.registry.List(), time.Now())
	if !ok {
		err := errors.New("no enabled entries with an upcoming occurrence")
		c.IndentedJSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
		_ = c.AbortWithError(http.StatusNotFound, err)
		return
	}

	c.IndentedJSON(http.StatusOK, next)
}

func getEvents(c *gin.Context) {
	evs, err := svc.files.Events(parseLimitQuery(c, 50))
	if err != nil {
		respondError(c, err)
		return
	}
	if evs == nil {
		evs = []irrigation.Event{}
	}

	c.IndentedJSON(http.StatusOK, evs)
}

// streamEvents relays the hub to the client as server-sent events.
func streamEvents(c *gin.Context) {
	ch := svc.hub.Subscribe()
	defer svc.hub.Unsubscribe(ch)

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type alertsResponse struct {
	Alerts   []alert.Alert       `json:"alerts"`
	Counts24 map[alert.Level]int `json:"counts_24h"`
}

func getAlerts(c *gin.Context) {
	history := svc.alerts.History(parseLimitQuery(c, 50), alert.Level(c.Query("level")))
	if history == nil {
		history = []alert.Alert{}
	}

	c.IndentedJSON(http.StatusOK, alertsResponse{
		Alerts:   history,
		Counts24: svc.alerts.Counts(),
	})
}

func getCalibration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, svc.engine.Calibration())
}

func setCalibration(c *gin.Context) {
	var cal calibration.Calibration
	if err := c.ShouldBindJSON(&cal); err != nil {
		abortBadRequest(c, err)
		return
	}

	cal = cal.Normalized()
	if err := cal.Validate(); err != nil {
		abortBadRequest(c, err)
		return
	}

	now := time.Now()
	prev := svc.engine.Calibration()
	if cal.SensorType == "" {
		cal.SensorType = prev.SensorType
	}
	cal.Water.CalibratedAt = stampIfChanged(cal.Water, prev.Water, now)
	cal.Nutrient.CalibratedAt = stampIfChanged(cal.Nutrient, prev.Nutrient, now)
	cal.LastUpdated = &now

	if err := svc.files.SaveCalibration(cal); err != nil {
		respondError(c, err)
		return
	}
	svc.engine.SetCalibration(cal)

	logrus.WithFields(logrus.Fields{
		"water":    fmt.Sprintf("%.3f-%.3f", cal.Water.EmptyVolts, cal.Water.FullVolts),
		"nutrient": fmt.Sprintf("%.3f-%.3f", cal.Nutrient.EmptyVolts, cal.Nutrient.FullVolts),
	}).Info("calibration updated")

	c.IndentedJSON(http.StatusCreated, cal)
}

// stampIfChanged keeps the previous calibration timestamp when the channel
// voltages did not move.
func stampIfChanged(next, prev calibration.Channel, now time.Time) *time.Time {
	if next.EmptyVolts == prev.EmptyVolts && next.FullVolts == prev.FullVolts {
		return prev.CalibratedAt
	}
	return &now
}

func getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, svc.conf.Raw())
}

func getHealthz(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{"status": "ok"})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
