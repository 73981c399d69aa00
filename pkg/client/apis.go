package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/spinoza-lab/drip/pkg/alert"
	"github.com/spinoza-lab/drip/pkg/calibration"
	"github.com/spinoza-lab/drip/pkg/config"
	"github.com/spinoza-lab/drip/pkg/irrigation"
	"github.com/spinoza-lab/drip/pkg/schedule"
	"github.com/spinoza-lab/drip/pkg/state"
)

// Status mirrors the GET /status payload.
type Status struct {
	state.Snapshot
	Waiting   []schedule.PendingRun `json:"waiting,omitempty"`
	Sequence  []int                 `json:"sequence,omitempty"`
	UptimeSec int64                 `json:"uptime_sec"`
	Version   string                `json:"version"`
}

// ScheduleEntry mirrors one element of GET /schedules: the stored entry
// plus its computed next occurrence.
type ScheduleEntry struct {
	schedule.Entry
	NextAt *time.Time `json:"next_at,omitempty"`
}

// AlertsResponse mirrors the GET /alerts payload.
type AlertsResponse struct {
	Alerts   []alert.Alert       `json:"alerts"`
	Counts24 map[alert.Level]int `json:"counts_24h"`
}

func (c *Client) GetStatus() (*Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

func (c *Client) GetZones() ([]state.Zone, error) {
	ret, err := c.Get("/zones")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get zones")
	}

	var zones []state.Zone
	if err := json.Unmarshal([]byte(ret), &zones); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal zones")
	}
	return zones, nil
}

func (c *Client) GetTanks() ([]state.TankReading, error) {
	ret, err := c.Get("/tanks")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get tanks")
	}

	var tanks []state.TankReading
	if err := json.Unmarshal([]byte(ret), &tanks); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal tanks")
	}
	return tanks, nil
}

func (c *Client) GetInterlock() (*state.Interlock, error) {
	ret, err := c.Get("/interlock")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get interlock")
	}

	var il state.Interlock
	if err := json.Unmarshal([]byte(ret), &il); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal interlock")
	}
	return &il, nil
}

func (c *Client) GetMode() (string, error) {
	ret, err := c.Get("/mode")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get mode")
	}
	return unquote(ret), nil
}

func (c *Client) SetMode(mode string) (string, error) {
	payload, err := json.Marshal(mode)
	if err != nil {
		return "", err
	}
	return c.Put("/mode", string(payload))
}

func (c *Client) StartIrrigation(zone, durationSec int) (string, error) {
	payload, err := json.Marshal(struct {
		ZoneID      int `json:"zone_id"`
		DurationSec int `json:"duration_sec,omitempty"`
	}{zone, durationSec})
	if err != nil {
		return "", err
	}
	return c.Post("/irrigation/start", string(payload))
}

func (c *Client) StopIrrigation() (string, error) {
	return c.Post("/irrigation/stop", "")
}

func (c *Client) StartSequence(zones []int, durationSec, pauseSec int) (string, error) {
	payload, err := json.Marshal(struct {
		Zones       []int `json:"zones"`
		DurationSec int   `json:"duration_sec,omitempty"`
		PauseSec    int   `json:"pause_sec,omitempty"`
	}{zones, durationSec, pauseSec})
	if err != nil {
		return "", err
	}
	return c.Post("/irrigation/sequence", string(payload))
}

func (c *Client) StartDrain() (string, error) {
	return c.Post("/irrigation/drain", "")
}

func (c *Client) EmergencyStop() (string, error) {
	return c.Post("/emergency-stop", "")
}

func (c *Client) GetHose() (bool, error) {
	ret, err := c.Get("/hose")
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to get hose gun status")
	}
	return parseBoolResponse(ret)
}

func (c *Client) SetHose(on bool) (string, error) {
	payload, err := json.Marshal(struct {
		On bool `json:"on"`
	}{on})
	if err != nil {
		return "", err
	}
	return c.Put("/hose", string(payload))
}

func (c *Client) GetSchedules() ([]ScheduleEntry, error) {
	ret, err := c.Get("/schedules")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedules")
	}

	var entries []ScheduleEntry
	if err := json.Unmarshal([]byte(ret), &entries); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedules")
	}
	return entries, nil
}

// AddSchedule stores a new entry and returns it with its assigned id.
func (c *Client) AddSchedule(e schedule.Entry) (*schedule.Entry, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	ret, err := c.Post("/schedules", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to add schedule")
	}

	var stored schedule.Entry
	if err := json.Unmarshal([]byte(ret), &stored); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal stored schedule")
	}
	return &stored, nil
}

func (c *Client) DeleteSchedule(id int) (string, error) {
	return c.Delete(fmt.Sprintf("/schedules/%d", id))
}

func (c *Client) SetScheduleEnabled(id int, enabled bool) (*schedule.Entry, error) {
	ret, err := c.Put(fmt.Sprintf("/schedules/%d/enabled", id), strconv.FormatBool(enabled))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to update schedule %d", id)
	}

	var entry schedule.Entry
	if err := json.Unmarshal([]byte(ret), &entry); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return &entry, nil
}

// GetNextRun returns the soonest upcoming occurrence. When no enabled entry
// has one the daemon answers 404 and the error matches ErrNotFound.
func (c *Client) GetNextRun() (*schedule.NextRun, error) {
	ret, err := c.Get("/schedules/next")
	if err != nil {
		return nil, err
	}

	var next schedule.NextRun
	if err := json.Unmarshal([]byte(ret), &next); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal next run")
	}
	return &next, nil
}

func (c *Client) GetEvents(limit int) ([]irrigation.Event, error) {
	path := "/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get events")
	}

	var evs []irrigation.Event
	if err := json.Unmarshal([]byte(ret), &evs); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal events")
	}
	return evs, nil
}

// GetAlerts returns recent alerts, optionally filtered by level.
func (c *Client) GetAlerts(limit int, level string) (*AlertsResponse, error) {
	path := "/alerts"
	sep := "?"
	if limit > 0 {
		path += sep + "limit=" + strconv.Itoa(limit)
		sep = "&"
	}
	if level != "" {
		path += sep + "level=" + level
	}

	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get alerts")
	}

	var resp AlertsResponse
	if err := json.Unmarshal([]byte(ret), &resp); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal alerts")
	}
	return &resp, nil
}

func (c *Client) GetCalibration() (*calibration.Calibration, error) {
	ret, err := c.Get("/calibration")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration")
	}

	var cal calibration.Calibration
	if err := json.Unmarshal([]byte(ret), &cal); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration")
	}
	return &cal, nil
}

// SetCalibration stores a new tank sensor calibration and returns it as the
// daemon normalized it.
func (c *Client) SetCalibration(cal calibration.Calibration) (*calibration.Calibration, error) {
	payload, err := json.Marshal(cal)
	if err != nil {
		return nil, err
	}

	ret, err := c.Put("/calibration", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set calibration")
	}

	var stored calibration.Calibration
	if err := json.Unmarshal([]byte(ret), &stored); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration")
	}
	return &stored, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}
	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret), nil
}

// unquote removes the "" around a JSON string. I don't want to use a JSON
// decoder just for this.
func unquote(ret string) string {
	if len(ret) >= 2 && ret[0] == '"' && ret[len(ret)-1] == '"' {
		return ret[1 : len(ret)-1]
	}
	return ret
}

func parseBoolResponse(resp string) (bool, error) {
	switch resp {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, pkgerrors.Errorf("unexpected response: %s", resp)
	}
}
