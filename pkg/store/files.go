// Package store persists everything that must survive a daemon restart:
// schedule entries, tank calibration, per-zone moisture thresholds and the
// append-only irrigation history.
package store

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/calibration"
	"github.com/spinoza-lab/drip/pkg/irrigation"
	"github.com/spinoza-lab/drip/pkg/schedule"
)

// Files keeps everything under one data directory:
//
//	schedules.json   schedule entries
//	calibration.json tank sensor calibration
//	thresholds.json  per-zone moisture thresholds
//	events.csv       append-only irrigation history
type Files struct {
	dir string
	mu  *sync.Mutex
}

// NewFiles creates the data directory if needed.
func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create data dir %s", dir)
	}
	return &Files{dir: dir, mu: &sync.Mutex{}}, nil
}

func (s *Files) schedulesPath() string   { return filepath.Join(s.dir, "schedules.json") }
func (s *Files) calibrationPath() string { return filepath.Join(s.dir, "calibration.json") }
func (s *Files) thresholdsPath() string  { return filepath.Join(s.dir, "thresholds.json") }
func (s *Files) eventsPath() string      { return filepath.Join(s.dir, "events.csv") }

type scheduleFile struct {
	Schedules []schedule.Entry `json:"schedules"`
}

// Schedules loads the persisted entries. A missing or empty file is an
// empty list, not an error.
func (s *Files) Schedules() ([]schedule.Entry, error) {
	var sf scheduleFile
	found, err := s.readJSON(s.schedulesPath(), &sf)
	if err != nil || !found {
		return nil, err
	}
	return sf.Schedules, nil
}

// SaveSchedules writes the full entry list.
func (s *Files) SaveSchedules(entries []schedule.Entry) error {
	if entries == nil {
		entries = []schedule.Entry{}
	}
	return s.writeJSON(s.schedulesPath(), scheduleFile{Schedules: entries})
}

// Calibration loads the persisted calibration, falling back to the factory
// defaults when nothing was saved yet.
func (s *Files) Calibration() (calibration.Calibration, error) {
	var c calibration.Calibration
	found, err := s.readJSON(s.calibrationPath(), &c)
	if err != nil {
		return calibration.Default(), err
	}
	if !found {
		return calibration.Default(), nil
	}
	return c, nil
}

// SaveCalibration writes the calibration.
func (s *Files) SaveCalibration(c calibration.Calibration) error {
	return s.writeJSON(s.calibrationPath(), c)
}

// Thresholds loads the per-zone moisture thresholds. Zones without an
// entry use the configured default.
func (s *Files) Thresholds() (map[int]float64, error) {
	m := map[int]float64{}
	if _, err := s.readJSON(s.thresholdsPath(), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveThresholds writes the per-zone moisture thresholds.
func (s *Files) SaveThresholds(m map[int]float64) error {
	return s.writeJSON(s.thresholdsPath(), m)
}

// readJSON loads path into v. found is false when the file does not exist
// or is empty, which callers treat as "nothing saved yet".
func (s *Files) readJSON(path string, v any) (found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to read file %s", path)
	}
	if strings.TrimSpace(string(b)) == "" {
		return false, nil
	}

	if err := json.Unmarshal(b, v); err != nil {
		return false, pkgerrors.Wrapf(err, "failed to parse file %s", path)
	}
	return true, nil
}

func (s *Files) writeJSON(path string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, err := os.Create(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode file %s", path)
	}

	return nil
}

var eventHeader = []string{"timestamp", "zone_id", "duration_sec", "trigger", "moisture_before", "success", "id"}

// AppendEvent adds one row to the irrigation history. The header is
// written when the file is new. Implements irrigation.EventSink.
func (s *Files) AppendEvent(ev irrigation.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.eventsPath()
	_, statErr := os.Stat(path)
	newFile := os.IsNotExist(statErr)

	fp, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	w := csv.NewWriter(fp)
	if newFile {
		if err := w.Write(eventHeader); err != nil {
			return pkgerrors.Wrap(err, "failed to write history header")
		}
	}

	row := []string{
		ev.Timestamp.Format(time.RFC3339),
		strconv.Itoa(ev.ZoneID),
		strconv.Itoa(ev.DurationSec),
		string(ev.Trigger),
		strconv.FormatFloat(ev.MoistureBefore, 'f', 1, 64),
		strconv.FormatBool(ev.Success),
		ev.ID.String(),
	}
	if err := w.Write(row); err != nil {
		return pkgerrors.Wrap(err, "failed to write history row")
	}

	w.Flush()
	return pkgerrors.Wrapf(w.Error(), "failed to append to %s", path)
}

// Events returns the most recent irrigation events, newest first. limit <=
// 0 returns the full history. Rows that fail to parse are skipped so one
// torn write cannot hide the rest of the file.
func (s *Files) Events(limit int) ([]irrigation.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, err := os.Open(s.eventsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to open file %s", s.eventsPath())
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", s.eventsPath())
		}
	}(fp)

	r := csv.NewReader(fp)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read file %s", s.eventsPath())
	}

	var out []irrigation.Event
	for i := len(rows) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		ev, ok := parseEventRow(rows[i])
		if !ok {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseEventRow(row []string) (irrigation.Event, bool) {
	if len(row) < 6 || row[0] == "timestamp" {
		return irrigation.Event{}, false
	}

	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		logrus.Warnf("skipping malformed history row: bad timestamp %q", row[0])
		return irrigation.Event{}, false
	}
	zone, err := strconv.Atoi(row[1])
	if err != nil {
		logrus.Warnf("skipping malformed history row: bad zone %q", row[1])
		return irrigation.Event{}, false
	}
	duration, err := strconv.Atoi(row[2])
	if err != nil {
		logrus.Warnf("skipping malformed history row: bad duration %q", row[2])
		return irrigation.Event{}, false
	}
	moisture, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		logrus.Warnf("skipping malformed history row: bad moisture %q", row[4])
		return irrigation.Event{}, false
	}
	success, err := strconv.ParseBool(row[5])
	if err != nil {
		logrus.Warnf("skipping malformed history row: bad success %q", row[5])
		return irrigation.Event{}, false
	}

	ev := irrigation.Event{
		Timestamp:      ts,
		ZoneID:         zone,
		DurationSec:    duration,
		Trigger:        irrigation.Trigger(row[3]),
		MoistureBefore: moisture,
		Success:        success,
	}
	if len(row) >= 7 {
		if id, err := uuid.Parse(row[6]); err == nil {
			ev.ID = id
		}
	}
	return ev, true
}
