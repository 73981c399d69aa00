package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		CheckIntervalSeconds:   ptr.To(10),
		SampleCount:            ptr.To(10),
		OutlierRemove:          ptr.To(2),
		ZoneCount:              ptr.To(12),
		DefaultThreshold:       ptr.To(40.0),
		MinTankPercent:         ptr.To(20.0),
		TankMaxPercent:         ptr.To(90.0),
		DefaultDurationSeconds: ptr.To(600),
		MaxDurationSeconds:     ptr.To(1800),
		HoseTimeoutSeconds:     ptr.To(600),
		SequencePauseSeconds:   ptr.To(5),
		DrainPulseSeconds:      ptr.To(3),
		PumpSettleMillis:       ptr.To(500),
		ScheduleTickSeconds:    ptr.To(60),
		Mode:                   ptr.To("auto"),
		AlertCooldownSeconds:   ptr.To(300),
		AllowNonRootAccess:     ptr.To(false),
		DataDir:                ptr.To("/var/lib/drip"),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = defaultFileConfig
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	CheckIntervalSeconds   *int     `json:"check_interval_seconds,omitempty"`
	SampleCount            *int     `json:"sample_count,omitempty"`
	OutlierRemove          *int     `json:"outlier_remove,omitempty"`
	ZoneCount              *int     `json:"zone_count,omitempty"`
	DefaultThreshold       *float64 `json:"default_threshold,omitempty"`
	MinTankPercent         *float64 `json:"min_tank_percent,omitempty"`
	TankMaxPercent         *float64 `json:"tank_max_percent,omitempty"`
	DefaultDurationSeconds *int     `json:"default_duration_seconds,omitempty"`
	MaxDurationSeconds     *int     `json:"max_duration_seconds,omitempty"`
	HoseTimeoutSeconds     *int     `json:"hose_timeout_seconds,omitempty"`
	SequencePauseSeconds   *int     `json:"sequence_pause_seconds,omitempty"`
	DrainPulseSeconds      *int     `json:"drain_pulse_seconds,omitempty"`
	PumpSettleMillis       *int     `json:"pump_settle_ms,omitempty"`
	ScheduleTickSeconds    *int     `json:"schedule_tick_seconds,omitempty"`
	Mode                   *string  `json:"mode,omitempty"`
	AlertCooldownSeconds   *int     `json:"alert_cooldown_seconds,omitempty"`
	AllowNonRootAccess     *bool    `json:"allow_non_root_access,omitempty"`
	DataDir                *string  `json:"data_dir,omitempty"`

	MQTT   *MQTTSettings   `json:"mqtt,omitempty"`
	Influx *InfluxSettings `json:"influx,omitempty"`
}

func (f *File) intField(field func(*RawFileConfig) *int) int {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := field(f.c); v != nil {
		return *v
	}
	return *field(defaultFileConfig)
}

func (f *File) floatField(field func(*RawFileConfig) *float64) float64 {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := field(f.c); v != nil {
		return *v
	}
	return *field(defaultFileConfig)
}

func (f *File) CheckInterval() time.Duration {
	return time.Duration(f.intField(func(c *RawFileConfig) *int { return c.CheckIntervalSeconds })) * time.Second
}

func (f *File) SampleCount() int {
	return f.intField(func(c *RawFileConfig) *int { return c.SampleCount })
}

func (f *File) OutlierRemove() int {
	return f.intField(func(c *RawFileConfig) *int { return c.OutlierRemove })
}

func (f *File) ZoneCount() int {
	return f.intField(func(c *RawFileConfig) *int { return c.ZoneCount })
}

func (f *File) DefaultThreshold() float64 {
	return f.floatField(func(c *RawFileConfig) *float64 { return c.DefaultThreshold })
}

func (f *File) MinTankPercent() float64 {
	return f.floatField(func(c *RawFileConfig) *float64 { return c.MinTankPercent })
}

func (f *File) TankMaxPercent() float64 {
	return f.floatField(func(c *RawFileConfig) *float64 { return c.TankMaxPercent })
}

func (f *File) DefaultDuration() time.Duration {
	return time.Duration(f.intField(func(c *RawFileConfig) *int { return c.DefaultDurationSeconds })) * time.Second
}

func (f *File) MaxDuration() time.Duration {
	return time.Duration(f.intField(func(c *RawFileConfig) *int { return c.MaxDurationSeconds })) * time.Second
}

func (f *File) HoseTimeout() time.Duration {
	return time.Duration(f.intField(func(c *RawFileConfig) *int { return c.HoseTimeoutSeconds })) * time.Second
}

func (f *File) SequencePause() time.Duration {
	return time.Duration(f.intField(func(c *RawFileConfig) *int { return c.SequencePauseSeconds })) * time.Second
}

func (f *File) DrainPulse() time.Duration {
	return time.Duration(f.intField(func(c *RawFileConfig) *int { return c.DrainPulseSeconds })) * time.Second
}

func (f *File) PumpSettle() time.Duration {
	return time.Duration(f.intField(func(c *RawFileConfig) *int { return c.PumpSettleMillis })) * time.Millisecond
}

func (f *File) ScheduleTick() time.Duration {
	return time.Duration(f.intField(func(c *RawFileConfig) *int { return c.ScheduleTickSeconds })) * time.Second
}

func (f *File) Mode() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.Mode != nil {
		return *f.c.Mode
	}
	return *defaultFileConfig.Mode
}

func (f *File) SetMode(m string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Mode = &m
}

func (f *File) AlertCooldown() time.Duration {
	return time.Duration(f.intField(func(c *RawFileConfig) *int { return c.AlertCooldownSeconds })) * time.Second
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.AllowNonRootAccess != nil {
		return *f.c.AllowNonRootAccess
	}
	return *defaultFileConfig.AllowNonRootAccess
}

func (f *File) SetAllowNonRootAccess(allow bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = &allow
}

func (f *File) DataDir() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.DataDir != nil {
		return *f.c.DataDir
	}
	return *defaultFileConfig.DataDir
}

func (f *File) MQTT() MQTTSettings {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var s MQTTSettings
	if f.c.MQTT != nil {
		s = *f.c.MQTT
	}
	if s.ClientID == "" {
		s.ClientID = "drip"
	}
	if s.TopicPrefix == "" {
		s.TopicPrefix = "drip"
	}
	return s
}

func (f *File) Influx() InfluxSettings {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.Influx != nil {
		return *f.c.Influx
	}
	return InfluxSettings{}
}

// Raw returns a copy of the underlying file content, used by GET /config.
func (f *File) Raw() RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return *f.c
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}
	configString := string(b)

	if strings.TrimSpace(configString) == "" {
		// If the file is empty, return the empty config.
		// Do not make f.c a nil.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"checkInterval":   f.CheckInterval(),
		"sampleCount":     f.SampleCount(),
		"outlierRemove":   f.OutlierRemove(),
		"zoneCount":       f.ZoneCount(),
		"minTankPercent":  f.MinTankPercent(),
		"defaultDuration": f.DefaultDuration(),
		"maxDuration":     f.MaxDuration(),
		"scheduleTick":    f.ScheduleTick(),
		"mode":            f.Mode(),
		"dataDir":         f.DataDir(),
	}
}
