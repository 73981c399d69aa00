package config

import "time"

type Config interface {
	// Sampling.
	CheckInterval() time.Duration
	SampleCount() int
	OutlierRemove() int
	ZoneCount() int
	DefaultThreshold() float64

	// Irrigation policy.
	MinTankPercent() float64
	TankMaxPercent() float64
	DefaultDuration() time.Duration
	MaxDuration() time.Duration
	HoseTimeout() time.Duration
	SequencePause() time.Duration
	DrainPulse() time.Duration
	PumpSettle() time.Duration

	// Scheduling.
	ScheduleTick() time.Duration

	// Operation.
	Mode() string
	SetMode(string)
	AlertCooldown() time.Duration
	AllowNonRootAccess() bool
	SetAllowNonRootAccess(bool)
	DataDir() string

	// Side channels.
	MQTT() MQTTSettings
	Influx() InfluxSettings

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

// MQTTSettings configures the optional telemetry publisher. An empty Broker
// disables it.
type MQTTSettings struct {
	Broker      string `json:"broker,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QoS         byte   `json:"qos,omitempty"`
}

// InfluxSettings configures the optional time series recorder. An empty URL
// disables it.
type InfluxSettings struct {
	URL    string `json:"url,omitempty"`
	Token  string `json:"token,omitempty"`
	Org    string `json:"org,omitempty"`
	Bucket string `json:"bucket,omitempty"`
}
