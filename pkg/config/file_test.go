package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spinoza-lab/drip/pkg/utils/ptr"
)

func TestFileDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFile on missing file: %v", err)
	}

	if got := f.CheckInterval(); got != 10*time.Second {
		t.Errorf("CheckInterval = %v, want 10s", got)
	}
	if got := f.SampleCount(); got != 10 {
		t.Errorf("SampleCount = %d, want 10", got)
	}
	if got := f.OutlierRemove(); got != 2 {
		t.Errorf("OutlierRemove = %d, want 2", got)
	}
	if got := f.ZoneCount(); got != 12 {
		t.Errorf("ZoneCount = %d, want 12", got)
	}
	if got := f.MinTankPercent(); got != 20.0 {
		t.Errorf("MinTankPercent = %v, want 20", got)
	}
	if got := f.DefaultDuration(); got != 600*time.Second {
		t.Errorf("DefaultDuration = %v, want 600s", got)
	}
	if got := f.MaxDuration(); got != 1800*time.Second {
		t.Errorf("MaxDuration = %v, want 1800s", got)
	}
	if got := f.PumpSettle(); got != 500*time.Millisecond {
		t.Errorf("PumpSettle = %v, want 500ms", got)
	}
	if got := f.Mode(); got != "auto" {
		t.Errorf("Mode = %q, want auto", got)
	}
	if got := f.MQTT(); got.Broker != "" || got.ClientID != "drip" {
		t.Errorf("MQTT = %+v, want disabled with default client id", got)
	}
}

func TestFileSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	f := NewFileFromConfig(&RawFileConfig{
		CheckIntervalSeconds: ptr.To(30),
		ZoneCount:            ptr.To(6),
		Mode:                 ptr.To("manual"),
		MQTT: &MQTTSettings{
			Broker:      "tcp://10.0.0.5:1883",
			TopicPrefix: "greenhouse",
		},
	}, path)
	if err := f.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if got := loaded.CheckInterval(); got != 30*time.Second {
		t.Errorf("CheckInterval = %v, want 30s", got)
	}
	if got := loaded.ZoneCount(); got != 6 {
		t.Errorf("ZoneCount = %d, want 6", got)
	}
	if got := loaded.Mode(); got != "manual" {
		t.Errorf("Mode = %q, want manual", got)
	}
	if got := loaded.MQTT(); got.Broker != "tcp://10.0.0.5:1883" || got.TopicPrefix != "greenhouse" {
		t.Errorf("MQTT = %+v", got)
	}

	// Fields absent from the file keep their defaults.
	if got := loaded.SampleCount(); got != 10 {
		t.Errorf("SampleCount = %d, want default 10", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	t.Setenv(EnvMQTTBroker, "tcp://broker.lan:1883")
	t.Setenv(EnvMQTTPassword, "hunter2")
	t.Setenv(EnvInfluxURL, "http://influx.lan:8086")
	t.Setenv(EnvInfluxToken, "tok")

	f.ApplyEnvOverrides()

	mqtt := f.MQTT()
	if mqtt.Broker != "tcp://broker.lan:1883" || mqtt.Password != "hunter2" {
		t.Errorf("MQTT after overrides = %+v", mqtt)
	}

	influx := f.Influx()
	if influx.URL != "http://influx.lan:8086" || influx.Token != "tok" {
		t.Errorf("Influx after overrides = %+v", influx)
	}
}

func TestSetMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	f.SetMode("manual")
	if err := f.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if got := loaded.Mode(); got != "manual" {
		t.Errorf("Mode = %q, want persisted manual", got)
	}
}
