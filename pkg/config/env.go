package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Environment variables layered over the config file. Credentials belong in
// the environment (or an optional .env next to the daemon), not in a world
// readable JSON file.
const (
	EnvMQTTBroker   = "DRIP_MQTT_BROKER"
	EnvMQTTUsername = "DRIP_MQTT_USERNAME"
	EnvMQTTPassword = "DRIP_MQTT_PASSWORD"
	EnvInfluxURL    = "DRIP_INFLUX_URL"
	EnvInfluxToken  = "DRIP_INFLUX_TOKEN"
	EnvInfluxOrg    = "DRIP_INFLUX_ORG"
	EnvInfluxBucket = "DRIP_INFLUX_BUCKET"
)

// LoadDotEnv pulls an optional .env file into the process environment. A
// missing file is not an error.
func LoadDotEnv() {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded environment from .env")
	}
}

// ApplyEnvOverrides layers environment values over whatever Load read from
// the file. Called once after Load and again on every reload.
func (f *File) ApplyEnvOverrides() {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if v := os.Getenv(EnvMQTTBroker); v != "" {
		if f.c.MQTT == nil {
			f.c.MQTT = &MQTTSettings{}
		}
		f.c.MQTT.Broker = v
	}
	if f.c.MQTT != nil {
		f.c.MQTT.Username = getEnv(EnvMQTTUsername, f.c.MQTT.Username)
		f.c.MQTT.Password = getEnv(EnvMQTTPassword, f.c.MQTT.Password)
	}

	if v := os.Getenv(EnvInfluxURL); v != "" {
		if f.c.Influx == nil {
			f.c.Influx = &InfluxSettings{}
		}
		f.c.Influx.URL = v
	}
	if f.c.Influx != nil {
		f.c.Influx.Token = getEnv(EnvInfluxToken, f.c.Influx.Token)
		f.c.Influx.Org = getEnv(EnvInfluxOrg, f.c.Influx.Org)
		f.c.Influx.Bucket = getEnv(EnvInfluxBucket, f.c.Influx.Bucket)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
