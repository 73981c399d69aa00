package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/spinoza-lab/drip/pkg/config"
	"github.com/spinoza-lab/drip/pkg/events"
)

const publishTimeout = 5 * time.Second

var errPublishTimeout = pkgerrors.New("mqtt publish timed out")

// Publisher mirrors hub events onto MQTT topics under the configured
// prefix:
//
//	<prefix>/sensors     one snapshot per sampling cycle
//	<prefix>/irrigation  started and finished runs
//	<prefix>/hose        hose gun transitions
//	<prefix>/schedule    waiting and abandoned occurrences
//	<prefix>/alerts      raised alerts
//	<prefix>/mode        mode changes
//
// A circuit breaker sheds publishes while the broker is unreachable so the
// subscriber loop does not spend its time in publish timeouts.
type Publisher struct {
	cfg     config.MQTTSettings
	client  mqtt.Client
	breaker *gobreaker.CircuitBreaker
}

// NewPublisher connects to the broker, retrying with exponential backoff.
func NewPublisher(cfg config.MQTTSettings) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logrus.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logrus.WithField("broker", cfg.Broker).Info("MQTT connected")
	})

	client := mqtt.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logrus.WithError(token.Error()).Warn("MQTT connect failed, retrying")
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, 4))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to connect to MQTT broker %s", cfg.Broker)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt-publish",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("MQTT publish breaker changed state")
		},
	})

	return &Publisher{cfg: cfg, client: client, breaker: breaker}, nil
}

// Run consumes hub events until ctx is canceled, then disconnects.
func (p *Publisher) Run(ctx context.Context, hub *events.EventHub) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	logrus.WithField("prefix", p.cfg.TopicPrefix).Info("MQTT publisher starting")
	for {
		select {
		case <-ctx.Done():
			p.Close()
			return
		case ev := <-ch:
			p.publish(ev)
		}
	}
}

// Close disconnects from the broker, letting in-flight publishes drain.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	logrus.Debug("MQTT publisher closed")
}

// envelope wraps the event payload with its name, since some topics carry
// more than one event type.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (p *Publisher) publish(ev events.Event) {
	topic := p.topicFor(ev.Name)
	if topic == "" {
		return
	}

	body, err := json.Marshal(envelope{Event: ev.Name, Data: ev.Data})
	if err != nil {
		return
	}

	_, err = p.breaker.Execute(func() (any, error) {
		token := p.client.Publish(topic, p.cfg.QoS, false, body)
		if !token.WaitTimeout(publishTimeout) {
			return nil, errPublishTimeout
		}
		return nil, token.Error()
	})
	if err != nil {
		logrus.WithError(err).WithField("topic", topic).Debug("MQTT publish dropped")
	}
}

func (p *Publisher) topicFor(name string) string {
	switch name {
	case events.SensorUpdated:
		return p.cfg.TopicPrefix + "/sensors"
	case events.IrrigationStarted, events.IrrigationFinished:
		return p.cfg.TopicPrefix + "/irrigation"
	case events.HoseChanged:
		return p.cfg.TopicPrefix + "/hose"
	case events.ScheduleWaiting, events.ScheduleAbandoned:
		return p.cfg.TopicPrefix + "/schedule"
	case events.AlertRaised:
		return p.cfg.TopicPrefix + "/alerts"
	case events.ModeChanged:
		return p.cfg.TopicPrefix + "/mode"
	}
	return ""
}
