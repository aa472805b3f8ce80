package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// MQTTQoS is at-least-once delivery.
const MQTTQoS byte = 1

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// mqttPublisher is the part of mqtt.Client the notifier uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes anomalies to a broker topic.
type MQTT struct {
	client  mqttPublisher
	topic   string
	timeout time.Duration
	l       *logger.Logger
}

// NewMQTT connects to broker (tcp://host:1883). The client reconnects on
// its own after a lost connection.
func NewMQTT(broker, topic, clientID string, l *logger.Logger) (*MQTT, error) {
	if clientID == "" {
		clientID = config.DefaultMQTTClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID + "-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		l.Info("mqtt connected", map[string]any{"broker": broker, "topic": topic})
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		l.Warning("mqtt connection lost", map[string]any{"broker": broker, "error": err.Error()})
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(config.NotifyPublishTimeout) {
		// ConnectRetry keeps trying in the background.
		l.Warning("mqtt connect still pending", map[string]any{"broker": broker})
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return newMQTT(client, topic, l), nil
}

func newMQTT(client mqttPublisher, topic string, l *logger.Logger) *MQTT {
	if topic == "" {
		topic = config.DefaultMQTTTopic
	}
	return &MQTT{client: client, topic: topic, timeout: config.NotifyPublishTimeout, l: l}
}

func (m *MQTT) Publish(ctx context.Context, anomalies []traffic.Anomaly) error {
	var errs []error
	for _, a := range anomalies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		payload, err := Encode(a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		token := m.client.Publish(m.topic+"/"+a.CameraID, MQTTQoS, false, payload)
		if !token.WaitTimeout(m.timeout) {
			errs = append(errs, fmt.Errorf("%w: topic %s", ErrPublishTimeout, m.topic))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("mqtt publish to %s: %w", m.topic, err))
		}
	}
	return errors.Join(errs...)
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
