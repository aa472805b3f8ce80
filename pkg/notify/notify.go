// Package notify fans detected anomalies out to subscribers. Delivery is
// best effort: callers log failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/logger"
	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Notifier publishes anomalies.
type Notifier interface {
	// Publish sends one message per anomaly
	Publish(ctx context.Context, anomalies []traffic.Anomaly) error

	// Name identifies the transport in logs
	Name() string

	Close() error
}

// Message is the wire form of a published anomaly.
type Message struct {
	Event   string          `json:"event"`
	Anomaly traffic.Anomaly `json:"anomaly"`
}

// EventAnomaly is the event name carried by every message.
const EventAnomaly = "anomaly_detected"

// Encode renders an anomaly as a JSON message.
func Encode(a traffic.Anomaly) ([]byte, error) {
	data, err := json.Marshal(Message{Event: EventAnomaly, Anomaly: a})
	if err != nil {
		return nil, fmt.Errorf("failed to encode anomaly for %s: %w", a.CameraID, err)
	}
	return data, nil
}

// Nop drops every anomaly.
type Nop struct{}

func (Nop) Publish(context.Context, []traffic.Anomaly) error { return nil }
func (Nop) Name() string { return "none" }
func (Nop) Close() error { return nil }

// New builds the notifier selected by cfg.Kind.
func New(ctx context.Context, cfg config.NotifierConfig, l *logger.Logger) (Notifier, error) {
	switch cfg.Kind {
	case "", "none":
		return Nop{}, nil
	case "redis":
		return NewRedis(ctx, cfg.RedisAddr, cfg.RedisChannel, l)
	case "mqtt":
		return NewMQTT(cfg.MQTTBroker, cfg.MQTTTopic, cfg.MQTTClientID, l)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownNotifier, cfg.Kind)
	}
}
