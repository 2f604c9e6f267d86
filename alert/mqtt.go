package alert

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// MQTTConfig configures the MQTT notifier.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
	Retained bool   `json:"retained"`
	// Timeout bounds connect and publish; 0 means 5s.
	Timeout time.Duration `json:"-"`
}

// MQTT publishes alerts as JSON to a topic.
type MQTT struct {
	client mqtt.Client
	cfg    MQTTConfig
}

// DialMQTT connects to the broker.
//
// Arguments:
//   - cfg: The broker settings.
//
// Returns:
//   - *MQTT: The notifier.
//   - error: An error if the connection fails.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(cfg.Timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, errors.Errorf("connecting to MQTT broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connecting to MQTT broker %s", cfg.Broker)
	}
	return NewMQTT(client, cfg), nil
}

// NewMQTT wraps an already connected client.
func NewMQTT(client mqtt.Client, cfg MQTTConfig) *MQTT {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MQTT{client: client, cfg: cfg}
}

// Notify publishes the event.
func (m *MQTT) Notify(ctx context.Context, e Event) error {
	payload, err := e.JSON()
	if err != nil {
		return err
	}
	token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, m.cfg.Retained, payload)

	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Errorf("publishing to %s: timeout", m.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publishing to %s", m.cfg.Topic)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
