package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ardnew/prucam/pkg"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

// client is the part of mqtt.Client the publisher uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

var routeClientLogs sync.Once

// clientLogs sends the client library's own diagnostics through the notify
// component logger.
func clientLogs() {
	routeClientLogs.Do(func() {
		h := pkg.Logger(pkg.ComponentNotify).Handler()
		mqtt.CRITICAL = slog.NewLogLogger(h, slog.LevelError)
		mqtt.ERROR = slog.NewLogLogger(h, slog.LevelError)
		mqtt.WARN = slog.NewLogLogger(h, slog.LevelWarn)
	})
}

// MQTTConfig configures an MQTT publisher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string // events go to Topic/<state>
	QoS      byte
	Retained bool
	Encoding Encoding
	Timeout  time.Duration
}

// MQTT publishes events to a broker.
type MQTT struct {
	cfg    MQTTConfig
	client client

	connected atomic.Bool
}

// DialMQTT connects to the broker. The client reconnects on its own after
// the first connection succeeds.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTT, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "prucam"
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	clientLogs()
	m := &MQTT{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		m.connected.Store(true)
		pkg.LogInfo(pkg.ComponentNotify, "mqtt connected", "broker", broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.connected.Store(false)
		pkg.LogWarn(pkg.ComponentNotify, "mqtt connection lost", "broker", broker, "error", err)
	}

	c := mqtt.NewClient(opts)
	if err := wait(ctx, c.Connect(), cfg.Timeout); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	m.client = c
	m.connected.Store(true)
	return m, nil
}

func newMQTT(c client, cfg MQTTConfig) *MQTT {
	m := &MQTT{cfg: cfg, client: c}
	m.connected.Store(c.IsConnected())
	return m
}

// Topic returns the topic an event is published to.
func (m *MQTT) Topic(ev Event) string {
	return m.cfg.Topic + "/" + ev.State
}

// Publish sends ev and waits for the broker acknowledgment permitted by
// the configured QoS.
func (m *MQTT) Publish(ctx context.Context, ev Event) error {
	if !m.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := m.cfg.Encoding.Marshal(ev)
	if err != nil {
		return err
	}
	topic := m.Topic(ev)
	if err := wait(ctx, m.client.Publish(topic, m.cfg.QoS, m.cfg.Retained, payload), m.cfg.Timeout); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	pkg.LogDebug(pkg.ComponentNotify, "event published", "topic", topic, "id", ev.ID, "size", len(payload))
	return nil
}

// Connected reports the last connection state seen by the client callbacks.
func (m *MQTT) Connected() bool { return m.connected.Load() }

// Close disconnects with a short grace period.
func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.connected.Store(false)
	return nil
}

// wait blocks until the token completes, ctx ends or timeout passes.
func wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return fmt.Errorf("%w after %v", pkg.ErrTimeout, timeout)
	}
}
