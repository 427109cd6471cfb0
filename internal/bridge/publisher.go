package bridge

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/joshp123/particle/internal/config"
)

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// Publisher delivers bridge messages to a broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// MQTTPublisher publishes to an MQTT broker with a fixed QoS and retain flag.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	retain bool
}

// NewMQTTPublisher connects to the broker. The broker marks the bridge
// offline through the last will when the connection drops. An unreachable
// broker is logged and retried in the background.
func NewMQTTPublisher(cfg config.MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.PasswordFile != "" {
		data, err := os.ReadFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read mqtt password: %w", err)
		}
		opts.SetPassword(strings.TrimSpace(string(data)))
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "particle-bridge-" + uuid.NewString()
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetBinaryWill(StatusTopic(cfg.TopicPrefix), offlinePayload(), byte(cfg.QoS), true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		logger.Warn("mqtt broker unreachable, retrying in background", "host", cfg.Host, "port", cfg.Port)
	} else if token.Error() != nil {
		return nil, token.Error()
	}
	retain := true
	if cfg.Retain != nil {
		retain = *cfg.Retain
	}
	return &MQTTPublisher{client: client, qos: byte(cfg.QoS), retain: retain}, nil
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// NopPublisher drops every message. The daemon uses it when no broker is
// configured so the poll loop still feeds metrics and the status endpoint.
type NopPublisher struct{}

func (NopPublisher) Publish(string, []byte) error { return nil }

func (NopPublisher) Close() {}
