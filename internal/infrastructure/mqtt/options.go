package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/clip-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDPrefix prefixes generated client IDs.
	clientIDPrefix = "clipbridge-"
)

// Status describes the availability messages a client maintains: the
// online payload published on connect, and the offline payload used both
// as the Last Will and on graceful Close. A zero Status disables both.
type Status struct {
	// Topic receives the retained availability payloads.
	Topic string

	// Online and Offline are the payloads. Defaults "online"/"offline".
	Online  string
	Offline string

	// QoS for availability messages. Default 1.
	QoS byte
}

// NewStatus returns a Status publishing "online"/"offline" to topic.
func NewStatus(topic string) Status {
	return Status{Topic: topic, Online: "online", Offline: "offline", QoS: 1}
}

func (s Status) enabled() bool {
	return s.Topic != ""
}

func (s Status) qos() byte {
	if s.QoS > maxQoS {
		return 1
	}
	return s.QoS
}

// resolveClientID returns configured, or a unique generated ID when empty.
// Two bridges with the same client ID would keep kicking each other off
// the broker.
func resolveClientID(configured string) string {
	if configured != "" {
		return configured
	}
	return clientIDPrefix + uuid.NewString()
}

// buildClientOptions creates paho MQTT options from config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Clean session: subscriptions are restored by the client itself.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// Messages from one device must be handled in arrival order; the
	// dispatcher takes over ordering from here.
	opts.SetOrderMatters(true)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes the offline payload (retained) if the client
// disconnects unexpectedly, so hub entities referencing the availability
// topic go unavailable.
func configureLWT(opts *pahomqtt.ClientOptions, status Status) {
	if !status.enabled() {
		return
	}
	opts.SetWill(status.Topic, status.Offline, status.qos(), true)
}
