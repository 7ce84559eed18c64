// Package transport abstracts the pub/sub client used to deliver finalized
// batches. Backends manage their own background I/O pump; publishing is
// fire-and-forget at this layer.
package transport

import (
	"crypto/tls"
	"fmt"
	"time"
)

// Driver selects a transport backend.
type Driver string

const (
	// DriverMQTT publishes to an MQTT broker.
	DriverMQTT Driver = "mqtt"
	// DriverAMQP publishes to an AMQP broker, topic used as routing key.
	DriverAMQP Driver = "amqp"
)

// Config holds the settings needed to establish a broker session.
type Config struct {
	Driver   Driver
	Host     string
	Port     int
	ClientID string
	Username string
	Password string
	// Keepalive is the session keepalive interval.
	Keepalive time.Duration
	// ProtocolVersion pins the MQTT protocol level (3 = 3.1, 4 = 3.1.1).
	ProtocolVersion uint
	// TLS enables a TLS session when non-nil.
	TLS *tls.Config
}

// Client is one broker session. Implementations are not safe for concurrent
// use; callers serialize access (the endpoint lock).
type Client interface {
	// Reconnect re-establishes a dropped session on the existing handle.
	Reconnect() error
	// Publish sends payload on topic at the given quality level. No
	// delivery acknowledgment is awaited; errors reflect the session
	// state at send time.
	Publish(topic string, qos byte, retain bool, payload []byte) error
	// Disconnect closes the session best-effort, keeping the handle
	// usable for a later Reconnect.
	Disconnect()
	// Close disconnects, stops the background pump and releases the
	// handle. The client is unusable afterwards.
	Close()
}

// Dial establishes a connected client for the configured driver, including
// TLS setup and starting the backend's background I/O pump.
func Dial(cfg Config) (Client, error) {
	switch cfg.Driver {
	case DriverMQTT, "":
		return dialMQTT(cfg)
	case DriverAMQP:
		return dialAMQP(cfg)
	default:
		return nil, fmt.Errorf("transport: unsupported driver %q", cfg.Driver)
	}
}
