package transport

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrSessionDown is returned by Publish when the session is known to be
// disconnected before the message could be queued.
var ErrSessionDown = errors.New("transport: session is down")

// mqttClient wraps a paho client. The paho network pump starts inside
// Connect and stops on Disconnect, so the background-loop lifecycle is tied
// to the session here.
type mqttClient struct {
	cli mqtt.Client
}

func dialMQTT(cfg Config) (Client, error) {
	opts := mqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS != nil {
		scheme = "ssl"
		opts.SetTLSConfig(cfg.TLS)
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(cfg.Keepalive)
	if cfg.ProtocolVersion != 0 {
		opts.SetProtocolVersion(cfg.ProtocolVersion)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(10 * time.Second)
	// Reconnection is driven by the caller on the next write or flush.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	c := &mqttClient{cli: mqtt.NewClient(opts)}
	if err := c.Reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconnect establishes the session. Valid both for the initial connect and
// after a Disconnect.
func (c *mqttClient) Reconnect() error {
	token := c.cli.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: mqtt connect: %w", err)
	}
	return nil
}

// Publish queues payload for delivery on topic. Delivery acknowledgments
// are handled by the background pump; only queueing failures and a down
// session surface as errors.
func (c *mqttClient) Publish(topic string, qos byte, retain bool, payload []byte) error {
	if !c.cli.IsConnectionOpen() {
		return ErrSessionDown
	}
	token := c.cli.Publish(topic, qos, retain, payload)
	if err := token.Error(); err != nil {
		return fmt.Errorf("transport: mqtt publish: %w", err)
	}
	return nil
}

// Disconnect closes the session. Safe on an already-closed session.
func (c *mqttClient) Disconnect() {
	c.cli.Disconnect(250)
}

// Close releases the session. Paho keeps no resources beyond the session,
// so Close and Disconnect coincide.
func (c *mqttClient) Close() {
	if c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
