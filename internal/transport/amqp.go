package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpDialTimeout = 10 * time.Second

// amqpClient publishes batches to the default exchange with the topic as
// routing key. The connection and channel are re-established together on
// Reconnect.
type amqpClient struct {
	uri  string
	tls  *tls.Config
	conn *amqp.Connection
	ch   *amqp.Channel
}

func dialAMQP(cfg Config) (Client, error) {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Vhost:    "/",
	}
	if uri.Username == "" {
		uri.Username = "guest"
		uri.Password = "guest"
	}
	if cfg.TLS != nil {
		uri.Scheme = "amqps"
	}

	c := &amqpClient{uri: uri.String(), tls: cfg.TLS}
	if err := c.Reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconnect dials a fresh connection and channel, discarding any remnants of
// a broken session first.
func (c *amqpClient) Reconnect() error {
	if c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed() {
		return nil
	}
	c.Disconnect()

	conn, err := amqp.DialConfig(c.uri, amqp.Config{
		Dial:            amqp.DefaultDial(amqpDialTimeout),
		TLSClientConfig: c.tls,
	})
	if err != nil {
		return fmt.Errorf("transport: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("transport: amqp channel: %w", err)
	}
	c.conn = conn
	c.ch = ch
	return nil
}

// Publish sends payload with the topic as routing key. QoS 1 maps to
// persistent delivery mode, QoS 0 to transient.
func (c *amqpClient) Publish(topic string, qos byte, retain bool, payload []byte) error {
	if c.ch == nil || c.ch.IsClosed() {
		return ErrSessionDown
	}
	deliveryMode := amqp.Transient
	if qos > 0 {
		deliveryMode = amqp.Persistent
	}
	err := c.ch.PublishWithContext(context.Background(), "", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("transport: amqp publish: %w", err)
	}
	return nil
}

// Disconnect closes channel and connection best-effort, keeping the handle
// for a later Reconnect.
func (c *amqpClient) Disconnect() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close releases the session.
func (c *amqpClient) Close() {
	c.Disconnect()
}
