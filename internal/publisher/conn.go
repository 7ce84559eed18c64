package publisher

import (
	"errors"
	"fmt"

	"github.com/szibis/mqtt-publisher/internal/complain"
	"github.com/szibis/mqtt-publisher/internal/logging"
	"github.com/szibis/mqtt-publisher/internal/transport"
)

// Sentinel errors for errors.Is checks by callers.
var (
	// ErrConnect marks a failed connect or reconnect. Retried on the
	// next write or flush, no backoff.
	ErrConnect = errors.New("publisher: cannot connect to broker")
	// ErrPublish marks a transport-level send failure. The connection is
	// marked down and the batch is dropped.
	ErrPublish = errors.New("publisher: cannot publish to broker")
	// ErrRecordTooLarge marks a record that overflows an empty buffer.
	ErrRecordTooLarge = errors.New("publisher: record exceeds buffer capacity")
)

// DialFunc establishes a connected transport client. Swappable in tests.
type DialFunc func(transport.Config) (transport.Client, error)

// connection owns the transport handle of one endpoint and implements the
// lazy connect / reconnect-on-demand / publish state machine. The endpoint
// lock must be held across every call.
type connection struct {
	name  string
	cfg   transport.Config
	topic string
	qos   byte
	dial  DialFunc

	client transport.Client
	// connected is optimistic: true after a successful (re)connect, false
	// after any publish failure. It does not guarantee peer liveness.
	connected bool

	cantPublish *complain.Complaint
}

// ensureConnected is a no-op when connected. Otherwise it dials a fresh
// client (first use) or reconnects the existing handle. Success clears the
// cannot-publish complaint; failure leaves it active for the next attempt.
func (c *connection) ensureConnected() error {
	if c.client == nil {
		client, err := c.dial(c.cfg)
		if err != nil {
			connectErrorsTotal.WithLabelValues(c.name).Inc()
			c.cantPublish.Report("cannot connect to broker", logging.F(
				"endpoint", c.name,
				"host", c.cfg.Host,
				"port", c.cfg.Port,
				"error", err.Error(),
			))
			return fmt.Errorf("%w %s:%d: %v", ErrConnect, c.cfg.Host, c.cfg.Port, err)
		}
		c.client = client
		c.connected = true
		connectsTotal.WithLabelValues(c.name).Inc()
		c.cantPublish.Clear("connected to broker", logging.F(
			"endpoint", c.name,
			"host", c.cfg.Host,
			"port", c.cfg.Port,
		))
		return nil
	}

	if c.connected {
		return nil
	}

	if err := c.client.Reconnect(); err != nil {
		connectErrorsTotal.WithLabelValues(c.name).Inc()
		c.cantPublish.Report("cannot reconnect to broker", logging.F(
			"endpoint", c.name,
			"host", c.cfg.Host,
			"port", c.cfg.Port,
			"error", err.Error(),
		))
		return fmt.Errorf("%w %s:%d: %v", ErrConnect, c.cfg.Host, c.cfg.Port, err)
	}
	c.connected = true
	connectsTotal.WithLabelValues(c.name).Inc()
	c.cantPublish.Clear("successfully reconnected to broker", logging.F(
		"endpoint", c.name,
		"host", c.cfg.Host,
		"port", c.cfg.Port,
	))
	return nil
}

// publish sends payload on the configured topic. Requires a preceding
// successful ensureConnected. On any send failure the connection is marked
// down regardless of the exact error and disconnected best-effort; the next
// write or flush will reconnect.
func (c *connection) publish(payload []byte) error {
	if err := c.client.Publish(c.topic, c.qos, false, payload); err != nil {
		publishErrorsTotal.WithLabelValues(c.name).Inc()
		c.cantPublish.Report("publish failed", logging.F(
			"endpoint", c.name,
			"topic", c.topic,
			"error", err.Error(),
		))
		c.connected = false
		c.client.Disconnect()
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	publishTotal.WithLabelValues(c.name).Inc()
	publishedBytesTotal.WithLabelValues(c.name).Add(float64(len(payload)))
	return nil
}

// close releases the transport handle. Idempotent.
func (c *connection) close() {
	if c.client == nil {
		return
	}
	if c.connected {
		c.client.Disconnect()
		c.connected = false
	}
	c.client.Close()
	c.client = nil
}
