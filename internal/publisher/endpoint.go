// Package publisher implements the per-destination endpoint: a framed send
// buffer, a lazily connected broker session and the write/flush protocol
// joining them under one lock.
package publisher

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/szibis/mqtt-publisher/internal/complain"
	"github.com/szibis/mqtt-publisher/internal/compression"
	"github.com/szibis/mqtt-publisher/internal/config"
	"github.com/szibis/mqtt-publisher/internal/format"
	"github.com/szibis/mqtt-publisher/internal/framebuf"
	"github.com/szibis/mqtt-publisher/internal/logging"
	"github.com/szibis/mqtt-publisher/internal/record"
	tlspkg "github.com/szibis/mqtt-publisher/internal/tls"
	"github.com/szibis/mqtt-publisher/internal/transport"
)

// Endpoint is one configured publish destination. All state is guarded by
// a single mutex held across the full serialize-or-flush-or-publish critical
// section; a stalled broker therefore backpressures producers targeting this
// endpoint and no other.
type Endpoint struct {
	name string

	mu          sync.Mutex
	conn        connection
	buf         *framebuf.Buffer
	framer      framebuf.Framer
	compression compression.Type
	initialized bool
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithDialer replaces the transport dialer. Used by tests to inject a fake
// broker session.
func WithDialer(dial DialFunc) Option {
	return func(e *Endpoint) { e.conn.dial = dial }
}

// WithFramer replaces the batch framer.
func WithFramer(f framebuf.Framer) Option {
	return func(e *Endpoint) { e.framer = f }
}

// New constructs an endpoint from a validated node block. The send buffer
// is allocated here; the broker connection is deferred to the first write
// or flush.
func New(node config.Node, opts ...Option) (*Endpoint, error) {
	tlsConfig, err := tlspkg.NewClientTLSConfig(tlspkg.ClientConfig{
		CAPath:     node.CAPath,
		ClientCert: node.ClientCert,
		ClientKey:  node.ClientKey,
		Insecure:   node.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", node.Name, err)
	}

	buf, err := framebuf.New(node.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", node.Name, err)
	}

	compType, err := compression.ParseType(node.Compression)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", node.Name, err)
	}

	e := &Endpoint{
		name: node.Name,
		conn: connection{
			name: node.Name,
			cfg: transport.Config{
				Driver:          transport.Driver(node.Driver),
				Host:            node.Host,
				Port:            node.Port,
				ClientID:        node.ClientID,
				Username:        node.Username,
				Password:        node.Password,
				Keepalive:       config.DefaultKeepalive,
				ProtocolVersion: node.ProtocolVersion,
				TLS:             tlsConfig,
			},
			topic:       node.Topic,
			qos:         byte(node.QoS),
			dial:        transport.Dial,
			cantPublish: complain.New("cannot_publish"),
		},
		buf:         buf,
		framer:      format.NewJSON(node.StoreRates),
		compression: compType,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.buf.Reset(e.framer); err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", node.Name, err)
	}
	return e, nil
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string { return e.name }

// Connected reports the optimistic connection state.
func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.connected
}

// ensureInitLocked performs first-use setup: connect to the broker and open
// a fresh batch. On failure nothing is buffered and the next call retries.
func (e *Endpoint) ensureInitLocked() error {
	if e.initialized {
		return nil
	}
	if err := e.conn.ensureConnected(); err != nil {
		return err
	}
	if err := e.buf.Reset(e.framer); err != nil {
		return err
	}
	e.initialized = true
	return nil
}

// Write serializes rec into the send buffer. When the record does not fit,
// the current batch is flushed unconditionally and the append is retried
// exactly once; a retry overflow means the record exceeds the capacity of
// an empty buffer.
func (e *Endpoint) Write(rec *record.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureInitLocked(); err != nil {
		return fmt.Errorf("endpoint %s: init: %w", e.name, err)
	}

	err := e.buf.Append(e.framer, rec)
	if errors.Is(err, framebuf.ErrOverflow) {
		overflowFlushTotal.WithLabelValues(e.name).Inc()
		if ferr := e.flushLocked(0); ferr != nil {
			// The batch is gone either way; start clean.
			_ = e.buf.Reset(e.framer)
			return fmt.Errorf("endpoint %s: flush on overflow: %w", e.name, ferr)
		}
		err = e.buf.Append(e.framer, rec)
		if errors.Is(err, framebuf.ErrOverflow) {
			return fmt.Errorf("endpoint %s: %w (capacity %d)", e.name, ErrRecordTooLarge, e.buf.Capacity())
		}
	}
	if err != nil {
		return fmt.Errorf("endpoint %s: %w", e.name, err)
	}

	recordsWrittenTotal.WithLabelValues(e.name).Inc()
	bufferFillBytes.WithLabelValues(e.name).Set(float64(e.buf.Fill()))
	return nil
}

// Flush publishes the current batch if it is due. A timeout of zero flushes
// unconditionally; otherwise the flush is a no-op until timeout has elapsed
// since the batch was opened.
func (e *Endpoint) Flush(timeout time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureInitLocked(); err != nil {
		return fmt.Errorf("endpoint %s: init: %w", e.name, err)
	}
	return e.flushLocked(timeout)
}

// flushLocked finalizes, publishes and resets the buffer. A batch is
// consumed at most once: after finalize succeeds the buffer is reset no
// matter how the publish went.
func (e *Endpoint) flushLocked(timeout time.Duration) error {
	logging.Debug("flush", logging.F(
		"endpoint", e.name,
		"timeout", timeout.String(),
		"fill", e.buf.Fill(),
	))

	if timeout > 0 && time.Since(e.buf.InitTime()) < timeout {
		return nil
	}

	if e.buf.EffectivelyEmpty(e.framer) {
		e.buf.StampInitTime()
		return nil
	}

	if err := e.buf.Finalize(e.framer); err != nil {
		framingErrorsTotal.WithLabelValues(e.name).Inc()
		logging.Error("closing batch framing failed, dropping batch", logging.F(
			"endpoint", e.name,
			"error", err.Error(),
		))
		_ = e.buf.Reset(e.framer)
		return err
	}

	payload := e.buf.Payload()
	compressed, err := compression.Compress(payload, e.compression)
	if err != nil {
		_ = e.buf.Reset(e.framer)
		return fmt.Errorf("endpoint %s: %w", e.name, err)
	}

	if cerr := e.conn.ensureConnected(); cerr != nil {
		err = cerr
	} else {
		err = e.conn.publish(compressed)
	}

	_ = e.buf.Reset(e.framer)
	bufferFillBytes.WithLabelValues(e.name).Set(float64(e.buf.Fill()))
	return err
}

// Close performs one final best-effort flush and releases the connection.
// Producers must have stopped writing before Close is called.
func (e *Endpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn.client != nil {
		_ = e.flushLocked(0)
	}
	e.conn.close()
	e.initialized = false
}
