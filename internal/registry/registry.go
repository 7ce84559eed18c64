// Package registry owns the set of configured endpoints: it constructs them
// from config at startup, fans records out to every destination, drives the
// periodic flush and tears everything down at shutdown.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/szibis/mqtt-publisher/internal/config"
	"github.com/szibis/mqtt-publisher/internal/logging"
	"github.com/szibis/mqtt-publisher/internal/publisher"
	"github.com/szibis/mqtt-publisher/internal/record"
)

// Registry holds one independent endpoint per configured node. No state is
// shared across endpoints.
type Registry struct {
	endpoints []*publisher.Endpoint
	doneChan  chan struct{}
}

// New builds endpoints from the configured nodes. A node that fails
// validation or construction is skipped with an error log; the remaining
// nodes are unaffected. At least one endpoint must register.
func New(nodes []config.Node, opts ...publisher.Option) (*Registry, error) {
	r := &Registry{doneChan: make(chan struct{})}

	for _, node := range nodes {
		if err := node.Validate(); err != nil {
			logging.Error("invalid node configuration, not registering", logging.F(
				"node", node.Name,
				"error", err.Error(),
			))
			continue
		}
		ep, err := publisher.New(node, opts...)
		if err != nil {
			logging.Error("endpoint setup failed, not registering", logging.F(
				"node", node.Name,
				"error", err.Error(),
			))
			continue
		}
		logging.Info("registered endpoint", logging.F(
			"endpoint", ep.Name(),
			"host", node.Host,
			"port", node.Port,
			"topic", node.Topic,
			"driver", node.Driver,
			"qos", node.QoS,
			"buffer_size", node.BufferSize,
		))
		r.endpoints = append(r.endpoints, ep)
	}

	if len(r.endpoints) == 0 {
		return nil, fmt.Errorf("registry: no endpoints registered")
	}
	return r, nil
}

// Endpoints returns the registered endpoints.
func (r *Registry) Endpoints() []*publisher.Endpoint {
	return r.endpoints
}

// Write delivers rec to every endpoint. Endpoint failures are independent;
// the joined error reports all of them.
func (r *Registry) Write(rec *record.Record) error {
	var errs []error
	for _, ep := range r.endpoints {
		if err := ep.Write(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every endpoint with the given staleness timeout.
func (r *Registry) Flush(timeout time.Duration) error {
	var errs []error
	for _, ep := range r.endpoints {
		if err := ep.Flush(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start runs the periodic flusher until ctx is cancelled. Flush errors are
// already logged (throttled) at the endpoint, so they are only surfaced
// here at debug level.
func (r *Registry) Start(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(r.doneChan)
			return
		case <-ticker.C:
			if err := r.Flush(timeout); err != nil {
				logging.Debug("periodic flush", logging.F("error", err.Error()))
			}
		}
	}
}

// Wait blocks until the periodic flusher has stopped.
func (r *Registry) Wait() {
	<-r.doneChan
}

// Shutdown performs one final best-effort flush per endpoint and releases
// all connections and buffers. Producers must have stopped writing.
func (r *Registry) Shutdown() {
	for _, ep := range r.endpoints {
		ep.Close()
	}
	logging.Info("all endpoints closed", logging.F("count", len(r.endpoints)))
}
