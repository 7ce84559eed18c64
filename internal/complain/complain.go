// Package complain rate-limits log output for persistent failure
// conditions: the first failure is logged at error severity, repeats are
// suppressed, and recovery is logged exactly once.
package complain

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/mqtt-publisher/internal/logging"
)

var complaintsSuppressedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "mqtt_publisher_complaints_suppressed_total",
	Help: "Log lines suppressed because the failure condition was already reported",
}, []string{"condition"})

func init() {
	prometheus.MustRegister(complaintsSuppressedTotal)
}

// Complaint tracks one failure condition: Inactive until the first Report,
// Active until Clear.
type Complaint struct {
	condition string

	mu     sync.Mutex
	active bool
}

// New creates a throttle for the named condition. The name is used as a
// metric label and should be low-cardinality.
func New(condition string) *Complaint {
	return &Complaint{condition: condition}
}

// Report logs msg at error severity unless the condition is already active.
func (c *Complaint) Report(msg string, fields map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		complaintsSuppressedTotal.WithLabelValues(c.condition).Inc()
		return
	}
	c.active = true
	logging.Error(msg, fields)
}

// Clear logs msg once at info severity if the condition was active.
func (c *Complaint) Clear(msg string, fields map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.active = false
	logging.Info(msg, fields)
}

// Active reports whether the condition is currently being complained about.
func (c *Complaint) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
