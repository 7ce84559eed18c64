// Package record defines the telemetry record exchanged between the ingest
// side and the publishing endpoints.
package record

import (
	"fmt"
	"strings"
	"time"
)

// DSType is the data-source semantic of a single value inside a record.
type DSType string

const (
	// Gauge values are published as-is.
	Gauge DSType = "gauge"
	// Counter values are monotonically increasing and wrap at their width.
	Counter DSType = "counter"
	// Derive values are monotonically increasing but may reset to zero.
	Derive DSType = "derive"
	// Absolute values are counters that reset on every read.
	Absolute DSType = "absolute"
)

// Record is one measurement: a set of named values read at the same instant
// from the same source.
type Record struct {
	Host           string        `json:"host"`
	Plugin         string        `json:"plugin"`
	PluginInstance string        `json:"plugin_instance"`
	Type           string        `json:"type"`
	TypeInstance   string        `json:"type_instance"`
	Time           time.Time     `json:"-"`
	Interval       time.Duration `json:"-"`
	DSNames        []string      `json:"dsnames"`
	DSTypes        []DSType      `json:"dstypes"`
	Values         []float64     `json:"values"`
}

// Validate reports whether the record is internally consistent.
func (r *Record) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("record has no host")
	}
	if r.Plugin == "" || r.Type == "" {
		return fmt.Errorf("record %s has no plugin or type", r.Host)
	}
	if len(r.Values) == 0 {
		return fmt.Errorf("record %s has no values", r.Identifier())
	}
	if len(r.DSNames) != len(r.Values) || len(r.DSTypes) != len(r.Values) {
		return fmt.Errorf("record %s: %d values, %d dsnames, %d dstypes",
			r.Identifier(), len(r.Values), len(r.DSNames), len(r.DSTypes))
	}
	for _, t := range r.DSTypes {
		switch t {
		case Gauge, Counter, Derive, Absolute:
		default:
			return fmt.Errorf("record %s: unknown dstype %q", r.Identifier(), t)
		}
	}
	return nil
}

// Identifier returns the canonical host/plugin/type identifier of the
// record's source. Two records with the same identifier describe successive
// reads of the same data source.
func (r *Record) Identifier() string {
	var sb strings.Builder
	sb.WriteString(r.Host)
	sb.WriteByte('/')
	sb.WriteString(r.Plugin)
	if r.PluginInstance != "" {
		sb.WriteByte('-')
		sb.WriteString(r.PluginInstance)
	}
	sb.WriteByte('/')
	sb.WriteString(r.Type)
	if r.TypeInstance != "" {
		sb.WriteByte('-')
		sb.WriteString(r.TypeInstance)
	}
	return sb.String()
}
