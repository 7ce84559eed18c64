// Package format implements batch framing: the structural markers and
// record encoding written into a frame buffer between flushes.
package format

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/szibis/mqtt-publisher/internal/framebuf"
	"github.com/szibis/mqtt-publisher/internal/record"
)

// JSONFramer frames a batch as a JSON array of record objects.
type JSONFramer struct {
	storeRates bool
	rates      *rateCache
}

// NewJSON creates a JSON framer. With storeRates enabled, counter-like
// values are converted to rates at append time using a per-identifier cache
// of the previous reading.
func NewJSON(storeRates bool) *JSONFramer {
	f := &JSONFramer{storeRates: storeRates}
	if storeRates {
		f.rates = newRateCache()
	}
	return f
}

// Init writes the opening array bracket.
func (f *JSONFramer) Init(b *framebuf.Buffer) error {
	return b.Write([]byte{'['})
}

// EmptyFill returns the fill count of a buffer that holds framing only.
func (f *JSONFramer) EmptyFill() int { return 2 }

// jsonRecord is the wire layout of one record, field order matching the
// collectd JSON format.
type jsonRecord struct {
	Values         []*float64      `json:"values"`
	DSTypes        []record.DSType `json:"dstypes"`
	DSNames        []string        `json:"dsnames"`
	Time           float64         `json:"time"`
	Interval       float64         `json:"interval"`
	Host           string          `json:"host"`
	Plugin         string          `json:"plugin"`
	PluginInstance string          `json:"plugin_instance"`
	Type           string          `json:"type"`
	TypeInstance   string          `json:"type_instance"`
}

// Append encodes rec into the buffer's free space. One byte is always left
// free for the closing bracket, so a batch that accepted an append can
// always be finalized. On overflow the buffer is untouched.
func (f *JSONFramer) Append(b *framebuf.Buffer, rec *record.Record) error {
	values := f.encodeValues(rec)

	entry, err := json.Marshal(jsonRecord{
		Values:         values,
		DSTypes:        rec.DSTypes,
		DSNames:        rec.DSNames,
		Time:           timeSeconds(rec),
		Interval:       rec.Interval.Seconds(),
		Host:           rec.Host,
		Plugin:         rec.Plugin,
		PluginInstance: rec.PluginInstance,
		Type:           rec.Type,
		TypeInstance:   rec.TypeInstance,
	})
	if err != nil {
		return fmt.Errorf("format: encode record %s: %w", rec.Identifier(), err)
	}

	chunk := entry
	if b.Fill() > 1 {
		chunk = append([]byte{','}, entry...)
	}
	if len(chunk)+1 > b.Free() {
		return framebuf.ErrOverflow
	}
	return b.Write(chunk)
}

// Finalize writes the closing array bracket.
func (f *JSONFramer) Finalize(b *framebuf.Buffer) error {
	if err := b.Write([]byte{']'}); err != nil {
		return fmt.Errorf("format: close framing: %w", err)
	}
	return nil
}

// encodeValues returns the values to publish, converted to rates when
// configured. Values that cannot be represented in JSON (NaN, Inf) and
// rates without history become null.
func (f *JSONFramer) encodeValues(rec *record.Record) []*float64 {
	var values []*float64
	if f.storeRates {
		values = f.rates.convert(rec)
	} else {
		values = make([]*float64, len(rec.Values))
		for i := range rec.Values {
			v := rec.Values[i]
			values[i] = &v
		}
	}
	for i, v := range values {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			values[i] = nil
		}
	}
	return values
}

func timeSeconds(rec *record.Record) float64 {
	// Millisecond precision keeps the encoding stable across runs.
	return math.Round(float64(rec.Time.UnixNano())/1e6) / 1e3
}
