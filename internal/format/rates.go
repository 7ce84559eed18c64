package format

import (
	"sync"
	"time"

	"github.com/szibis/mqtt-publisher/internal/record"
)

// reading is the last observed value of one data source.
type reading struct {
	time   time.Time
	values []float64
}

// rateCache remembers the previous reading per record identifier so that
// counter-like values can be converted to per-second rates.
type rateCache struct {
	mu   sync.Mutex
	last map[string]reading
}

func newRateCache() *rateCache {
	return &rateCache{last: make(map[string]reading)}
}

// convert returns per-second rates for counter, derive and absolute values
// and passes gauges through unchanged. A value with no usable history (first
// sight, non-monotonic time, counter reset) converts to nil.
func (c *rateCache) convert(rec *record.Record) []*float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*float64, len(rec.Values))
	prev, seen := c.last[rec.Identifier()]

	var dt float64
	if seen {
		dt = rec.Time.Sub(prev.time).Seconds()
	}

	for i, v := range rec.Values {
		switch rec.DSTypes[i] {
		case record.Gauge:
			val := v
			out[i] = &val
		case record.Absolute:
			if seen && dt > 0 {
				rate := v / dt
				out[i] = &rate
			}
		case record.Counter, record.Derive:
			if seen && dt > 0 && i < len(prev.values) {
				diff := v - prev.values[i]
				if diff >= 0 || rec.DSTypes[i] == record.Derive {
					rate := diff / dt
					out[i] = &rate
				}
				// A negative counter diff is a reset; history
				// restarts from this reading.
			}
		}
	}

	c.last[rec.Identifier()] = reading{time: rec.Time, values: append([]float64(nil), rec.Values...)}
	return out
}
