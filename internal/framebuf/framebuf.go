// Package framebuf provides the fixed-capacity send buffer that accumulates
// one framed batch of records between flushes.
package framebuf

import (
	"errors"
	"fmt"
	"time"

	"github.com/szibis/mqtt-publisher/internal/record"
)

// ErrOverflow is returned by an append that does not fit in the remaining
// free space. The buffer is left exactly as it was before the call.
var ErrOverflow = errors.New("framebuf: not enough free space")

// Framer writes batch framing and record encodings into a Buffer. Append
// must be all-or-nothing: on overflow the buffer state is unchanged.
type Framer interface {
	// Init writes the opening marker into a cleared buffer.
	Init(b *Buffer) error
	// Append encodes rec into the buffer's free space.
	Append(b *Buffer, rec *record.Record) error
	// Finalize writes the closing marker. After a finalize error the
	// accumulated content is presumed corrupt and must be discarded.
	Finalize(b *Buffer) error
	// EmptyFill is the fill count at or below which the buffer holds
	// framing markers only, no records.
	EmptyFill() int
}

// Buffer is a fixed byte region with filled and free extents and the
// timestamp at which the current batch was opened.
type Buffer struct {
	data     []byte
	fill     int
	initTime time.Time
}

// New allocates a buffer of the given capacity.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("framebuf: invalid capacity %d", size)
	}
	return &Buffer{data: make([]byte, size)}, nil
}

// Capacity returns the total byte capacity.
func (b *Buffer) Capacity() int { return len(b.data) }

// Fill returns the number of filled bytes.
func (b *Buffer) Fill() int { return b.fill }

// Free returns the number of free bytes.
func (b *Buffer) Free() int { return len(b.data) - b.fill }

// InitTime returns the time the current batch was opened.
func (b *Buffer) InitTime() time.Time { return b.initTime }

// StampInitTime restarts the staleness clock without touching the contents.
func (b *Buffer) StampInitTime() { b.initTime = time.Now() }

// Payload returns the filled region. The slice aliases the buffer and is
// only valid until the next Reset.
func (b *Buffer) Payload() []byte { return b.data[:b.fill] }

// Write appends p to the filled region. The write is all-or-nothing: if p
// does not fit, ErrOverflow is returned and nothing is written.
func (b *Buffer) Write(p []byte) error {
	if len(p) > b.Free() {
		return ErrOverflow
	}
	copy(b.data[b.fill:], p)
	b.fill += len(p)
	return nil
}

// Reset zeroes the region, restarts the staleness clock and opens a fresh
// framing context.
func (b *Buffer) Reset(f Framer) error {
	for i := range b.data {
		b.data[i] = 0
	}
	b.fill = 0
	b.initTime = time.Now()
	return f.Init(b)
}

// Append delegates encoding of rec to the framer.
func (b *Buffer) Append(f Framer, rec *record.Record) error {
	return f.Append(b, rec)
}

// Finalize delegates the closing marker to the framer.
func (b *Buffer) Finalize(f Framer) error {
	return f.Finalize(b)
}

// EffectivelyEmpty reports whether no record has been appended since the
// last reset.
func (b *Buffer) EffectivelyEmpty(f Framer) bool {
	return b.fill <= f.EmptyFill()
}
