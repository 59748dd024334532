// Package deque provides a growable ring-backed double-ended queue for
// model.Record. It backs the retained window of a series: records are
// appended at the back, evicted at the front when they age out, and the
// power-of-two mask keeps index math branch-free.
package deque

import "sensornet/internal/model"

// Deque is a record queue backed by a circular buffer. Not goroutine-safe;
// a series is owned by a single writer.
type Deque struct {
	buf  []model.Record
	mask uint64
	head uint64 // next write position
	tail uint64 // oldest element
}

// New creates a deque. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Deque {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Deque{
		buf:  make([]model.Record, c),
		mask: uint64(c - 1),
	}
}

// Len returns the number of queued records.
func (d *Deque) Len() int {
	return int(d.head - d.tail)
}

// Cap returns the current buffer capacity.
func (d *Deque) Cap() int {
	return len(d.buf)
}

// PushBack appends a record, growing the buffer when full.
func (d *Deque) PushBack(r model.Record) {
	if d.head-d.tail >= uint64(len(d.buf)) {
		d.grow()
	}
	d.buf[d.head&d.mask] = r
	d.head++
}

// PopFront removes and returns the oldest record. Returns false when empty.
func (d *Deque) PopFront() (model.Record, bool) {
	if d.tail >= d.head {
		return model.Record{}, false
	}
	r := d.buf[d.tail&d.mask]
	d.tail++
	return r, true
}

// PopBack removes and returns the newest record. Returns false when empty.
func (d *Deque) PopBack() (model.Record, bool) {
	if d.tail >= d.head {
		return model.Record{}, false
	}
	d.head--
	return d.buf[d.head&d.mask], true
}

// At returns the record at index i, 0 being the oldest. i must be in
// [0, Len()).
func (d *Deque) At(i int) model.Record {
	return d.buf[(d.tail+uint64(i))&d.mask]
}

// Front returns the oldest record. Returns false when empty.
func (d *Deque) Front() (model.Record, bool) {
	if d.Len() == 0 {
		return model.Record{}, false
	}
	return d.At(0), true
}

// Back returns the newest record. Returns false when empty.
func (d *Deque) Back() (model.Record, bool) {
	if d.Len() == 0 {
		return model.Record{}, false
	}
	return d.At(d.Len() - 1), true
}

// Snapshot copies the queued records oldest-first into a fresh slice.
// Callers iterate the copy so the deque may mutate between iterations.
func (d *Deque) Snapshot() []model.Record {
	out := make([]model.Record, d.Len())
	for i := range out {
		out[i] = d.At(i)
	}
	return out
}

// grow doubles the buffer, relocating elements to the start.
func (d *Deque) grow() {
	n := d.Len()
	buf := make([]model.Record, len(d.buf)*2)
	for i := 0; i < n; i++ {
		buf[i] = d.At(i)
	}
	d.buf = buf
	d.mask = uint64(len(buf) - 1)
	d.tail = 0
	d.head = uint64(n)
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
