package redis

import (
	"context"
	"log"
	"sync"

	"sensornet/internal/model"
)

// BufferedMirror wraps a Mirror with a circuit breaker. While the circuit
// is open, updates are buffered locally and replayed when Redis comes back.
// The buffer drops the oldest update when full; for a latest-value mirror
// losing stale updates is acceptable.
type BufferedMirror struct {
	mirror *Mirror
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []model.Payload
	maxBuf int

	// Callbacks (optional)
	OnBuffer func()          // a write was buffered
	OnFlush  func(count int) // buffered writes were replayed
}

// NewBufferedMirror creates a BufferedMirror wrapping the given Mirror.
func NewBufferedMirror(ctx context.Context, m *Mirror, cb *CircuitBreaker, maxBufferSize int) *BufferedMirror {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bm := &BufferedMirror{
		mirror: m,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]model.Payload, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Replay the buffer whenever the circuit closes again.
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bm.flush()
		}
	}

	return bm
}

// Write mirrors one update through the circuit breaker. When the circuit is
// open the update is buffered, not lost.
func (bm *BufferedMirror) Write(p model.Payload) error {
	err := bm.cb.Execute(func() error {
		return bm.mirror.writeRecord(bm.ctx, p)
	})
	if err == ErrCircuitOpen {
		bm.bufferWrite(p)
		return nil
	}
	return err
}

func (bm *BufferedMirror) bufferWrite(p model.Payload) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if len(bm.buffer) >= bm.maxBuf {
		bm.buffer = bm.buffer[1:]
	}
	bm.buffer = append(bm.buffer, p)

	if bm.OnBuffer != nil {
		bm.OnBuffer()
	}
}

// flush replays all buffered updates through the underlying mirror.
func (bm *BufferedMirror) flush() {
	bm.mu.Lock()
	if len(bm.buffer) == 0 {
		bm.mu.Unlock()
		return
	}
	toFlush := bm.buffer
	bm.buffer = make([]model.Payload, 0, 256)
	bm.mu.Unlock()

	for _, p := range toFlush {
		if err := bm.mirror.writeRecord(bm.ctx, p); err != nil {
			log.Printf("[redis] flush write for %s/%s: %v", p.Group, p.Name, err)
		}
	}

	log.Printf("[redis] flushed %d buffered updates", len(toFlush))
	if bm.OnFlush != nil {
		bm.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered updates waiting for replay.
func (bm *BufferedMirror) PendingCount() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.buffer)
}

// Underlying returns the wrapped mirror for direct access.
func (bm *BufferedMirror) Underlying() *Mirror {
	return bm.mirror
}
