package ingest

import (
	"sync"
	"time"
)

// Batcher coalesces high-rate items into batches, flushed when the
// batch fills or when interval has passed since the first pending
// item. The ingest path runs ECG block writes through one so a 130 Hz
// stream does not turn into per-block storage round trips.
//
// Flushes run on their own goroutine so callers never block on
// storage.
type Batcher[T any] struct {
	size     int
	interval time.Duration
	flush    func([]T)

	mu      sync.Mutex
	pending []T
	timer   *time.Timer
	closed  bool

	inflight sync.WaitGroup
}

// NewBatcher returns a batcher flushing through flush. size and
// interval must both be positive.
func NewBatcher[T any](size int, interval time.Duration, flush func([]T)) *Batcher[T] {
	return &Batcher[T]{
		size:     size,
		interval: interval,
		flush:    flush,
	}
}

// Add queues one item, flushing if the batch is now full. Items added
// after Stop are dropped.
func (b *Batcher[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if b.pending == nil {
		b.pending = make([]T, 0, b.size)
	}
	b.pending = append(b.pending, item)

	switch {
	case len(b.pending) >= b.size:
		b.emitLocked()
	case len(b.pending) == 1:
		// first pending item arms the interval timer
		b.timer = time.AfterFunc(b.interval, b.onTimer)
	}
}

func (b *Batcher[T]) onTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed && len(b.pending) > 0 {
		b.emitLocked()
	}
}

// Flush forces out whatever is pending.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		b.emitLocked()
	}
}

// Stop flushes the remainder, waits for in-flight flushes to finish,
// and rejects all further adds.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) > 0 {
		b.emitLocked()
	}
	b.mu.Unlock()

	b.inflight.Wait()
}

// emitLocked hands the pending batch to the flush goroutine. Caller
// holds mu.
func (b *Batcher[T]) emitLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = nil

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.flush(batch)
	}()
}
