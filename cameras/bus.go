package cameras

import "sync"

// BusStats is a point-in-time view of a FrameBus.
type BusStats struct {
	Capacity  int    `json:"capacity"`
	Queued    int    `json:"queued"`
	Pushed    uint64 `json:"pushed"`
	Evicted   uint64 `json:"evicted"`
	Delivered uint64 `json:"delivered"`
	Discarded uint64 `json:"discarded"`
}

// FrameBus is a bounded ring of frames for one camera. Push never blocks and
// evicts the oldest frame when full. Pop never blocks.
type FrameBus struct {
	mu     sync.Mutex
	ring   []Frame
	head   int
	size   int
	closed bool

	pushed    uint64
	evicted   uint64
	delivered uint64
	discarded uint64

	inflight sync.WaitGroup
	notify   func()
}

// NewFrameBus creates a bus holding at most capacity frames.
func NewFrameBus(capacity int) *FrameBus {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBus{ring: make([]Frame, capacity)}
}

// OnPush registers a callback invoked after every accepted push.
func (b *FrameBus) OnPush(fn func()) {
	b.mu.Lock()
	b.notify = fn
	b.mu.Unlock()
}

// Push inserts a frame, evicting the oldest one if the bus is full.
// It reports whether a frame was evicted. Pushing to a closed bus is a no-op.
func (b *FrameBus) Push(f Frame) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	evicted := false
	capacity := len(b.ring)
	if b.size == capacity {
		b.ring[b.head] = Frame{}
		b.head = (b.head + 1) % capacity
		b.size--
		b.evicted++
		evicted = true
	}
	b.ring[(b.head+b.size)%capacity] = f
	b.size++
	b.pushed++
	notify := b.notify
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
	return evicted
}

// Pop removes the oldest frame. A popped frame is in flight until Done is called.
func (b *FrameBus) Pop() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.size == 0 {
		return Frame{}, false
	}
	f := b.ring[b.head]
	b.ring[b.head] = Frame{}
	b.head = (b.head + 1) % len(b.ring)
	b.size--
	b.delivered++
	b.inflight.Add(1)
	return f, true
}

// Done marks a popped frame as fully processed.
func (b *FrameBus) Done() {
	b.inflight.Done()
}

// Len returns the number of queued frames.
func (b *FrameBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Close discards every queued frame and waits for in-flight frames to be
// marked Done. It returns the number of discarded frames.
func (b *FrameBus) Close() int {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	b.closed = true
	n := b.size
	for i := range b.ring {
		b.ring[i] = Frame{}
	}
	b.head, b.size = 0, 0
	b.discarded += uint64(n)
	b.mu.Unlock()

	b.inflight.Wait()
	return n
}

// Stats returns the bus counters.
func (b *FrameBus) Stats() BusStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BusStats{
		Capacity:  len(b.ring),
		Queued:    b.size,
		Pushed:    b.pushed,
		Evicted:   b.evicted,
		Delivered: b.delivered,
		Discarded: b.discarded,
	}
}
