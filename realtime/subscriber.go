package realtime

import (
	"context"
	"sync"
	"sync/atomic"
)

// Message is one encoded envelope queued for a subscriber.
type Message struct {
	Type    string
	Payload []byte
}

// Subscriber is a bounded queue of messages. When full, the oldest message is dropped.
type Subscriber struct {
	mu     sync.Mutex
	queue  []Message
	limit  int
	closed bool

	notify  chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
}

func newSubscriber(limit int) *Subscriber {
	return &Subscriber{
		limit:  limit,
		queue:  make([]Message, 0, limit),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Subscriber) enqueue(msg Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.limit {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a message is available. It returns false once the
// subscriber is dropped or ctx is done.
func (s *Subscriber) Next(ctx context.Context) (Message, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Message{}, false
		}
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue[0] = Message{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, true
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return Message{}, false
		}
	}
}

// Len returns the number of queued messages.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns how many messages were discarded because the queue was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Done is closed when the subscriber is dropped.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}
