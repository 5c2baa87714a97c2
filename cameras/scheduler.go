package cameras

import (
	"sort"
	"sync"
)

// Scheduler hands out frames from live buses in round-robin camera order.
type Scheduler struct {
	mu     sync.Mutex
	ids    []uint
	buses  map[uint]*FrameBus
	cursor int
	ready  chan struct{}
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		buses: make(map[uint]*FrameBus),
		ready: make(chan struct{}, 1),
	}
}

// Add registers a camera bus. Pushes to it wake idle consumers.
func (s *Scheduler) Add(cameraID uint, bus *FrameBus) {
	bus.OnPush(s.Signal)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buses[cameraID]; !ok {
		s.ids = append(s.ids, cameraID)
		sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	}
	s.buses[cameraID] = bus
}

// Remove unregisters a camera. Frames still queued on its bus are no longer handed out.
func (s *Scheduler) Remove(cameraID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buses[cameraID]; !ok {
		return
	}
	delete(s.buses, cameraID)
	for i, id := range s.ids {
		if id == cameraID {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			if s.cursor > i {
				s.cursor--
			}
			break
		}
	}
	if len(s.ids) == 0 || s.cursor >= len(s.ids) {
		s.cursor = 0
	}
}

// Signal wakes one idle consumer without blocking.
func (s *Scheduler) Signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever a frame is pushed to any registered bus.
func (s *Scheduler) Ready() <-chan struct{} {
	return s.ready
}

// Next pops a frame from the first non-empty bus at or after the cursor and
// moves the cursor past that camera. The caller must call Done on the returned bus.
func (s *Scheduler) Next() (Frame, *FrameBus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.ids)
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		bus := s.buses[s.ids[idx]]
		if frame, ok := bus.Pop(); ok {
			s.cursor = (idx + 1) % n
			return frame, bus, true
		}
	}
	return Frame{}, nil, false
}

// Len returns the number of registered buses.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
