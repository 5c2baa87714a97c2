package alerts

import (
	"context"
	"sync"
	"time"
)

// Cooldown decides whether a new alert may be created for a key.
// Acquire returns true and starts a new window when no window for key is
// open at time at. Release closes the window opened at at, so that the next
// event for key may alert again; a window opened later is left alone.
type Cooldown interface {
	Acquire(ctx context.Context, key string, at time.Time, window time.Duration) (bool, error)
	Release(ctx context.Context, key string, at time.Time) error
}

const memoryPruneThreshold = 1024

// MemoryCooldown keeps cooldown windows in process memory.
type MemoryCooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryCooldown creates an empty in-memory cooldown.
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{last: make(map[string]time.Time)}
}

func (m *MemoryCooldown) Acquire(_ context.Context, key string, at time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.last[key]; ok && at.Sub(last) < window {
		return false, nil
	}
	m.last[key] = at
	if len(m.last) > memoryPruneThreshold {
		m.prune(at, window)
	}
	return true, nil
}

func (m *MemoryCooldown) Release(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.last[key]; ok && last.Equal(at) {
		delete(m.last, key)
	}
	return nil
}

// prune drops windows that closed before at. Caller holds mu.
func (m *MemoryCooldown) prune(at time.Time, window time.Duration) {
	for k, last := range m.last {
		if at.Sub(last) >= window {
			delete(m.last, k)
		}
	}
}
