package cameras

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(cameraID uint, seq uint64) Frame {
	return Frame{CameraID: cameraID, Seq: seq, CapturedAt: time.Now()}
}

func TestFrameBusEvictsOldest(t *testing.T) {
	bus := NewFrameBus(2)

	assert.False(t, bus.Push(frame(1, 1)))
	assert.False(t, bus.Push(frame(1, 2)))
	assert.True(t, bus.Push(frame(1, 3)))
	assert.Equal(t, 2, bus.Len())

	f, ok := bus.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.Seq)
	bus.Done()
	f, ok = bus.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.Seq)
	bus.Done()

	_, ok = bus.Pop()
	assert.False(t, ok)

	st := bus.Stats()
	assert.Equal(t, BusStats{Capacity: 2, Pushed: 3, Evicted: 1, Delivered: 2}, st)
}

func TestFrameBusMinimumCapacity(t *testing.T) {
	bus := NewFrameBus(0)
	bus.Push(frame(1, 1))
	assert.True(t, bus.Push(frame(1, 2)))
	f, ok := bus.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.Seq)
	bus.Done()
}

func TestFrameBusCloseDiscardsQueuedAndWaitsInFlight(t *testing.T) {
	bus := NewFrameBus(4)
	for i := uint64(1); i <= 3; i++ {
		bus.Push(frame(1, i))
	}
	_, ok := bus.Pop()
	require.True(t, ok)

	closed := make(chan int, 1)
	go func() { closed <- bus.Close() }()

	select {
	case <-closed:
		t.Fatal("close returned while a frame was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	bus.Done()
	select {
	case n := <-closed:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("close did not return after Done")
	}

	assert.False(t, bus.Push(frame(1, 9)))
	_, ok = bus.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Close())
	assert.Equal(t, uint64(2), bus.Stats().Discarded)
}

func TestFrameBusNotifiesOnPush(t *testing.T) {
	bus := NewFrameBus(1)
	var calls atomic.Int32
	bus.OnPush(func() { calls.Add(1) })

	bus.Push(frame(1, 1))
	bus.Push(frame(1, 2))
	assert.Equal(t, int32(2), calls.Load())

	bus.Close()
	bus.Push(frame(1, 3))
	assert.Equal(t, int32(2), calls.Load())
}

func TestBackoffPolicyDelay(t *testing.T) {
	p := BackoffPolicy{Initial: time.Second, Max: 30 * time.Second}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 16*time.Second, p.Delay(5))
	assert.Equal(t, 30*time.Second, p.Delay(6))
	assert.Equal(t, 30*time.Second, p.Delay(1000))

	assert.Equal(t, time.Duration(0), BackoffPolicy{}.Delay(3))
	assert.Equal(t, 8*time.Second, BackoffPolicy{Initial: time.Second}.Delay(4))
}

func TestFPSMeter(t *testing.T) {
	m := newFPSMeter(2 * time.Second)
	start := time.Unix(1000, 0)

	assert.Zero(t, m.rate(start))
	for i := 0; i <= 10; i++ {
		m.observe(start.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	assert.InDelta(t, 10.0, m.rate(start.Add(time.Second)), 0.001)

	// old frames fall out of the window
	assert.Zero(t, m.rate(start.Add(10*time.Second)))

	m.observe(start.Add(11 * time.Second))
	m.reset()
	assert.Zero(t, m.rate(start.Add(11*time.Second)))
}
