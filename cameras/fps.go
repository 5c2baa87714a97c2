package cameras

import "time"

// fpsMeter smooths the frame rate over a trailing time window.
type fpsMeter struct {
	window time.Duration
	stamps []time.Time
}

func newFPSMeter(window time.Duration) *fpsMeter {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &fpsMeter{window: window}
}

func (m *fpsMeter) observe(t time.Time) {
	m.stamps = append(m.stamps, t)
	m.trim(t)
}

func (m *fpsMeter) trim(now time.Time) {
	cutoff := now.Add(-m.window)
	i := 0
	for i < len(m.stamps) && m.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.stamps = append(m.stamps[:0], m.stamps[i:]...)
	}
}

// rate returns frames per second across the window ending at now.
func (m *fpsMeter) rate(now time.Time) float64 {
	m.trim(now)
	if len(m.stamps) < 2 {
		return 0
	}
	span := m.stamps[len(m.stamps)-1].Sub(m.stamps[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(m.stamps)-1) / span
}

func (m *fpsMeter) reset() {
	m.stamps = m.stamps[:0]
}
