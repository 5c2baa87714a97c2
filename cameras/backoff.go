package cameras

import "time"

// BackoffPolicy computes reconnect delays from the consecutive failure count.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(failures-1), capped at Max. No failures means no delay.
func (p BackoffPolicy) Delay(failures int) time.Duration {
	if failures <= 0 || p.Initial <= 0 {
		return 0
	}
	delay := p.Initial
	for i := 1; i < failures; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}
