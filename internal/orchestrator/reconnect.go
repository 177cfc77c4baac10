package orchestrator

import "time"

// ReconnectPolicy computes the wait before each restart attempt. Delays grow
// exponentially from BaseDelay and are clamped at MaxDelay.
type ReconnectPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// Next returns the delay before the attempt following `used` prior attempts.
// The second return value is false once the retry budget is spent.
func (p ReconnectPolicy) Next(used int) (time.Duration, bool) {
	if used < 0 {
		used = 0
	}
	if used >= p.MaxRetries {
		return 0, false
	}
	delay := p.BaseDelay
	for i := 0; i < used; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay, true
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay, true
}
