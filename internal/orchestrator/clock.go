package orchestrator

import "time"

// Ticker abstracts time.Ticker so supervisory loops can be driven by a manual
// clock in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer abstracts time.Timer for single-shot reconnect and schedule waits.
type Timer interface {
	C() <-chan time.Time
	Stop()
}

// Clock supplies the current time and timer construction. The production
// implementation delegates to the time package.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}

type systemClock struct{}

// SystemClock returns the wall-clock backed Clock used outside of tests.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{ticker: time.NewTicker(d)}
}

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{timer: time.NewTimer(d)}
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t systemTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t systemTicker) Stop() {
	t.ticker.Stop()
}

type systemTimer struct {
	timer *time.Timer
}

func (t systemTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t systemTimer) Stop() {
	t.timer.Stop()
}
