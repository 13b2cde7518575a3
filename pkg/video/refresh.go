package video

import "time"

// Refresh is the host refresh signal that paces the sampling loop.
type Refresh interface {
	C() <-chan time.Time
	Stop()
}

// Ticker paces ticks at a fixed rate.
type Ticker struct {
	t *time.Ticker
}

// NewTicker returns a refresh signal at rate Hz. A non-positive rate
// falls back to 60 Hz, a typical display refresh.
func NewTicker(rate float64) *Ticker {
	return &Ticker{t: time.NewTicker(Interval(rate))}
}

// C returns the tick channel.
func (t *Ticker) C() <-chan time.Time { return t.t.C }

// Stop stops the ticker.
func (t *Ticker) Stop() { t.t.Stop() }

// Interval converts a rate in Hz to a tick period.
func Interval(rate float64) time.Duration {
	if rate <= 0 || rate > 1000 {
		rate = 60
	}
	return time.Duration(float64(time.Second) / rate)
}

// Manual is a refresh signal driven by the caller. Used in tests.
type Manual struct {
	ch chan time.Time
}

// NewManual creates a manual refresh signal.
func NewManual() *Manual {
	return &Manual{ch: make(chan time.Time)}
}

// C returns the tick channel.
func (m *Manual) C() <-chan time.Time { return m.ch }

// Tick delivers one tick, blocking until the loop receives it.
func (m *Manual) Tick(now time.Time) { m.ch <- now }

// Stop is a no-op.
func (m *Manual) Stop() {}
