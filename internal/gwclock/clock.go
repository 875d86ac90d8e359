// Package gwclock abstracts time so the worker reconnect loop, the
// activity tracker's ring buffer, and the background refresh scheduler
// can be driven deterministically in tests instead of sleeping in real
// time.
package gwclock

import "time"

// Clock is the time source every suspension point in the gateway core
// goes through. Production code uses Real(); tests use Fake() for
// deterministic control.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. Mirrors time.After.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d.
	NewTimer(d time.Duration) *Timer

	// NewTicker returns a Ticker that fires every d until Stop is called.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for duration d.
	Sleep(d time.Duration)
}

// Timer wraps a one-shot timer. C delivers the fire time.
type Timer struct {
	C        <-chan time.Time
	stopFunc func() bool
}

// Stop prevents the Timer from firing, if it hasn't already.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Ticker wraps a periodic timer. C delivers each tick.
type Ticker struct {
	C        <-chan time.Time
	stopFunc func()
}

// Stop releases the Ticker's resources. Safe to call more than once.
func (t *Ticker) Stop() {
	if t == nil || t.stopFunc == nil {
		return
	}
	t.stopFunc()
}
