// Package clock lets the door timers, retry backoff and the occupancy
// sweeper run against either wall time or a deterministic fake.
//
// Production wiring uses Real(). Tests use Fake(start) and drive time
// forward with Advance; WaitForTimers blocks until a goroutine has
// registered the timer the test is about to fire.
package clock

import "time"

type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer can
	// stop a call that has not fired yet.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the call from firing. It reports false if the call
// already fired or was already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C (capacity 1, ticks drop when the
// reader falls behind, like time.Ticker).
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

func (t *Ticker) Stop() { t.stopFunc() }
