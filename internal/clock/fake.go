package clock

import (
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. AfterFunc callbacks run
// synchronously inside Advance, in deadline order, so a test that
// advances past a whole door cycle observes every phase before Advance
// returns.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time // After and ticker waiters
	fn       func()         // AfterFunc waiters
	interval time.Duration  // > 0 for tickers
	stopped  bool
}

func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	w := &waiter{deadline: c.now.Add(d), fn: f}
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}
	c.addLocked(w)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, p := range c.pending {
			if p == w {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				w.stopped = true
				return true
			}
		}
		return false
	}}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &waiter{deadline: c.now.Add(d), ch: ch, interval: d}
	c.addLocked(w)
	return &Ticker{C: ch, stopFunc: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.stopped = true
	}}
}

// Advance moves the clock forward by d and fires everything due, one
// waiter at a time in deadline order. Now reports each waiter's deadline
// while it fires, so timers registered by callbacks also fire if their
// deadline falls inside the advanced window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		w, at, ok := c.popDue(target)
		if !ok {
			return
		}
		if w.fn != nil {
			w.fn()
			continue
		}
		select {
		case w.ch <- at:
		default:
		}
	}
}

// popDue removes the earliest waiter due at or before target and moves
// the clock to its deadline. With nothing due the clock lands on target.
func (c *FakeClock) popDue(target time.Time) (*waiter, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.pending[:0]
	for _, w := range c.pending {
		if !w.stopped {
			live = append(live, w)
		}
	}
	c.pending = live

	idx := -1
	for i, w := range c.pending {
		if w.deadline.After(target) {
			continue
		}
		if idx < 0 || w.deadline.Before(c.pending[idx].deadline) {
			idx = i
		}
	}
	if idx < 0 {
		if target.After(c.now) {
			c.now = target
		}
		return nil, time.Time{}, false
	}

	w := c.pending[idx]
	at := w.deadline
	if at.After(c.now) {
		c.now = at
	}
	if w.interval > 0 {
		w.deadline = w.deadline.Add(w.interval)
	} else {
		c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	}
	return w, at, true
}

// WaitForTimers blocks until at least n timers or tickers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// Pending returns the number of registered, unfired timers and tickers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.pending {
		if !w.stopped {
			n++
		}
	}
	return n
}

func (c *FakeClock) addLocked(w *waiter) {
	c.pending = append(c.pending, w)
	c.changed.Broadcast()
}
