package gwclock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to initial. Time stands still until
// Advance is called; timers and tickers registered against the clock
// fire synchronously in deadline order as Advance sweeps past them.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
	interval time.Duration
	stopped  bool
	fired    bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	return channel
}

func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	waiter := &fakeWaiter{deadline: c.current.Add(d), channel: channel}
	if d <= 0 {
		waiter.fired = true
		channel <- c.current
	} else {
		c.waiters = append(c.waiters, waiter)
	}
	return &Timer{
		C: channel,
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if waiter.stopped || waiter.fired {
				return false
			}
			waiter.stopped = true
			return true
		},
	}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("gwclock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
		interval: d,
	}
	c.waiters = append(c.waiters, waiter)
	return &Ticker{
		C: channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
	}
}

func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the fake clock forward by d, firing any waiters whose
// deadline falls at or before the new time, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		due := c.dueWaiterLocked(target)
		if due == nil {
			break
		}
		due.fired = true
		select {
		case due.channel <- due.deadline:
		default:
		}
		if due.interval > 0 && !due.stopped {
			due.fired = false
			due.deadline = due.deadline.Add(due.interval)
		}
	}

	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// dueWaiterLocked returns the earliest unfired, unstopped waiter whose
// deadline is at or before target, or nil if none remain.
func (c *FakeClock) dueWaiterLocked(target time.Time) *fakeWaiter {
	var earliest *fakeWaiter
	for _, w := range c.waiters {
		if w.stopped || w.fired {
			continue
		}
		if w.deadline.After(target) {
			continue
		}
		if earliest == nil || w.deadline.Before(earliest.deadline) {
			earliest = w
		}
	}
	return earliest
}

func (c *FakeClock) compactLocked() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if w.fired && w.interval == 0 {
			continue
		}
		live = append(live, w)
	}
	c.waiters = live
	sort.Slice(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
}
