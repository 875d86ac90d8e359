// Package gwactivity tracks per-group request rate and translates it
// into a background-refresh period, then drives one demand-spawned
// refresh loop per actively-requested group: a fixed-size circular
// buffer of request counts feeding a start-on-demand, stop-on-idle
// background task per group.
package gwactivity

import (
	"math"
	"sync"
	"time"

	"github.com/usenet-gateway/nntpgate/internal/gwclock"
	"github.com/usenet-gateway/nntpgate/internal/gwconfig"
)

// Tracker counts requests into fixed-width time buckets over a sliding
// window and reports the resulting rate. A Tracker has no notion of
// groups; Refresher keeps one Tracker per group, since each group's
// refresh period is independent.
type Tracker struct {
	mu         sync.Mutex
	clock      gwclock.Clock
	buckets    []int64
	bucketSlot []int64 // the slot index each buckets[i] was last written for; stale if it no longer matches
	width      time.Duration
	epoch      time.Time // reference instant slot numbers are computed from
	total      int64
}

// NewTracker constructs a Tracker with gwconfig's default bucket count
// and window width.
func NewTracker(clock gwclock.Clock) *Tracker {
	n := gwconfig.ActivityBuckets
	return &Tracker{
		clock:      clock,
		buckets:    make([]int64, n),
		bucketSlot: make([]int64, n),
		width:      gwconfig.BucketWidth(),
		epoch:      clock.Now(),
	}
}

// RecordRequest registers one request at the current time.
func (t *Tracker) RecordRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, slot := t.slotLocked(t.clock.Now())
	t.refreshLocked(idx, slot)
	t.buckets[idx]++
	t.total++
}

// RPS returns the request rate over the tracked window, in requests
// per second, as of now.
func (t *Tracker) RPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, currentSlot := t.slotLocked(t.clock.Now())

	n := int64(len(t.buckets))
	var sum int64
	for offset := int64(0); offset < n; offset++ {
		slot := currentSlot - offset
		position := slot % n
		if position < 0 {
			position += n
		}
		if t.bucketSlot[position] == slot {
			sum += t.buckets[position]
		}
	}
	window := float64(len(t.buckets)) * t.width.Seconds()
	if window <= 0 {
		return 0
	}
	return float64(sum) / window
}

// Total returns the lifetime request count ever recorded.
func (t *Tracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// slotLocked returns the bucket index and absolute slot number for t.
func (t *Tracker) slotLocked(at time.Time) (idx int, slot int64) {
	slot = int64(at.Sub(t.epoch) / t.width)
	n := int64(len(t.buckets))
	idx64 := slot % n
	if idx64 < 0 {
		idx64 += n
	}
	return int(idx64), slot
}

// refreshLocked clears buckets[idx] if it was last written for a
// different (necessarily older) slot than the one now occupying it.
func (t *Tracker) refreshLocked(idx int, slot int64) {
	if t.bucketSlot[idx] != slot {
		t.buckets[idx] = 0
		t.bucketSlot[idx] = slot
	}
}

// ComputePeriod maps a request rate to a background-refresh period via
// a logarithmic scale between gwconfig.MinRefreshPeriod at
// gwconfig.ActivityHighRPS and gwconfig.MaxRefreshPeriod at or below
// 1/ACTIVITY_WINDOW requests per second: high-traffic groups refresh
// often, idle groups refresh rarely. rps <= 0 (log10 undefined or
// -Inf) maps to MaxRefreshPeriod, which is what the caller's own
// idle-exit check relies on.
func ComputePeriod(rps float64) time.Duration {
	if rps <= 0 {
		return gwconfig.MaxRefreshPeriod
	}
	logMin := math.Log10(1 / gwconfig.ActivityWindow.Seconds())
	logMax := math.Log10(gwconfig.ActivityHighRPS)

	ratio := (math.Log10(rps) - logMin) / (logMax - logMin)
	ratio = clamp(ratio, 0, 1)

	spread := float64(gwconfig.MaxRefreshPeriod - gwconfig.MinRefreshPeriod)
	period := float64(gwconfig.MaxRefreshPeriod) - ratio*spread
	return time.Duration(period)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
