package gwactivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/usenet-gateway/nntpgate/internal/gwclock"
)

// RefreshFunc performs one incremental refresh of a single group. It
// is called repeatedly on the period ComputePeriod derives from that
// group's observed request rate.
type RefreshFunc func(ctx context.Context, group string)

// Refresher runs at most one background refresh loop per group,
// spawned the first time MarkActive sees that group and stopped once
// the group's Tracker reports zero recent requests.
type Refresher struct {
	ctx     context.Context
	log     *slog.Logger
	refresh RefreshFunc

	mu      sync.Mutex
	groups  map[string]*groupLoop
	wg      sync.WaitGroup
	closing bool
}

type groupLoop struct {
	tracker *Tracker
	cancel  context.CancelFunc
}

// New constructs a Refresher bound to ctx's lifetime: cancelling ctx
// (or calling Stop) halts every running group loop.
func New(ctx context.Context, log *slog.Logger, refresh RefreshFunc) *Refresher {
	return &Refresher{
		ctx:     ctx,
		log:     log,
		refresh: refresh,
		groups:  make(map[string]*groupLoop),
	}
}

// MarkActive records a request against group and, if no loop is
// currently running for it, starts one. A second MarkActive call for
// an already-running group is a no-op beyond recording the request.
func (r *Refresher) MarkActive(group string, clock gwclock.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return
	}

	loop, ok := r.groups[group]
	if !ok {
		loop = &groupLoop{tracker: NewTracker(clock)}
		r.groups[group] = loop
	}
	loop.tracker.RecordRequest()

	if loop.cancel == nil {
		r.spawnLocked(group, loop)
	}
}

func (r *Refresher) spawnLocked(group string, loop *groupLoop) {
	loopCtx, cancel := context.WithCancel(r.ctx)
	loop.cancel = cancel
	r.wg.Add(1)
	go r.runLoop(loopCtx, group, loop)
}

func (r *Refresher) runLoop(ctx context.Context, group string, loop *groupLoop) {
	defer r.wg.Done()
	clock := loop.tracker.clock

	for {
		rps := loop.tracker.RPS()
		if rps <= 0 {
			r.stopGroup(group)
			return
		}

		period := ComputePeriod(rps)
		timer := clock.NewTimer(period)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		r.refresh(ctx, group)

		r.mu.Lock()
		stillTracked := r.groups[group] == loop
		r.mu.Unlock()
		if !stillTracked {
			return
		}
	}
}

func (r *Refresher) stopGroup(group string) {
	r.mu.Lock()
	loop, ok := r.groups[group]
	if ok {
		delete(r.groups, group)
	}
	r.mu.Unlock()

	if ok && loop.cancel != nil {
		loop.cancel()
	}
	if r.log != nil {
		r.log.Debug("background refresh loop idle, stopping", "group", group)
	}
}

// Stop cancels every running group loop and waits for them to exit.
func (r *Refresher) Stop() {
	r.mu.Lock()
	r.closing = true
	for group, loop := range r.groups {
		if loop.cancel != nil {
			loop.cancel()
		}
		delete(r.groups, group)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// ActiveGroups returns the groups with a currently running loop, for
// diagnostics and tests.
func (r *Refresher) ActiveGroups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	groups := make([]string, 0, len(r.groups))
	for group := range r.groups {
		groups = append(groups, group)
	}
	return groups
}
