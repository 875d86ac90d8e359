// Package gwworker owns one upstream NNTP connection end to end: the
// connect/greet/authenticate lifecycle, reconnection with exponential
// backoff, and the three-priority dequeue loop with starvation-prevention
// aging that drains a Service's queues into protocol actions.
package gwworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/usenet-gateway/nntpgate/internal/gwclock"
	"github.com/usenet-gateway/nntpgate/internal/gwconfig"
	"github.com/usenet-gateway/nntpgate/internal/gwerrors"
	"github.com/usenet-gateway/nntpgate/internal/gwnntp"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
)

// State is the worker's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateGreeted
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateGreeted:
		return "greeted"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Worker drains one server's three priority queues into protocol
// actions over a single upstream connection. It owns reconnection; a
// Service owns Workers and the queues they drain.
type Worker struct {
	cfg    gwrequest.ServerConfig
	dialer gwnntp.Dialer
	clock  gwclock.Clock
	log    *slog.Logger

	high   <-chan gwrequest.Envelope
	normal <-chan gwrequest.Envelope
	low    <-chan gwrequest.Envelope

	state          State
	conn           gwnntp.Conn
	capabilities   gwrequest.Capabilities
	lastLowAt      time.Time
	lastActivityAt time.Time
}

// New constructs a Worker. The three channels are owned by the caller
// (typically a gwservice.Service); the Worker only ever receives from
// them.
func New(cfg gwrequest.ServerConfig, dialer gwnntp.Dialer, clock gwclock.Clock, log *slog.Logger, high, normal, low <-chan gwrequest.Envelope) *Worker {
	return &Worker{
		cfg:    cfg,
		dialer: dialer,
		clock:  clock,
		log:    log,
		high:   high,
		normal: normal,
		low:    low,
		state:  StateDisconnected,
	}
}

// State reports the worker's current connection lifecycle state.
func (w *Worker) State() State { return w.state }

// Run drives the worker until ctx is cancelled: connect, dequeue loop,
// reconnect-with-backoff on transport failure, repeat.
func (w *Worker) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.connect(ctx); err != nil {
			w.logError("connect failed", err)
			if !w.backoff(ctx, attempt) {
				return
			}
			attempt++
			continue
		}
		attempt = 0

		err := w.serveLoop(ctx)
		w.disconnect()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logError("connection lost, reconnecting", err)
		}
		if !w.backoff(ctx, attempt) {
			return
		}
		attempt++
	}
}

func (w *Worker) logError(msg string, err error) {
	if w.log != nil {
		w.log.Warn(msg, "server", w.cfg.Name, "error", err)
	}
}

// connect dials, reads the greeting, retrieves capabilities, issues
// MODE READER, and authenticates if credentials are configured. On
// success the worker state is StateReady.
func (w *Worker) connect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, gwconfig.ConnectTimeout)
	defer cancel()

	conn, err := w.dialer.Dial(connectCtx, w.cfg)
	if err != nil {
		return gwerrors.NewTransport(w.cfg.Name, err)
	}
	w.state = StateGreeted

	greeting := conn.Greeting()
	caps, err := conn.Capabilities(connectCtx)
	if err != nil {
		conn.Close()
		w.state = StateDisconnected
		return gwerrors.NewTransport(w.cfg.Name, err)
	}
	caps.GreetingAllowsPost = greeting.PostingAllowed

	if err := conn.ModeReader(connectCtx); err != nil {
		conn.Close()
		w.state = StateDisconnected
		return gwerrors.NewTransport(w.cfg.Name, err)
	}

	if w.cfg.Credentials != nil {
		if err := conn.Authenticate(connectCtx, *w.cfg.Credentials); err != nil {
			conn.Close()
			w.state = StateDisconnected
			return fmt.Errorf("authenticate with %s: %w", w.cfg.Name, err)
		}
	}

	w.conn = conn
	w.capabilities = caps
	w.state = StateReady
	w.lastLowAt = w.clock.Now()
	w.lastActivityAt = w.clock.Now()
	w.logConnected(caps)
	return nil
}

func (w *Worker) logConnected(caps gwrequest.Capabilities) {
	if w.log != nil {
		w.log.Info("connected", "server", w.cfg.Name,
			"has_over", caps.HasOver, "has_hdr", caps.HasHdr, "has_post", caps.HasPost)
	}
}

func (w *Worker) disconnect() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		if w.log != nil {
			w.log.Info("disconnected", "server", w.cfg.Name)
		}
	}
	w.state = StateDisconnected
}

// serveLoop dequeues envelopes by priority with aging until a
// transport error occurs or ctx is cancelled.
func (w *Worker) serveLoop(ctx context.Context) error {
	for {
		env, cancelled, err := w.dequeue(ctx)
		if cancelled {
			return nil // ctx cancelled
		}
		if err != nil {
			return err // idle probe found the connection dead
		}

		w.lastActivityAt = w.clock.Now()
		if err := w.dispatch(ctx, env); err != nil {
			if gwerrors.IsTransport(err) {
				return err
			}
			// Protocol/not-found/etc. errors are terminal for this
			// request only; already delivered to the caller by dispatch.
		}
	}
}

// dequeue implements the priority-with-aging discipline: a High
// envelope is always preferred; Normal next; Low is forced once
// AgingWindow has elapsed since Low was last served, so continuous
// High/Normal traffic cannot starve it indefinitely. When
// cfg.IdleProbeInterval is set and no envelope arrives before it
// elapses, dequeue issues a lightweight idle probe against the
// connection itself and loops rather than returning, surfacing a
// transport error only if the probe reveals a half-open socket.
func (w *Worker) dequeue(ctx context.Context) (env gwrequest.Envelope, cancelled bool, err error) {
	for {
		if w.clock.Now().Sub(w.lastLowAt) >= gwconfig.AgingWindow {
			select {
			case env := <-w.low:
				w.lastLowAt = w.clock.Now()
				return env, false, nil
			default:
			}
		}

		select {
		case env := <-w.high:
			return env, false, nil
		default:
		}
		select {
		case env := <-w.normal:
			return env, false, nil
		default:
		}
		select {
		case env := <-w.low:
			w.lastLowAt = w.clock.Now()
			return env, false, nil
		default:
		}

		remaining := gwconfig.AgingWindow - w.clock.Now().Sub(w.lastLowAt)
		if remaining < 0 {
			remaining = 0
		}
		wakeTimer := w.clock.NewTimer(remaining + time.Millisecond)

		var probeTimer *gwclock.Timer
		var probeC <-chan time.Time
		if w.cfg.IdleProbeInterval > 0 {
			probeRemaining := w.cfg.IdleProbeInterval - w.clock.Now().Sub(w.lastActivityAt)
			if probeRemaining < 0 {
				probeRemaining = 0
			}
			probeTimer = w.clock.NewTimer(probeRemaining)
			probeC = probeTimer.C
		}

		select {
		case <-ctx.Done():
			wakeTimer.Stop()
			probeTimer.Stop()
			return nil, true, nil
		case env := <-w.high:
			wakeTimer.Stop()
			probeTimer.Stop()
			return env, false, nil
		case env := <-w.normal:
			wakeTimer.Stop()
			probeTimer.Stop()
			return env, false, nil
		case env := <-w.low:
			wakeTimer.Stop()
			probeTimer.Stop()
			w.lastLowAt = w.clock.Now()
			return env, false, nil
		case <-wakeTimer.C:
			probeTimer.Stop()
			// Aging window elapsed with nothing ready; loop to recheck.
		case <-probeC:
			wakeTimer.Stop()
			w.lastActivityAt = w.clock.Now()
			if _, probeErr := w.conn.Date(ctx); probeErr != nil {
				return nil, false, gwerrors.NewTransport(w.cfg.Name, probeErr)
			}
			// Connection still alive; loop to recheck the queues.
		}
	}
}

// backoff sleeps for an exponential delay with jitter, bounded by
// gwconfig's backoff floor and ceiling, before the next connect
// attempt. Returns false if ctx is cancelled during the wait.
func (w *Worker) backoff(ctx context.Context, attempt int) bool {
	delay := gwconfig.ReconnectBackoffFloor << attempt
	if delay <= 0 || delay > gwconfig.ReconnectBackoffCeiling {
		delay = gwconfig.ReconnectBackoffCeiling
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	delay = delay/2 + jitter
	if delay < gwconfig.ReconnectBackoffFloor {
		delay = gwconfig.ReconnectBackoffFloor
	}

	select {
	case <-ctx.Done():
		return false
	case <-w.clock.After(delay):
		return true
	}
}

var errUnsupportedEnvelope = errors.New("gwworker: unsupported envelope type")
