// Package gwservice owns one upstream server end to end: its three
// priority queues, its pool of Workers, and request coalescing. The
// coalescing approach is golang.org/x/sync/singleflight keyed per
// action, with DoChan so each caller can time out independently of the
// shared in-flight call rather than all being bound to whichever
// caller's context the call happened to start under.
package gwservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/usenet-gateway/nntpgate/internal/gwclock"
	"github.com/usenet-gateway/nntpgate/internal/gwconfig"
	"github.com/usenet-gateway/nntpgate/internal/gwerrors"
	"github.com/usenet-gateway/nntpgate/internal/gwnntp"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
	"github.com/usenet-gateway/nntpgate/internal/gwworker"
)

// Service is one upstream NNTP server: bounded priority queues feeding
// a pool of Workers, with singleflight coalescing in front of the
// queues per the action-kind table in gwrequest.ActionKind.Coalesced.
type Service struct {
	cfg   gwrequest.ServerConfig
	clock gwclock.Clock
	log   *slog.Logger

	high   chan gwrequest.Envelope
	normal chan gwrequest.Envelope
	low    chan gwrequest.Envelope

	group   singleflight.Group
	workers []*gwworker.Worker

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New constructs a Service for one upstream server. Start must be
// called before its action methods will make progress; requests
// submitted before Start simply queue (or saturate once queues fill).
func New(cfg gwrequest.ServerConfig, dialer gwnntp.Dialer, clock gwclock.Clock, log *slog.Logger) *Service {
	high := make(chan gwrequest.Envelope, gwconfig.QueueCapacity)
	normal := make(chan gwrequest.Envelope, gwconfig.QueueCapacity)
	low := make(chan gwrequest.Envelope, gwconfig.QueueCapacity)

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}
	workers := make([]*gwworker.Worker, workerCount)
	for i := range workers {
		workers[i] = gwworker.New(cfg, dialer, clock, log, high, normal, low)
	}

	return &Service{
		cfg:     cfg,
		clock:   clock,
		log:     log,
		high:    high,
		normal:  normal,
		low:     low,
		workers: workers,
	}
}

// Name returns the configured server name, used by Federated to build
// error context and by logging.
func (s *Service) Name() string { return s.cfg.Name }

// Config returns the server configuration this Service was built from.
func (s *Service) Config() gwrequest.ServerConfig { return s.cfg }

// Start launches the worker pool under an errgroup bound to ctx.
// Worker.Run has no error result, so every errgroup goroutine returns
// nil and the group's Wait never reports an error.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	eg, egCtx := errgroup.WithContext(runCtx)
	for _, worker := range s.workers {
		worker := worker
		eg.Go(func() error {
			worker.Run(egCtx)
			return nil
		})
	}
	s.eg = eg
}

// Stop cancels the worker pool and waits for every Worker's Run loop
// to return, bounded by gwconfig.ShutdownDrainDeadline.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.eg == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.eg.Wait() }()

	select {
	case err := <-done:
		return err
	case <-s.clock.After(gwconfig.ShutdownDrainDeadline):
		return fmt.Errorf("gwservice: %s did not drain within %s", s.cfg.Name, gwconfig.ShutdownDrainDeadline)
	}
}

// doCoalesced runs call, collapsing concurrent callers that share
// (kind, coalesceKey) into one in-flight call via singleflight, but
// lets each caller give up
// independently on its own request_timeout or ctx cancellation — the
// shared call itself is left running for whichever caller (if any) is
// still waiting. kind is always folded into the singleflight key:
// two different actions sharing a bare key string (e.g. GetArticle and CheckArticleExists both keying
// on message-ID) must never collapse into the same call, since their
// result types differ.
func (s *Service) doCoalesced(ctx context.Context, kind gwrequest.ActionKind, coalesceKey string, call func() (interface{}, error)) (interface{}, error) {
	key := uuid.NewString()
	if kind.Coalesced() && coalesceKey != "" {
		key = string(kind) + "\x00" + coalesceKey
	}

	start := s.clock.Now()
	resultChan := s.group.DoChan(key, call)

	timer := s.clock.NewTimer(gwconfig.RequestTimeout)
	defer timer.Stop()

	select {
	case result := <-resultChan:
		s.logRequest(kind, coalesceKey, result.Shared, s.clock.Now().Sub(start), result.Err)
		return result.Val, result.Err
	case <-timer.C:
		s.logRequest(kind, coalesceKey, false, s.clock.Now().Sub(start), gwerrors.NewTimeout(s.cfg.Name, gwconfig.RequestTimeout))
		return nil, gwerrors.NewTimeout(s.cfg.Name, gwconfig.RequestTimeout)
	case <-ctx.Done():
		s.logRequest(kind, coalesceKey, false, s.clock.Now().Sub(start), gwerrors.NewCancelled())
		return nil, gwerrors.NewCancelled()
	}
}

// logRequest emits the per-request observability event: server,
// action, coalesced, duration_ms and outcome. key is the coalescing
// key, empty for actions that never coalesce.
func (s *Service) logRequest(kind gwrequest.ActionKind, key string, coalesced bool, duration time.Duration, err error) {
	if s.log == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = err.Error()
	}
	s.log.Debug("request completed",
		"server", s.cfg.Name,
		"action", string(kind),
		"key", key,
		"coalesced", coalesced,
		"duration_ms", duration.Milliseconds(),
		"outcome", outcome,
	)
}

// enqueue pushes env onto the queue matching its action kind's fixed
// priority, giving up with a SaturationError if the queue stays full
// past queue_send_timeout.
func (s *Service) enqueue(env gwrequest.Envelope) error {
	var queue chan gwrequest.Envelope
	switch env.Kind().Priority() {
	case gwrequest.PriorityHigh:
		queue = s.high
	case gwrequest.PriorityNormal:
		queue = s.normal
	default:
		queue = s.low
	}

	timer := s.clock.NewTimer(gwconfig.QueueSendTimeout)
	defer timer.Stop()

	select {
	case queue <- env:
		return nil
	case <-timer.C:
		return gwerrors.NewSaturation(s.cfg.Name, env.Kind().Priority().String())
	}
}
