// Package gwfederated combines several gwservice.Service instances
// (one per upstream server) into a single logical gateway: priority-
// ranked failover, group-pattern admission, the TTL caches in front of
// every read path, and activity-proportional incremental refresh. The
// priority-ranked candidate selection and typed-error failover policy
// are this package's own design per the source specification; the
// caching and demand-driven refresh machinery they sit on top of are
// grounded in gwcache and gwactivity respectively.
package gwfederated

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/usenet-gateway/nntpgate/internal/gwactivity"
	"github.com/usenet-gateway/nntpgate/internal/gwcache"
	"github.com/usenet-gateway/nntpgate/internal/gwclock"
	"github.com/usenet-gateway/nntpgate/internal/gwconfig"
	"github.com/usenet-gateway/nntpgate/internal/gwerrors"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
	"github.com/usenet-gateway/nntpgate/internal/gwservice"
)

type notFoundMarker struct{}

// Federated fronts a priority-ranked set of upstream servers with
// caching, group-admission filtering, and failover.
type Federated struct {
	servers []*gwservice.Service
	matcher gwrequest.GroupMatcher
	clock   gwclock.Clock
	log     *slog.Logger

	articleCache  *gwcache.Cache[gwrequest.ArticleView]
	notFoundCache *gwcache.Cache[notFoundMarker]
	threadsCache  *gwcache.Cache[gwrequest.CachedThreads]
	threadCache   *gwcache.Cache[gwrequest.ThreadView]
	groupsCache   *gwcache.Cache[gwrequest.GroupCatalog]
	statsCache    *gwcache.Cache[gwrequest.GroupStats]

	refresher *gwactivity.Refresher

	groupsGroup      singleflight.Group
	statsGroup       singleflight.Group
	newArticlesGroup singleflight.Group

	incrementalMu sync.Mutex
	lastTriggered map[string]time.Time
}

// New constructs a Federated over servers, sorted by ascending
// PriorityRank (lower tries first). matcher decides group-pattern
// admission; pass gwnntp.GlobMatcher for the default shell-glob
// behavior.
func New(servers []*gwservice.Service, matcher gwrequest.GroupMatcher, clock gwclock.Clock, log *slog.Logger) *Federated {
	ranked := make([]*gwservice.Service, len(servers))
	copy(ranked, servers)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Config().PriorityRank < ranked[j].Config().PriorityRank
	})

	f := &Federated{
		servers:       ranked,
		matcher:       matcher,
		clock:         clock,
		log:           log,
		articleCache:  gwcache.New[gwrequest.ArticleView](clock, gwconfig.ArticleCacheTTL, gwconfig.DefaultCacheMaxEntries),
		notFoundCache: gwcache.New[notFoundMarker](clock, gwconfig.ArticleNotFoundCacheTTL, gwconfig.DefaultCacheMaxEntries),
		threadsCache:  gwcache.New[gwrequest.CachedThreads](clock, gwconfig.ThreadsCacheTTL, gwconfig.DefaultCacheMaxEntries),
		threadCache:   gwcache.New[gwrequest.ThreadView](clock, gwconfig.ThreadCacheTTL, gwconfig.DefaultCacheMaxEntries),
		groupsCache:   gwcache.New[gwrequest.GroupCatalog](clock, gwconfig.GroupsCacheTTL, 1),
		statsCache:    gwcache.New[gwrequest.GroupStats](clock, gwconfig.GroupStatsCacheTTL, gwconfig.DefaultCacheMaxEntries),
		lastTriggered: make(map[string]time.Time),
	}
	f.refresher = gwactivity.New(context.Background(), log, f.refreshIncremental)
	return f
}

// Start launches every underlying Service's worker pool.
func (f *Federated) Start(ctx context.Context) {
	for _, svc := range f.servers {
		svc.Start(ctx)
	}
}

// Stop stops the background refresh loops and every underlying
// Service's worker pool.
func (f *Federated) Stop() error {
	f.refresher.Stop()
	var firstErr error
	for _, svc := range f.servers {
		if err := svc.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CacheStats reports cumulative hit/miss counters for every cache
// layer, keyed by the name used in observability events.
func (f *Federated) CacheStats() map[string]gwcache.Stats {
	return map[string]gwcache.Stats{
		"article":     f.articleCache.Stats(),
		"not_found":   f.notFoundCache.Stats(),
		"threads":     f.threadsCache.Stats(),
		"thread":      f.threadCache.Stats(),
		"groups":      f.groupsCache.Stats(),
		"group_stats": f.statsCache.Stats(),
	}
}

// serversFor returns the priority-ordered servers admitting group, or
// every server in priority order if group is empty (message-ID-scoped
// operations aren't tied to any one group).
func (f *Federated) serversFor(group string) []*gwservice.Service {
	if group == "" {
		return f.servers
	}
	admitting := make([]*gwservice.Service, 0, len(f.servers))
	for _, svc := range f.servers {
		if svc.Config().AdmitsGroup(group, f.matcher) {
			admitting = append(admitting, svc)
		}
	}
	return admitting
}

// failover tries call against group's admitting servers in priority
// order. UpstreamProtocolError is terminal and returned immediately.
// Transport/Saturation/Timeout errors (gwerrors.Failover) advance to
// the next candidate. NotFound is not immediately terminal: the
// absence is only authoritative once every candidate has reported it,
// since a different server may still carry the group or article; if
// some candidates report NotFound and others report a failover-
// eligible error, the NotFound is preferred as the more informative
// signal once every candidate has been tried.
func (f *Federated) failover(group string, call func(*gwservice.Service) error) error {
	candidates := f.serversFor(group)
	if len(candidates) == 0 {
		return gwerrors.NewNotFound("server", fmt.Sprintf("no server admits group %q", group))
	}

	var lastErr, notFoundErr error
	for _, svc := range candidates {
		err := call(svc)
		if err == nil {
			return nil
		}
		if gwerrors.IsUpstreamProtocol(err) {
			return err
		}
		if gwerrors.IsNotFound(err) {
			notFoundErr = err
			continue
		}
		lastErr = err
		if f.log != nil {
			f.log.Warn("failing over to next server", "server", svc.Name(), "group", group, "error", err)
		}
	}
	if notFoundErr != nil {
		return notFoundErr
	}
	return lastErr
}
