package gwfederated

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/usenet-gateway/nntpgate/internal/gwcache"
	"github.com/usenet-gateway/nntpgate/internal/gwerrors"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
	"github.com/usenet-gateway/nntpgate/internal/gwservice"
)

// GetArticle resolves messageID from the article cache, or by failover
// across every server (the message-ID alone doesn't identify a group,
// so admission filtering doesn't apply) on miss. A cached not-found
// sentinel short-circuits without any upstream call.
func (f *Federated) GetArticle(ctx context.Context, messageID string) (gwrequest.ArticleView, error) {
	if view, ok := f.articleCache.Get(messageID); ok {
		return view, nil
	}
	if _, ok := f.notFoundCache.Get(messageID); ok {
		return gwrequest.ArticleView{}, gwerrors.NewNotFound("article", messageID)
	}

	var view gwrequest.ArticleView
	err := f.failover("", func(svc *gwservice.Service) error {
		v, err := svc.GetArticle(ctx, messageID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		if gwerrors.IsNotFound(err) {
			f.notFoundCache.Set(messageID, notFoundMarker{})
		}
		return gwrequest.ArticleView{}, err
	}
	f.articleCache.Set(messageID, view)
	return view, nil
}

// CheckArticleExists issues STAT by failover, bypassing the article
// cache (a cache hit doesn't tell us the server still has it, but a
// negative-cache hit is still authoritative within its TTL).
func (f *Federated) CheckArticleExists(ctx context.Context, messageID string) (bool, error) {
	if _, ok := f.notFoundCache.Get(messageID); ok {
		return false, nil
	}

	var exists bool
	err := f.failover("", func(svc *gwservice.Service) error {
		e, err := svc.CheckArticleExists(ctx, messageID)
		if err != nil {
			return err
		}
		exists = e
		return nil
	})
	if err != nil {
		if gwerrors.IsNotFound(err) {
			f.notFoundCache.Set(messageID, notFoundMarker{})
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// GetThreads returns group's cached thread list, running an
// incremental refresh against it first when cached, or fetching the
// full overview by failover on a cold cache.
func (f *Federated) GetThreads(ctx context.Context, group string) (gwrequest.CachedThreads, error) {
	f.refresher.MarkActive(group, f.clock)

	if cached, ok := f.threadsCache.Get(group); ok {
		updated := f.triggerIncrementalUpdate(ctx, group, cached)
		return updated, nil
	}

	var full gwrequest.CachedThreads
	err := f.failover(group, func(svc *gwservice.Service) error {
		c, err := svc.GetThreads(ctx, group)
		if err != nil {
			return err
		}
		full = c
		return nil
	})
	if err != nil {
		return gwrequest.CachedThreads{}, err
	}
	f.threadsCache.Set(group, full)
	return full, nil
}

// GetThread resolves a single thread within group, by cache or
// failover.
func (f *Federated) GetThread(ctx context.Context, group, rootMessageID string) (gwrequest.ThreadView, error) {
	f.refresher.MarkActive(group, f.clock)

	key := gwcache.Key(group, rootMessageID)
	if view, ok := f.threadCache.Get(key); ok {
		return view, nil
	}

	var view gwrequest.ThreadView
	err := f.failover(group, func(svc *gwservice.Service) error {
		v, err := svc.GetThread(ctx, group, rootMessageID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return gwrequest.ThreadView{}, err
	}
	f.threadCache.Set(key, view)
	return view, nil
}

// GetGroups returns the merged group catalog, cached under a single
// constant key and coalesced cross-server: concurrent callers sharing
// a cold cache collapse into one fan-out.
func (f *Federated) GetGroups(ctx context.Context) (gwrequest.GroupCatalog, error) {
	const cacheKey = "groups"
	if catalog, ok := f.groupsCache.Get(cacheKey); ok {
		return catalog, nil
	}

	value, err, _ := f.groupsGroup.Do(cacheKey, func() (interface{}, error) {
		return f.mergeGroups(ctx)
	})
	if err != nil {
		return gwrequest.GroupCatalog{}, err
	}
	catalog := value.(gwrequest.GroupCatalog)
	f.groupsCache.Set(cacheKey, catalog)
	return catalog, nil
}

// mergeGroups fetches every server's catalog concurrently and merges
// by group name, first server wins (by priority rank, since f.servers
// is already rank-ordered). The fan-out is a bounded-concurrency
// errgroup over the server slice, one goroutine per server.
func (f *Federated) mergeGroups(ctx context.Context) (gwrequest.GroupCatalog, error) {
	catalogs := make([]gwrequest.GroupCatalog, len(f.servers))
	errs := make([]error, len(f.servers))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, svc := range f.servers {
		i, svc := i, svc
		group.Go(func() error {
			catalog, err := svc.GetGroups(groupCtx)
			catalogs[i] = catalog
			errs[i] = err
			return nil // collect per-server errors without aborting the others
		})
	}
	_ = group.Wait()

	seen := make(map[string]bool)
	merged := gwrequest.GroupCatalog{GeneratedAt: f.clock.Now()}
	var lastErr error
	succeeded := false

	for i, svc := range f.servers {
		if errs[i] != nil {
			lastErr = errs[i]
			if f.log != nil {
				f.log.Warn("get_groups failed for server, continuing merge", "server", svc.Name(), "error", errs[i])
			}
			continue
		}
		succeeded = true
		for _, g := range catalogs[i].Groups {
			if seen[g.Name] {
				continue
			}
			seen[g.Name] = true
			merged.Groups = append(merged.Groups, g)
		}
	}
	if !succeeded {
		return gwrequest.GroupCatalog{}, lastErr
	}
	return merged, nil
}

// GetGroupStats returns group's lightweight summary, cached and
// coalesced cross-server like GetGroups.
func (f *Federated) GetGroupStats(ctx context.Context, group string) (gwrequest.GroupStats, error) {
	if stats, ok := f.statsCache.Get(group); ok {
		return stats, nil
	}

	value, err, _ := f.statsGroup.Do(group, func() (interface{}, error) {
		var stats gwrequest.GroupStats
		err := f.failover(group, func(svc *gwservice.Service) error {
			s, err := svc.GetGroupStats(ctx, group)
			if err != nil {
				return err
			}
			stats = s
			return nil
		})
		return stats, err
	})
	if err != nil {
		return gwrequest.GroupStats{}, err
	}
	stats := value.(gwrequest.GroupStats)
	f.statsCache.Set(group, stats)
	return stats, nil
}

// MarkActive records a request against group for the activity tracker
// without performing any read itself, for callers (e.g. a cache
// pre-warm path) that want to influence the background refresh period
// independently of issuing GetThreads/GetThread. Idempotent: a group
// already running a refresh loop simply has its request counted.
func (f *Federated) MarkActive(group string) {
	f.refresher.MarkActive(group, f.clock)
}

// PostArticle streams payload by failover across every server
// (posting isn't group-admission-filtered: the posted Newsgroups
// header, not ServerConfig.GroupPatterns, decides acceptance upstream).
func (f *Federated) PostArticle(ctx context.Context, payload []byte) (gwrequest.PostResult, error) {
	var result gwrequest.PostResult
	err := f.failover("", func(svc *gwservice.Service) error {
		r, err := svc.PostArticle(ctx, payload)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
