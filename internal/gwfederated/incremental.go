package gwfederated

import (
	"context"

	"github.com/usenet-gateway/nntpgate/internal/gwconfig"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
	"github.com/usenet-gateway/nntpgate/internal/gwservice"
)

// triggerIncrementalUpdate runs one incremental refresh of cached
// against the upstream high-water mark, merges any new articles in,
// and replaces the threads cache entry before returning the (possibly
// updated) value. Errors are logged and swallowed: an incremental
// refresh failing is never fatal to the read that triggered it,
// because the caller already has a valid cached value to fall back on.
func (f *Federated) triggerIncrementalUpdate(ctx context.Context, group string, cached gwrequest.CachedThreads) gwrequest.CachedThreads {
	result, err := f.getNewArticlesCoalesced(ctx, group, cached.HighWaterMark)
	if err != nil {
		if f.log != nil {
			f.log.Warn("incremental update failed, serving stale cache", "group", group, "error", err)
		}
		return cached
	}
	if len(result.Articles) == 0 {
		return cached
	}

	merged := gwrequest.MergeHeaders(flattenThreads(cached.Threads), result.Articles)
	updated := gwrequest.CachedThreads{
		Group:         group,
		Threads:       gwrequest.AssembleThreads(merged),
		HighWaterMark: maxInt64(cached.HighWaterMark, result.High),
		LastRefresh:   f.clock.Now(),
	}
	f.threadsCache.Set(group, updated)
	if f.log != nil {
		f.log.Debug("incremental update merged new articles", "group", group, "new_articles", len(result.Articles), "high_water_mark", updated.HighWaterMark)
	}
	return updated
}

// getNewArticlesCoalesced debounces per group by gwconfig.IncrementalDebounce:
// a call arriving less than the debounce after the prior one for the
// same group returns an empty result immediately, trusting the prior
// update as authoritative. Calls past the debounce window coalesce
// via singleflight so concurrent triggers for one group still issue a
// single upstream GetNewArticles.
func (f *Federated) getNewArticlesCoalesced(ctx context.Context, group string, sinceWatermark int64) (gwrequest.NewArticlesResult, error) {
	f.incrementalMu.Lock()
	now := f.clock.Now()
	last, ok := f.lastTriggered[group]
	if ok && now.Sub(last) < gwconfig.IncrementalDebounce {
		f.incrementalMu.Unlock()
		return gwrequest.NewArticlesResult{}, nil
	}
	f.lastTriggered[group] = now
	f.incrementalMu.Unlock()

	value, err, _ := f.newArticlesGroup.Do(group, func() (interface{}, error) {
		var result gwrequest.NewArticlesResult
		err := f.failover(group, func(svc *gwservice.Service) error {
			r, err := svc.GetNewArticles(ctx, group, sinceWatermark)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		return result, err
	})
	if err != nil {
		return gwrequest.NewArticlesResult{}, err
	}
	return value.(gwrequest.NewArticlesResult), nil
}

// refreshIncremental is the gwactivity.RefreshFunc bound into this
// Federated's Refresher: the low-priority background path from the
// per-group task loop. A group with no cached threads yet has nothing
// to incrementally update against, so it's skipped until a GetThreads
// call first populates the cache.
func (f *Federated) refreshIncremental(ctx context.Context, group string) {
	cached, ok := f.threadsCache.Get(group)
	if !ok {
		return
	}
	f.triggerIncrementalUpdate(ctx, group, cached)
}

func flattenThreads(threads []gwrequest.ThreadSummary) []gwrequest.ArticleHeaders {
	var headers []gwrequest.ArticleHeaders
	for _, t := range threads {
		headers = append(headers, t.Articles...)
	}
	return headers
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
