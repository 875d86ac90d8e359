// Package gwconfig holds the timing knobs used across the gateway
// core: queue aging, cache TTLs, activity-tracker bucket sizing, and
// the background-refresh period curve. Parsing these out of a config
// file is outside this package's job — that lives with the caller.
package gwconfig

import "time"

// These are the gateway's default timing constants; nothing here is a
// package-level mutable global. This package has no override type:
// every consumer reads these constants directly.
const (
	// AgingWindow bounds how long a Low-priority request can be
	// starved by continuous High/Normal traffic before the worker's
	// dequeue loop forces a Low dequeue.
	AgingWindow = 10 * time.Second

	// RequestTimeout bounds how long a caller of a Service action
	// method waits for its result, time spent queueing included.
	RequestTimeout = 30 * time.Second

	// QueueSendTimeout bounds how long Service.enqueue blocks trying to push
	// onto a full priority queue before returning a saturation error.
	QueueSendTimeout = 2 * time.Second

	// QueueCapacity is the bounded channel size for each of the three
	// priority queues.
	QueueCapacity = 256

	// ConnectTimeout bounds a single dial+greet+capabilities attempt,
	// distinct from RequestTimeout.
	ConnectTimeout = 10 * time.Second

	// ReconnectBackoffFloor and ReconnectBackoffCeiling bound the
	// exponential backoff applied between reconnect attempts.
	ReconnectBackoffFloor   = 250 * time.Millisecond
	ReconnectBackoffCeiling = 30 * time.Second

	// ShutdownDrainDeadline bounds how long graceful shutdown waits
	// for outstanding requests before aborting.
	ShutdownDrainDeadline = 30 * time.Second

	// ArticleCacheTTL, ArticleNotFoundCacheTTL, ThreadsCacheTTL,
	// ThreadCacheTTL, GroupsCacheTTL, and GroupStatsCacheTTL are the
	// default per-cache TTLs.
	ArticleCacheTTL         = 6 * time.Hour
	ArticleNotFoundCacheTTL = 60 * time.Second
	ThreadsCacheTTL         = 5 * time.Minute
	ThreadCacheTTL          = 5 * time.Minute
	GroupsCacheTTL          = time.Hour
	GroupStatsCacheTTL      = 5 * time.Minute

	// DefaultCacheMaxEntries bounds cache size when a specific cache
	// doesn't override it.
	DefaultCacheMaxEntries = 4096

	// IncrementalDebounce is the minimum spacing between two
	// incremental GetNewArticles calls for the same group.
	IncrementalDebounce = time.Second

	// ActivityBuckets and ActivityWindow size the per-group ring
	// buffer: ActivityWindow / ActivityBuckets seconds per bucket.
	ActivityBuckets = 150
	ActivityWindow  = 5 * time.Minute

	// ActivityHighRPS is the request rate at which the background
	// refresh period bottoms out at MinRefreshPeriod.
	ActivityHighRPS = 10000.0

	// MinRefreshPeriod and MaxRefreshPeriod bound the activity-driven
	// background refresh loop's sleep interval.
	MinRefreshPeriod = time.Second
	MaxRefreshPeriod = 30 * time.Second

	// HeadFallbackRateLimit caps per-second HEAD commands issued when
	// a server advertises neither OVER nor HDR and GetThreads must
	// fall back to per-article HEAD.
	HeadFallbackRateLimit = 20

	// HeadFallbackCap is the maximum number of articles a single
	// GetThreads call will HEAD-fetch via the fallback strategy.
	HeadFallbackCap = 500
)

// BucketWidth returns ActivityWindow divided into ActivityBuckets
// equal-width buckets.
func BucketWidth() time.Duration {
	return ActivityWindow / time.Duration(ActivityBuckets)
}
