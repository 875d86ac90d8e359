// Package gwrequest holds the data model and request envelope types
// shared between the worker, service, and federated layers: priorities,
// server configuration, capabilities, and the domain views (articles,
// threads, groups) that flow back to callers.
package gwrequest

import "time"

// Priority is one of the three classes a Worker's dequeue loop serves.
// Lower values are served first except where the aging rule forces a
// Low dequeue.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ActionKind identifies the semantic action a request performs,
// independent of which concrete envelope type carries it.
type ActionKind string

const (
	ActionGetArticle         ActionKind = "get_article"
	ActionCheckArticleExists ActionKind = "check_article_exists"
	ActionGetThread          ActionKind = "get_thread"
	ActionGetThreads         ActionKind = "get_threads"
	ActionGetGroups          ActionKind = "get_groups"
	ActionGetGroupStats      ActionKind = "get_group_stats"
	ActionGetNewArticles     ActionKind = "get_new_articles"
	ActionPostArticle        ActionKind = "post_article"
)

// Priority reports the fixed priority class each action kind is queued at.
func (a ActionKind) Priority() Priority {
	switch a {
	case ActionGetArticle, ActionGetThread, ActionPostArticle, ActionCheckArticleExists:
		return PriorityHigh
	case ActionGetThreads, ActionGetGroups:
		return PriorityNormal
	case ActionGetGroupStats, ActionGetNewArticles:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Coalesced reports whether the service layer should collapse
// concurrent identical requests for this action kind.
func (a ActionKind) Coalesced() bool {
	return a != ActionGetNewArticles && a != ActionPostArticle
}

// TLSMode selects how a Worker dials its upstream connection.
type TLSMode int

const (
	TLSNone TLSMode = iota
	TLSImplicit
	TLSStartTLS
)

// Credentials authenticates a Worker's connection after capabilities
// are retrieved, when the server requires it.
type Credentials struct {
	Username string
	Password string
}

// GroupMatcher decides whether pattern admits group. The default
// implementation treats pattern as a shell glob (see gwnntp.GlobMatcher);
// callers may substitute any predicate.
type GroupMatcher func(pattern, group string) bool

// ServerConfig is immutable once built at startup and describes one
// upstream NNTP server in a federation.
type ServerConfig struct {
	Name          string
	Host          string
	Port          int
	TLSMode       TLSMode
	Credentials   *Credentials
	WorkerCount   int
	PriorityRank  int // lower rank is tried first within a federation
	GroupPatterns []string

	// MaxPostBytes rejects oversized POST bodies locally before the
	// round-trip, when non-zero (supplemented feature).
	MaxPostBytes int64

	// IdleProbeInterval issues a lightweight command on an otherwise
	// idle connection to detect half-open sockets early. Zero disables
	// the probe (supplemented feature).
	IdleProbeInterval time.Duration
}

// AdmitsGroup reports whether any of cfg's group patterns match group,
// using matcher as the predicate. An empty pattern set admits every
// group (the server carries the full catalog).
func (cfg ServerConfig) AdmitsGroup(group string, matcher GroupMatcher) bool {
	if len(cfg.GroupPatterns) == 0 {
		return true
	}
	for _, pattern := range cfg.GroupPatterns {
		if matcher(pattern, group) {
			return true
		}
	}
	return false
}

// ThreadFetchMethod is the strategy a Worker selects for batch header
// retrieval based on advertised Capabilities.
type ThreadFetchMethod int

const (
	FetchOver ThreadFetchMethod = iota
	FetchHdr
	FetchHead
)

func (m ThreadFetchMethod) String() string {
	switch m {
	case FetchOver:
		return "over"
	case FetchHdr:
		return "hdr"
	case FetchHead:
		return "head"
	default:
		return "unknown"
	}
}

// Capabilities records what a connected server advertises. Refreshed on
// every (re)connect.
type Capabilities struct {
	HasOver            bool
	HasHdr             bool
	HasPost            bool
	GreetingAllowsPost bool
	ListVariants       map[string]bool
	Retrieved          bool
}

// ThreadFetchMethod picks the most efficient strategy Capabilities supports.
func (c Capabilities) ThreadFetchMethod() ThreadFetchMethod {
	switch {
	case c.HasOver:
		return FetchOver
	case c.HasHdr:
		return FetchHdr
	default:
		return FetchHead
	}
}

// CanPost reports whether posting is available, either advertised in
// capabilities or inferred from the connection greeting.
func (c Capabilities) CanPost() bool {
	return c.HasPost || c.GreetingAllowsPost
}

// ArticleHeaders carries the parsed headers a thread/overview view
// needs. References holds the parsed References header as individual
// message-IDs, oldest first.
type ArticleHeaders struct {
	MessageID  string
	Number     int64
	Subject    string
	From       string
	Date       time.Time
	References []string
	Xref       string
	Bytes      int
	Lines      int
}

// ArticleView is the cached representation of a fetched article.
type ArticleView struct {
	Headers ArticleHeaders
	Raw     []byte // full article, header block plus body, as returned by ARTICLE
}

// ThreadSummary is one thread within a group's cached thread list.
type ThreadSummary struct {
	RootMessageID     string
	Subject           string
	Articles          []ArticleHeaders // article number ascending
	LastArticleNumber int64
	LastArticleTime   time.Time
}

// CachedThreads is the federated cache's per-group thread list plus the
// high-water mark incremental refresh advances from.
type CachedThreads struct {
	Group         string
	Threads       []ThreadSummary
	HighWaterMark int64
	LastRefresh   time.Time
}

// ThreadView is the resolved view of a single thread rooted at a
// message-ID, returned by GetThread.
type ThreadView struct {
	Group    string
	Root     ArticleHeaders
	Articles []ArticleHeaders
}

// GroupInfo is one entry in the merged group catalog.
type GroupInfo struct {
	Name           string
	Description    string
	First          int64
	Last           int64
	Count          int64
	PostingAllowed bool
}

// GroupCatalog is the merged LIST ACTIVE / LIST NEWSGROUPS result.
type GroupCatalog struct {
	Groups      []GroupInfo
	GeneratedAt time.Time
}

// GroupStats is the lightweight per-group summary GetGroupStats returns.
type GroupStats struct {
	Group             string
	LastArticleNumber int64
	LastArticleDate   *time.Time
}

// PostOutcome classifies how the upstream server handled a POST.
type PostOutcome int

const (
	PostAccepted PostOutcome = iota
	PostRejected
	PostNotPermitted
)

func (o PostOutcome) String() string {
	switch o {
	case PostAccepted:
		return "accepted"
	case PostRejected:
		return "rejected"
	case PostNotPermitted:
		return "not_permitted"
	default:
		return "unknown"
	}
}

// PostResult is the outcome of a PostArticle call.
type PostResult struct {
	Outcome   PostOutcome
	MessageID string
	Detail    string
}

// NewArticlesResult is what GetNewArticles yields: the group's current
// high article number and any overview rows beyond the caller's
// watermark.
type NewArticlesResult struct {
	High     int64
	Articles []ArticleHeaders
}
