// Package gwnntp defines the wire-level NNTP interface the gateway
// core dispatches protocol actions against, plus the one concrete
// implementation this repo ships (built on net/textproto, since no
// NNTP client library appears anywhere in the retrieval pack). Worker
// code is written against the Conn interface so tests can substitute a
// fake connection instead of a real socket.
package gwnntp

import (
	"context"
	"time"

	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
)

// GroupRange is the result of a GROUP command.
type GroupRange struct {
	First int64
	Last  int64
	Count int64
}

// OverviewRow is one parsed line of an OVER/XOVER response.
type OverviewRow struct {
	Number  int64
	Headers gwrequest.ArticleHeaders
}

// ListVariant names a LIST subcommand.
type ListVariant string

const (
	ListActive     ListVariant = "ACTIVE"
	ListNewsgroups ListVariant = "NEWSGROUPS"
)

// Greeting captures the server's banner line.
type Greeting struct {
	Code               int
	Text               string
	PostingAllowed     bool // code 200, vs. 201 (reading-only)
}

// Conn is the set of protocol operations a Worker needs from an
// upstream NNTP connection. One Conn is owned exclusively by one
// Worker for its lifetime; Conn implementations are not safe for
// concurrent use by multiple goroutines.
type Conn interface {
	// Greeting returns the banner captured during Dial.
	Greeting() Greeting

	// Capabilities issues CAPABILITIES and parses the response.
	Capabilities(ctx context.Context) (gwrequest.Capabilities, error)

	// ModeReader issues MODE READER. Some servers require it before
	// serving article bodies; others reject it once already in
	// reader mode, which callers should treat as non-fatal.
	ModeReader(ctx context.Context) error

	// Authenticate issues AUTHINFO USER/PASS.
	Authenticate(ctx context.Context, creds gwrequest.Credentials) error

	// Group issues GROUP <name>.
	Group(ctx context.Context, name string) (GroupRange, error)

	// Article fetches the full article (headers + body) by message-ID.
	Article(ctx context.Context, messageID string) (gwrequest.ArticleView, error)

	// Head fetches only the header block by message-ID.
	Head(ctx context.Context, messageID string) (gwrequest.ArticleHeaders, error)

	// Stat reports whether messageID exists without fetching content.
	Stat(ctx context.Context, messageID string) (bool, error)

	// Over fetches overview rows for the article number range [first, last].
	Over(ctx context.Context, first, last int64) ([]OverviewRow, error)

	// Hdr fetches a single header field for every article number in
	// [first, last], keyed by article number.
	Hdr(ctx context.Context, field string, first, last int64) (map[int64]string, error)

	// List fetches a LIST variant's raw multiline body.
	List(ctx context.Context, variant ListVariant) ([]string, error)

	// Post streams payload as a new article. Returns the outcome
	// classified from the 340/240/441 sequence.
	Post(ctx context.Context, payload []byte) (gwrequest.PostResult, error)

	// Date issues the lightweight DATE command, used for idle probing.
	Date(ctx context.Context) (time.Time, error)

	// Close releases the underlying socket.
	Close() error
}

// Dialer opens a new Conn to one upstream server; tests inject a fake.
// DialNetwork has the same signature as Dial and opens a real socket;
// this package has no type that wraps it as a Dialer.
type Dialer interface {
	Dial(ctx context.Context, cfg gwrequest.ServerConfig) (Conn, error)
}
