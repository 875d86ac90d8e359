package gwworker

import (
	"context"
	"time"

	"github.com/usenet-gateway/nntpgate/internal/gwerrors"
	"github.com/usenet-gateway/nntpgate/internal/gwnntp"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
)

// fakeConn is an in-memory gwnntp.Conn used to exercise Worker dispatch
// without a real socket. Only the fields a given test populates matter.
type fakeConn struct {
	greeting     gwnntp.Greeting
	capabilities gwrequest.Capabilities
	groups       map[string]gwnntp.GroupRange
	articles     map[string]gwrequest.ArticleView
	heads        map[string]gwrequest.ArticleHeaders
	overview     map[string][]gwnntp.OverviewRow // keyed by group
	postOutcome  gwrequest.PostResult
	postErr      error
	dateErr      error
	closed       bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		groups:   make(map[string]gwnntp.GroupRange),
		articles: make(map[string]gwrequest.ArticleView),
		heads:    make(map[string]gwrequest.ArticleHeaders),
		overview: make(map[string][]gwnntp.OverviewRow),
	}
}

func (c *fakeConn) Greeting() gwnntp.Greeting { return c.greeting }

func (c *fakeConn) Capabilities(ctx context.Context) (gwrequest.Capabilities, error) {
	return c.capabilities, nil
}

func (c *fakeConn) ModeReader(ctx context.Context) error { return nil }

func (c *fakeConn) Authenticate(ctx context.Context, creds gwrequest.Credentials) error { return nil }

func (c *fakeConn) Group(ctx context.Context, name string) (gwnntp.GroupRange, error) {
	rng, ok := c.groups[name]
	if !ok {
		return gwnntp.GroupRange{}, gwerrors.NewNotFound("group", name)
	}
	return rng, nil
}

func (c *fakeConn) Article(ctx context.Context, messageID string) (gwrequest.ArticleView, error) {
	view, ok := c.articles[messageID]
	if !ok {
		return gwrequest.ArticleView{}, gwerrors.NewNotFound("article", messageID)
	}
	return view, nil
}

func (c *fakeConn) Head(ctx context.Context, messageID string) (gwrequest.ArticleHeaders, error) {
	headers, ok := c.heads[messageID]
	if !ok {
		return gwrequest.ArticleHeaders{}, gwerrors.NewNotFound("article", messageID)
	}
	return headers, nil
}

func (c *fakeConn) Stat(ctx context.Context, messageID string) (bool, error) {
	_, ok := c.articles[messageID]
	if !ok {
		_, ok = c.heads[messageID]
	}
	return ok, nil
}

func (c *fakeConn) Over(ctx context.Context, first, last int64) ([]gwnntp.OverviewRow, error) {
	var matched []gwnntp.OverviewRow
	for _, rows := range c.overview {
		for _, row := range rows {
			if row.Number >= first && row.Number <= last {
				matched = append(matched, row)
			}
		}
	}
	return matched, nil
}

func (c *fakeConn) Hdr(ctx context.Context, field string, first, last int64) (map[int64]string, error) {
	result := make(map[int64]string)
	rows, _ := c.Over(ctx, first, last)
	for _, row := range rows {
		switch field {
		case "Subject":
			result[row.Number] = row.Headers.Subject
		case "From":
			result[row.Number] = row.Headers.From
		case "Message-ID":
			result[row.Number] = row.Headers.MessageID
		}
	}
	return result, nil
}

func (c *fakeConn) List(ctx context.Context, variant gwnntp.ListVariant) ([]string, error) {
	return nil, nil
}

func (c *fakeConn) Post(ctx context.Context, payload []byte) (gwrequest.PostResult, error) {
	return c.postOutcome, c.postErr
}

func (c *fakeConn) Date(ctx context.Context) (time.Time, error) {
	if c.dateErr != nil {
		return time.Time{}, c.dateErr
	}
	return time.Time{}, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// fakeDialer always returns the same pre-built fakeConn.
type fakeDialer struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, cfg gwrequest.ServerConfig) (gwnntp.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}
