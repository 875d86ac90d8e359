package gwworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usenet-gateway/nntpgate/internal/gwclock"
	"github.com/usenet-gateway/nntpgate/internal/gwerrors"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
)

func newTestWorker(t *testing.T, conn *fakeConn) (*Worker, chan gwrequest.Envelope, chan gwrequest.Envelope, chan gwrequest.Envelope, *gwclock.FakeClock) {
	t.Helper()
	clock := gwclock.Fake(time.Unix(0, 0))
	high := make(chan gwrequest.Envelope, 8)
	normal := make(chan gwrequest.Envelope, 8)
	low := make(chan gwrequest.Envelope, 8)

	cfg := gwrequest.ServerConfig{Name: "test-server"}
	dialer := &fakeDialer{conn: conn}
	w := New(cfg, dialer, clock, nil, high, normal, low)
	return w, high, normal, low, clock
}

func TestWorkerConnectSetsReady(t *testing.T) {
	conn := newFakeConn()
	conn.capabilities = gwrequest.Capabilities{HasOver: true, HasPost: true}
	w, _, _, _, _ := newTestWorker(t, conn)

	err := w.connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateReady, w.State())
}

func TestWorkerDispatchGetArticle(t *testing.T) {
	conn := newFakeConn()
	conn.articles["<mid@example.com>"] = gwrequest.ArticleView{
		Headers: gwrequest.ArticleHeaders{MessageID: "<mid@example.com>", Subject: "hi"},
		Raw:     []byte("Subject: hi\r\n\r\nbody"),
	}
	w, _, _, _, _ := newTestWorker(t, conn)
	require.NoError(t, w.connect(context.Background()))

	reply := make(chan gwrequest.GetArticleResult, 1)
	req := &gwrequest.GetArticleRequest{MessageID: "<mid@example.com>", Reply: reply}

	err := w.dispatch(context.Background(), req)
	require.NoError(t, err)

	result := <-reply
	require.NoError(t, result.Err)
	require.Equal(t, "hi", result.Article.Headers.Subject)
}

func TestWorkerDispatchGetArticleNotFound(t *testing.T) {
	conn := newFakeConn()
	w, _, _, _, _ := newTestWorker(t, conn)
	require.NoError(t, w.connect(context.Background()))

	reply := make(chan gwrequest.GetArticleResult, 1)
	req := &gwrequest.GetArticleRequest{MessageID: "<missing@example.com>", Reply: reply}

	err := w.dispatch(context.Background(), req)
	require.NoError(t, err) // NotFound is not a transport failure

	result := <-reply
	require.Error(t, result.Err)
}

func TestWorkerDequeuePrefersHighOverNormal(t *testing.T) {
	conn := newFakeConn()
	w, high, normal, _, _ := newTestWorker(t, conn)

	highReq := &gwrequest.GetArticleRequest{Reply: make(chan gwrequest.GetArticleResult, 1)}
	normalReq := &gwrequest.GetThreadsRequest{Reply: make(chan gwrequest.GetThreadsResult, 1)}
	normal <- normalReq
	high <- highReq

	env, cancelled, err := w.dequeue(context.Background())
	require.NoError(t, err)
	require.False(t, cancelled)
	require.Same(t, highReq, env)
}

func TestWorkerDequeueAgingForcesLow(t *testing.T) {
	conn := newFakeConn()
	w, high, _, low, clock := newTestWorker(t, conn)

	lowReq := &gwrequest.GetGroupStatsRequest{Reply: make(chan gwrequest.GetGroupStatsResult, 1)}
	low <- lowReq

	w.lastLowAt = clock.Now()
	clock.Advance(11 * time.Second) // past AgingWindow

	highReq := &gwrequest.GetArticleRequest{Reply: make(chan gwrequest.GetArticleResult, 1)}
	high <- highReq

	env, cancelled, err := w.dequeue(context.Background())
	require.NoError(t, err)
	require.False(t, cancelled)
	require.Same(t, lowReq, env, "aging window elapsed: low must be served even though high is also ready")
}

func TestWorkerDequeueReturnsCancelledOnCancel(t *testing.T) {
	conn := newFakeConn()
	w, _, _, _, _ := newTestWorker(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, cancelled, err := w.dequeue(ctx)
	require.NoError(t, err)
	require.True(t, cancelled)
}

func TestWorkerDequeueIdleProbeDetectsDeadConnection(t *testing.T) {
	conn := newFakeConn()
	conn.dateErr = errors.New("connection reset by peer")
	w, _, _, _, clock := newTestWorker(t, conn)
	w.conn = conn
	w.cfg.IdleProbeInterval = time.Second
	w.lastLowAt = clock.Now()
	w.lastActivityAt = clock.Now().Add(-2 * time.Second) // already past the probe interval

	_, cancelled, err := w.dequeue(context.Background())
	require.False(t, cancelled)
	require.Error(t, err)
	require.True(t, gwerrors.IsTransport(err))
}

func TestWorkerDequeueIdleProbeSucceedsAndKeepsServing(t *testing.T) {
	conn := newFakeConn()
	conn.articles["<mid@example.com>"] = gwrequest.ArticleView{
		Headers: gwrequest.ArticleHeaders{MessageID: "<mid@example.com>"},
	}
	w, high, _, _, clock := newTestWorker(t, conn)
	w.conn = conn
	w.cfg.IdleProbeInterval = time.Second
	w.lastLowAt = clock.Now()
	w.lastActivityAt = clock.Now().Add(-2 * time.Second)

	// The probe fires and succeeds before any envelope is queued;
	// queue an envelope only after giving dequeue a moment to consume
	// the probe by running it in a goroutine.
	done := make(chan struct{})
	var env gwrequest.Envelope
	var cancelled bool
	var derr error
	go func() {
		env, cancelled, derr = w.dequeue(context.Background())
		close(done)
	}()

	req := &gwrequest.GetArticleRequest{MessageID: "<mid@example.com>", Reply: make(chan gwrequest.GetArticleResult, 1)}
	high <- req

	<-done
	require.NoError(t, derr)
	require.False(t, cancelled)
	require.Same(t, req, env)
}

func TestWorkerPostArticleRespectsMaxPostBytes(t *testing.T) {
	conn := newFakeConn()
	conn.capabilities = gwrequest.Capabilities{HasPost: true}
	w, _, _, _, _ := newTestWorker(t, conn)
	w.cfg.MaxPostBytes = 4
	require.NoError(t, w.connect(context.Background()))
	w.capabilities.HasPost = true

	result, err := w.postArticle(context.Background(), []byte("too long"))
	require.NoError(t, err)
	require.Equal(t, gwrequest.PostRejected, result.Outcome)
}

func TestWorkerFetchGroupsEmptyListReturnsEmptyCatalog(t *testing.T) {
	conn := newFakeConn()
	w, _, _, _, _ := newTestWorker(t, conn)
	require.NoError(t, w.connect(context.Background()))

	// List returns nothing from the fake by default; verify the
	// no-groups path doesn't error.
	catalog, err := w.fetchGroups(context.Background())
	require.NoError(t, err)
	require.Empty(t, catalog.Groups)
}
