package gwerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	require.True(t, IsNotFound(NewNotFound("article", "<m1>")))
	require.True(t, IsUpstreamProtocol(NewUpstreamProtocol("POST", 441, "posting failed")))
	require.True(t, IsTransport(NewTransport("news-a", fmt.Errorf("eof"))))
	require.True(t, IsSaturation(NewSaturation("news-a", "high")))
	require.True(t, IsTimeout(NewTimeout("news-a", 0)))
	require.True(t, IsCancelled(NewCancelled()))
}

func TestErrorPredicatesFalseForUnrelated(t *testing.T) {
	t.Parallel()

	other := fmt.Errorf("boom")
	require.False(t, IsNotFound(other))
	require.False(t, IsTransport(other))
	require.False(t, IsSaturation(other))
}

func TestErrorPredicatesThroughWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("submit: %w", NewTransport("news-a", fmt.Errorf("reset")))
	require.True(t, IsTransport(wrapped))
	require.True(t, Failover(wrapped))

	notFound := fmt.Errorf("get article: %w", NewNotFound("article", "<m1>"))
	require.False(t, Failover(notFound))
}
