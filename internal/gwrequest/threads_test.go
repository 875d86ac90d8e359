package gwrequest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAssembleThreadsGroupsByReferences(t *testing.T) {
	now := time.Now()
	headers := []ArticleHeaders{
		{MessageID: "<root@a>", Number: 1, Date: now},
		{MessageID: "<reply@a>", Number: 2, References: []string{"<root@a>"}, Date: now.Add(time.Minute)},
	}
	threads := AssembleThreads(headers)
	require.Len(t, threads, 1)
	require.Equal(t, "<root@a>", threads[0].RootMessageID)
	require.Len(t, threads[0].Articles, 2)
}

func TestMergeHeadersFreshWinsOnConflict(t *testing.T) {
	existing := []ArticleHeaders{{MessageID: "<a@x>", Number: 1, Subject: "old"}}
	fresh := []ArticleHeaders{{MessageID: "<a@x>", Number: 1, Subject: "new"}, {MessageID: "<b@x>", Number: 2}}

	merged := MergeHeaders(existing, fresh)
	require.Len(t, merged, 2)
	require.Equal(t, "new", merged[0].Subject)
}

func TestThreadMembersUnknownRoot(t *testing.T) {
	headers := []ArticleHeaders{{MessageID: "<a@x>", Number: 1}}
	require.Nil(t, ThreadMembers("<missing@x>", headers))
}
