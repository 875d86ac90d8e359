package gwworker

import "github.com/usenet-gateway/nntpgate/internal/gwrequest"

// assembleThreads and membersOf are thin aliases over the shared
// gwrequest thread-assembly helpers, kept local so dispatch.go reads
// naturally alongside the rest of this package's protocol-action code.
func assembleThreads(headers []gwrequest.ArticleHeaders) []gwrequest.ThreadSummary {
	return gwrequest.AssembleThreads(headers)
}

func membersOf(rootMessageID string, headers []gwrequest.ArticleHeaders) []gwrequest.ArticleHeaders {
	return gwrequest.ThreadMembers(rootMessageID, headers)
}
