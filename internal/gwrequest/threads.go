package gwrequest

import "sort"

// AssembleThreads groups a flat header list into threads by
// References chain: an article belongs to the thread rooted at the
// earliest message-ID in its own References header that is present in
// headers, or at its first reference when none is present, or to its
// own thread if it has no References. Threads are ordered by most-recent-article-time
// descending, with article-number descending as the tiebreak when two
// threads' most recent articles share a timestamp (or both have a
// zero timestamp because the Date header was missing or malformed).
//
// Used both by a single server's Worker (assembling one server's
// overview into threads) and by Federated (re-assembling after an
// incremental refresh merges new headers into a cached set).
func AssembleThreads(headers []ArticleHeaders) []ThreadSummary {
	byID := make(map[string]ArticleHeaders, len(headers))
	for _, h := range headers {
		if h.MessageID != "" {
			byID[h.MessageID] = h
		}
	}

	rootOf := make(map[string]string, len(headers))
	for _, h := range headers {
		rootOf[h.MessageID] = threadRoot(h, byID)
	}

	grouped := make(map[string][]ArticleHeaders)
	for _, h := range headers {
		root := rootOf[h.MessageID]
		grouped[root] = append(grouped[root], h)
	}

	threads := make([]ThreadSummary, 0, len(grouped))
	for root, members := range grouped {
		sort.Slice(members, func(i, j int) bool { return members[i].Number < members[j].Number })

		summary := ThreadSummary{
			RootMessageID: root,
			Articles:      members,
		}
		if rootHeader, ok := byID[root]; ok {
			summary.Subject = rootHeader.Subject
		} else if len(members) > 0 {
			summary.Subject = members[0].Subject
		}
		for _, m := range members {
			if m.Number > summary.LastArticleNumber {
				summary.LastArticleNumber = m.Number
			}
			if m.Date.After(summary.LastArticleTime) {
				summary.LastArticleTime = m.Date
			}
		}
		threads = append(threads, summary)
	}

	sort.Slice(threads, func(i, j int) bool {
		a, b := threads[i], threads[j]
		if !a.LastArticleTime.Equal(b.LastArticleTime) {
			return a.LastArticleTime.After(b.LastArticleTime)
		}
		return a.LastArticleNumber > b.LastArticleNumber
	})
	return threads
}

// threadRoot walks h's References chain to the earliest ancestor
// present in byID. It returns h's own message-ID if h has no
// References, and h's first reference if none of them resolve within
// the fetched range.
func threadRoot(h ArticleHeaders, byID map[string]ArticleHeaders) string {
	if len(h.References) == 0 {
		return h.MessageID
	}
	for _, ref := range h.References {
		if _, ok := byID[ref]; ok {
			return ref
		}
	}
	// None of the referenced ancestors were fetched (they may have
	// expired off the server); the oldest reference is still the best
	// available thread key even though its header is unknown.
	return h.References[0]
}

// ThreadMembers returns every header in headers whose thread root (per
// AssembleThreads' grouping rule) is rootMessageID, ordered by article
// number ascending.
func ThreadMembers(rootMessageID string, headers []ArticleHeaders) []ArticleHeaders {
	threads := AssembleThreads(headers)
	for _, t := range threads {
		if t.RootMessageID == rootMessageID {
			return t.Articles
		}
	}
	return nil
}

// MergeHeaders combines existing and fresh article headers, deduping
// by Message-ID with fresh entries winning on conflict (a later fetch
// should only ever see the same or more complete data for a given
// article), and returns the union ready for AssembleThreads.
func MergeHeaders(existing, fresh []ArticleHeaders) []ArticleHeaders {
	byID := make(map[string]ArticleHeaders, len(existing)+len(fresh))
	order := make([]string, 0, len(existing)+len(fresh))
	for _, h := range existing {
		if _, seen := byID[h.MessageID]; !seen {
			order = append(order, h.MessageID)
		}
		byID[h.MessageID] = h
	}
	for _, h := range fresh {
		if _, seen := byID[h.MessageID]; !seen {
			order = append(order, h.MessageID)
		}
		byID[h.MessageID] = h
	}
	merged := make([]ArticleHeaders, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return merged
}
