package gwworker

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/usenet-gateway/nntpgate/internal/gwconfig"
	"github.com/usenet-gateway/nntpgate/internal/gwerrors"
	"github.com/usenet-gateway/nntpgate/internal/gwnntp"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
)

// dispatch type-switches env to the matching protocol action, delivers
// the typed result on env's own reply channel, and returns the same
// error so serveLoop can decide whether it is transport-level (in
// which case the connection is torn down and redialed).
func (w *Worker) dispatch(ctx context.Context, env gwrequest.Envelope) error {
	switch req := env.(type) {

	case *gwrequest.GetArticleRequest:
		view, err := w.conn.Article(ctx, req.MessageID)
		err = classify(w.cfg.Name, err)
		req.Reply <- gwrequest.GetArticleResult{Article: view, Err: err}
		return err

	case *gwrequest.CheckArticleExistsRequest:
		exists, err := w.conn.Stat(ctx, req.MessageID)
		err = classify(w.cfg.Name, err)
		req.Reply <- gwrequest.CheckArticleExistsResult{Exists: exists, Err: err}
		return err

	case *gwrequest.GetThreadsRequest:
		threads, err := w.fetchThreads(ctx, req.Group)
		err = classify(w.cfg.Name, err)
		req.Reply <- gwrequest.GetThreadsResult{Threads: threads, Err: err}
		return err

	case *gwrequest.GetThreadRequest:
		view, err := w.fetchThread(ctx, req.Group, req.RootMessageID)
		err = classify(w.cfg.Name, err)
		req.Reply <- gwrequest.GetThreadResult{Thread: view, Err: err}
		return err

	case *gwrequest.GetGroupsRequest:
		catalog, err := w.fetchGroups(ctx)
		err = classify(w.cfg.Name, err)
		req.Reply <- gwrequest.GetGroupsResult{Catalog: catalog, Err: err}
		return err

	case *gwrequest.GetGroupStatsRequest:
		stats, err := w.fetchGroupStats(ctx, req.Group)
		err = classify(w.cfg.Name, err)
		req.Reply <- gwrequest.GetGroupStatsResult{Stats: stats, Err: err}
		return err

	case *gwrequest.GetNewArticlesRequest:
		result, err := w.fetchNewArticles(ctx, req.Group, req.SinceWatermark)
		err = classify(w.cfg.Name, err)
		req.Reply <- gwrequest.GetNewArticlesResult{Result: result, Err: err}
		return err

	case *gwrequest.PostArticleRequest:
		result, err := w.postArticle(ctx, req.Payload)
		err = classify(w.cfg.Name, err)
		req.Reply <- gwrequest.PostArticleResult{Result: result, Err: err}
		return err

	default:
		return errUnsupportedEnvelope
	}
}

// classify normalizes a raw gwnntp error into the gwerrors taxonomy:
// already-typed errors (NotFound, UpstreamProtocol, Timeout,
// Saturation, Cancelled) pass through unchanged; anything else is
// classified as a transport-level failure. That covers socket and
// wire-format problems, and also any unexpected status code that
// gwnntp reports as a plain error rather than a typed one.
func classify(server string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case gwerrors.IsNotFound(err), gwerrors.IsUpstreamProtocol(err),
		gwerrors.IsTimeout(err), gwerrors.IsSaturation(err), gwerrors.IsCancelled(err):
		return err
	default:
		return gwerrors.NewTransport(server, err)
	}
}

func (w *Worker) postArticle(ctx context.Context, payload []byte) (gwrequest.PostResult, error) {
	if !w.capabilities.CanPost() {
		return gwrequest.PostResult{Outcome: gwrequest.PostNotPermitted}, nil
	}
	if w.cfg.MaxPostBytes > 0 && int64(len(payload)) > w.cfg.MaxPostBytes {
		return gwrequest.PostResult{Outcome: gwrequest.PostRejected, Detail: "article exceeds configured size limit"}, nil
	}
	return w.conn.Post(ctx, payload)
}

func (w *Worker) fetchGroups(ctx context.Context) (gwrequest.GroupCatalog, error) {
	activeLines, err := w.conn.List(ctx, gwnntp.ListActive)
	if err != nil {
		return gwrequest.GroupCatalog{}, err
	}

	order := make([]string, 0, len(activeLines))
	groups := make(map[string]gwrequest.GroupInfo, len(activeLines))
	for _, line := range activeLines {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue // malformed line: skip rather than fail the whole catalog
		}
		name := fields[0]
		if _, exists := groups[name]; exists {
			continue // first occurrence wins
		}
		high := parseArticleNumber(fields[1])
		low := parseArticleNumber(fields[2])
		groups[name] = gwrequest.GroupInfo{
			Name:           name,
			First:          low,
			Last:           high,
			Count:          countOrZero(high, low),
			PostingAllowed: strings.EqualFold(fields[3], "y"),
		}
		order = append(order, name)
	}

	if newsgroupLines, err := w.conn.List(ctx, gwnntp.ListNewsgroups); err == nil {
		for _, line := range newsgroupLines {
			name, description, ok := strings.Cut(line, " ")
			if !ok {
				continue
			}
			info, exists := groups[name]
			if !exists {
				continue
			}
			info.Description = strings.TrimSpace(description)
			groups[name] = info
		}
	}

	catalog := gwrequest.GroupCatalog{
		Groups:      make([]gwrequest.GroupInfo, 0, len(order)),
		GeneratedAt: w.clock.Now(),
	}
	for _, name := range order {
		catalog.Groups = append(catalog.Groups, groups[name])
	}
	return catalog, nil
}

func (w *Worker) fetchGroupStats(ctx context.Context, group string) (gwrequest.GroupStats, error) {
	rng, err := w.conn.Group(ctx, group)
	if err != nil {
		return gwrequest.GroupStats{}, err
	}
	stats := gwrequest.GroupStats{Group: group, LastArticleNumber: rng.Last}
	if rng.Last < rng.First || rng.Last == 0 {
		return stats, nil
	}

	if w.capabilities.HasHdr {
		dates, err := w.conn.Hdr(ctx, "Date", rng.Last, rng.Last)
		if err == nil {
			if raw, ok := dates[rng.Last]; ok {
				if date := gwnntp.ParseDate(raw); !date.IsZero() {
					stats.LastArticleDate = &date
				}
			}
			return stats, nil
		}
		// HDR unexpectedly failed despite being advertised: fall through
		// to HEAD rather than losing the date entirely.
	}

	headers, err := w.conn.Head(ctx, articleNumberRef(rng.Last))
	if err != nil {
		// Falling back to just the number is fine; the date is advisory.
		return stats, nil
	}
	if !headers.Date.IsZero() {
		date := headers.Date
		stats.LastArticleDate = &date
	}
	return stats, nil
}

func (w *Worker) fetchNewArticles(ctx context.Context, group string, sinceWatermark int64) (gwrequest.NewArticlesResult, error) {
	rng, err := w.conn.Group(ctx, group)
	if err != nil {
		return gwrequest.NewArticlesResult{}, err
	}
	if rng.Last <= sinceWatermark {
		return gwrequest.NewArticlesResult{High: rng.Last}, nil
	}

	first := sinceWatermark + 1
	if first < rng.First {
		first = rng.First
	}

	headers, err := w.fetchHeaderRange(ctx, first, rng.Last)
	if err != nil {
		return gwrequest.NewArticlesResult{}, err
	}
	return gwrequest.NewArticlesResult{High: rng.Last, Articles: headers}, nil
}

func (w *Worker) fetchThreads(ctx context.Context, group string) (gwrequest.CachedThreads, error) {
	rng, err := w.conn.Group(ctx, group)
	if err != nil {
		return gwrequest.CachedThreads{}, err
	}
	headers, err := w.fetchHeaderRange(ctx, rng.First, rng.Last)
	if err != nil {
		return gwrequest.CachedThreads{}, err
	}

	threads := assembleThreads(headers)
	return gwrequest.CachedThreads{
		Group:         group,
		Threads:       threads,
		HighWaterMark: rng.Last,
		LastRefresh:   w.clock.Now(),
	}, nil
}

func (w *Worker) fetchThread(ctx context.Context, group, rootMessageID string) (gwrequest.ThreadView, error) {
	rng, err := w.conn.Group(ctx, group)
	if err != nil {
		return gwrequest.ThreadView{}, err
	}
	headers, err := w.fetchHeaderRange(ctx, rng.First, rng.Last)
	if err != nil {
		return gwrequest.ThreadView{}, err
	}

	members := membersOf(rootMessageID, headers)
	if len(members) == 0 {
		return gwrequest.ThreadView{}, gwerrors.NewNotFound("thread", rootMessageID)
	}

	var root gwrequest.ArticleHeaders
	for _, h := range members {
		if h.MessageID == rootMessageID {
			root = h
			break
		}
	}
	return gwrequest.ThreadView{Group: group, Root: root, Articles: members}, nil
}

// fetchHeaderRange retrieves headers for [first, last] using the most
// efficient method the connection's capabilities support: OVER, then
// HDR, then a rate-limited, capped per-article HEAD fallback.
func (w *Worker) fetchHeaderRange(ctx context.Context, first, last int64) ([]gwrequest.ArticleHeaders, error) {
	if last < first {
		return nil, nil
	}

	switch w.capabilities.ThreadFetchMethod() {
	case gwrequest.FetchOver:
		rows, err := w.conn.Over(ctx, first, last)
		if err != nil {
			return nil, err
		}
		headers := make([]gwrequest.ArticleHeaders, 0, len(rows))
		for _, row := range rows {
			headers = append(headers, row.Headers)
		}
		return headers, nil

	case gwrequest.FetchHdr:
		return w.fetchViaHdr(ctx, first, last)

	default:
		return w.fetchViaHeadFallback(ctx, first, last)
	}
}

func (w *Worker) fetchViaHdr(ctx context.Context, first, last int64) ([]gwrequest.ArticleHeaders, error) {
	subjects, err := w.conn.Hdr(ctx, "Subject", first, last)
	if err != nil {
		return nil, err
	}
	froms, _ := w.conn.Hdr(ctx, "From", first, last)
	messageIDs, err := w.conn.Hdr(ctx, "Message-ID", first, last)
	if err != nil {
		return nil, err
	}
	dates, _ := w.conn.Hdr(ctx, "Date", first, last)
	references, _ := w.conn.Hdr(ctx, "References", first, last)

	headers := make([]gwrequest.ArticleHeaders, 0, len(messageIDs))
	for number, messageID := range messageIDs {
		h := gwrequest.ArticleHeaders{
			Number:    number,
			MessageID: messageID,
			Subject:   gwnntp.DecodeHeaderValue(subjects[number]),
			From:      gwnntp.DecodeHeaderValue(froms[number]),
		}
		if refs, ok := references[number]; ok {
			h.References = splitHdrReferences(refs)
		}
		if date, ok := dates[number]; ok {
			h.Date = gwnntp.ParseDate(date)
		}
		headers = append(headers, h)
	}
	return headers, nil
}

func (w *Worker) fetchViaHeadFallback(ctx context.Context, first, last int64) ([]gwrequest.ArticleHeaders, error) {
	count := last - first + 1
	if count > int64(gwconfig.HeadFallbackCap) {
		last = first + int64(gwconfig.HeadFallbackCap) - 1
	}

	headers := make([]gwrequest.ArticleHeaders, 0, last-first+1)
	issuedThisSecond := 0
	windowStart := w.clock.Now()

	for number := first; number <= last; number++ {
		if issuedThisSecond >= gwconfig.HeadFallbackRateLimit {
			elapsed := w.clock.Now().Sub(windowStart)
			if elapsed < time.Second {
				w.clock.Sleep(time.Second - elapsed)
			}
			issuedThisSecond = 0
			windowStart = w.clock.Now()
		}

		h, err := w.conn.Head(ctx, articleNumberRef(number))
		issuedThisSecond++
		if err != nil {
			if gwerrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		h.Number = number
		headers = append(headers, h)
	}
	return headers, nil
}

func parseArticleNumber(field string) int64 {
	n, _ := strconv.ParseInt(field, 10, 64)
	return n
}

func countOrZero(high, low int64) int64 {
	if high < low {
		return 0
	}
	return high - low + 1
}

// articleNumberRef formats an article number as the bare decimal
// argument HEAD/ARTICLE accept in place of a message-ID when no
// message-ID is known, per RFC 3977's numeric-article-in-group form.
func articleNumberRef(number int64) string {
	return strconv.FormatInt(number, 10)
}

func splitHdrReferences(value string) []string {
	fields := strings.Fields(value)
	refs := make([]string, 0, len(fields))
	for _, f := range fields {
		if !strings.HasPrefix(f, "<") {
			f = "<" + f
		}
		if !strings.HasSuffix(f, ">") {
			f = f + ">"
		}
		refs = append(refs, f)
	}
	return refs
}
