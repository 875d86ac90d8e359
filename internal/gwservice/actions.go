package gwservice

import (
	"context"

	"github.com/usenet-gateway/nntpgate/internal/gwcache"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
)

// GetArticle fetches one article by message-ID, coalescing concurrent
// callers requesting the same message-ID.
func (s *Service) GetArticle(ctx context.Context, messageID string) (gwrequest.ArticleView, error) {
	value, err := s.doCoalesced(ctx, gwrequest.ActionGetArticle, messageID, func() (interface{}, error) {
		reply := make(chan gwrequest.GetArticleResult, 1)
		req := &gwrequest.GetArticleRequest{MessageID: messageID, Reply: reply}
		if err := s.enqueue(req); err != nil {
			return nil, err
		}
		result := <-reply
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Article, nil
	})
	if err != nil {
		return gwrequest.ArticleView{}, err
	}
	return value.(gwrequest.ArticleView), nil
}

// CheckArticleExists issues STAT for messageID.
func (s *Service) CheckArticleExists(ctx context.Context, messageID string) (bool, error) {
	value, err := s.doCoalesced(ctx, gwrequest.ActionCheckArticleExists, messageID, func() (interface{}, error) {
		reply := make(chan gwrequest.CheckArticleExistsResult, 1)
		req := &gwrequest.CheckArticleExistsRequest{MessageID: messageID, Reply: reply}
		if err := s.enqueue(req); err != nil {
			return nil, err
		}
		result := <-reply
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Exists, nil
	})
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

// GetThread resolves a single thread rooted at rootMessageID within group.
func (s *Service) GetThread(ctx context.Context, group, rootMessageID string) (gwrequest.ThreadView, error) {
	key := gwcache.Key(group, rootMessageID)
	value, err := s.doCoalesced(ctx, gwrequest.ActionGetThread, key, func() (interface{}, error) {
		reply := make(chan gwrequest.GetThreadResult, 1)
		req := &gwrequest.GetThreadRequest{Group: group, RootMessageID: rootMessageID, Reply: reply}
		if err := s.enqueue(req); err != nil {
			return nil, err
		}
		result := <-reply
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Thread, nil
	})
	if err != nil {
		return gwrequest.ThreadView{}, err
	}
	return value.(gwrequest.ThreadView), nil
}

// GetThreads fetches the full (or capped) thread overview for group.
func (s *Service) GetThreads(ctx context.Context, group string) (gwrequest.CachedThreads, error) {
	value, err := s.doCoalesced(ctx, gwrequest.ActionGetThreads, group, func() (interface{}, error) {
		reply := make(chan gwrequest.GetThreadsResult, 1)
		req := &gwrequest.GetThreadsRequest{Group: group, Reply: reply}
		if err := s.enqueue(req); err != nil {
			return nil, err
		}
		result := <-reply
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Threads, nil
	})
	if err != nil {
		return gwrequest.CachedThreads{}, err
	}
	return value.(gwrequest.CachedThreads), nil
}

// GetGroups fetches this server's merged group catalog.
func (s *Service) GetGroups(ctx context.Context) (gwrequest.GroupCatalog, error) {
	value, err := s.doCoalesced(ctx, gwrequest.ActionGetGroups, "groups", func() (interface{}, error) {
		reply := make(chan gwrequest.GetGroupsResult, 1)
		req := &gwrequest.GetGroupsRequest{Reply: reply}
		if err := s.enqueue(req); err != nil {
			return nil, err
		}
		result := <-reply
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Catalog, nil
	})
	if err != nil {
		return gwrequest.GroupCatalog{}, err
	}
	return value.(gwrequest.GroupCatalog), nil
}

// GetGroupStats fetches the lightweight per-group summary.
func (s *Service) GetGroupStats(ctx context.Context, group string) (gwrequest.GroupStats, error) {
	value, err := s.doCoalesced(ctx, gwrequest.ActionGetGroupStats, group, func() (interface{}, error) {
		reply := make(chan gwrequest.GetGroupStatsResult, 1)
		req := &gwrequest.GetGroupStatsRequest{Group: group, Reply: reply}
		if err := s.enqueue(req); err != nil {
			return nil, err
		}
		result := <-reply
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Stats, nil
	})
	if err != nil {
		return gwrequest.GroupStats{}, err
	}
	return value.(gwrequest.GroupStats), nil
}

// GetNewArticles fetches overview rows beyond sinceWatermark. Never
// coalesced: each caller's watermark is its own.
func (s *Service) GetNewArticles(ctx context.Context, group string, sinceWatermark int64) (gwrequest.NewArticlesResult, error) {
	value, err := s.doCoalesced(ctx, gwrequest.ActionGetNewArticles, "", func() (interface{}, error) {
		reply := make(chan gwrequest.GetNewArticlesResult, 1)
		req := &gwrequest.GetNewArticlesRequest{Group: group, SinceWatermark: sinceWatermark, Reply: reply}
		if err := s.enqueue(req); err != nil {
			return nil, err
		}
		result := <-reply
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Result, nil
	})
	if err != nil {
		return gwrequest.NewArticlesResult{}, err
	}
	return value.(gwrequest.NewArticlesResult), nil
}

// PostArticle streams payload to the server as a new article. Never
// coalesced: every POST is a distinct write with its own outcome.
func (s *Service) PostArticle(ctx context.Context, payload []byte) (gwrequest.PostResult, error) {
	value, err := s.doCoalesced(ctx, gwrequest.ActionPostArticle, "", func() (interface{}, error) {
		reply := make(chan gwrequest.PostArticleResult, 1)
		req := &gwrequest.PostArticleRequest{Payload: payload, Reply: reply}
		if err := s.enqueue(req); err != nil {
			return nil, err
		}
		result := <-reply
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Result, nil
	})
	if err != nil {
		return gwrequest.PostResult{}, err
	}
	return value.(gwrequest.PostResult), nil
}
