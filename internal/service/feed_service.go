package service

import (
	"context"
	"sort"

	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/cache"
	"github.com/d60-Lab/storyline/internal/model"
)

// FeedService 拉取观众的快拍流
type FeedService interface {
	// ListFeed 关注的作者 + 自己的在线快拍，按作者分组；
	// 自己的组排第一，其余按最新一条的时间倒序
	ListFeed(ctx context.Context) ([]model.StoryGroup, error)
}

type feedService struct {
	repos Repos
	authz *Authorizer
	feeds cache.FeedCache
	now   clock
}

func NewFeedService(repos Repos, authz *Authorizer, feeds cache.FeedCache, opts ...Option) FeedService {
	st := apply(opts)
	return &feedService{repos: repos, authz: authz, feeds: feeds, now: st.now}
}

func (s *feedService) ListFeed(ctx context.Context) ([]model.StoryGroup, error) {
	viewer, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	if s.feeds != nil {
		if groups, ok := s.feeds.Get(ctx, viewer); ok {
			return groups, nil
		}
	}

	authors, err := s.repos.Follows.FolloweeIDs(ctx, viewer)
	if err != nil {
		return nil, err
	}
	authors = append(authors, viewer)
	stories, err := s.repos.Stories.ListLiveByAuthors(ctx, authors, s.now())
	if err != nil {
		return nil, err
	}

	visible := make([]*model.Story, 0, len(stories))
	ids := make([]string, 0, len(stories))
	for _, st := range stories {
		if s.authz.CanView(ctx, st, viewer) {
			visible = append(visible, st)
			ids = append(ids, st.ID)
		}
	}
	viewed, err := s.repos.Views.ViewedStoryIDs(ctx, viewer, ids)
	if err != nil {
		return nil, err
	}

	groups := groupByAuthor(visible, viewer, viewed)
	if s.feeds != nil {
		s.feeds.Set(ctx, viewer, groups)
	}
	return groups, nil
}

// groupByAuthor 输入按 created_at 升序
func groupByAuthor(stories []*model.Story, viewer string, viewed map[string]bool) []model.StoryGroup {
	index := make(map[string]int)
	groups := make([]model.StoryGroup, 0)
	for _, st := range stories {
		i, ok := index[st.AuthorID]
		if !ok {
			i = len(groups)
			index[st.AuthorID] = i
			groups = append(groups, model.StoryGroup{AuthorID: st.AuthorID})
		}
		g := &groups[i]
		g.Stories = append(g.Stories, *st)
		if st.CreatedAt.After(g.LatestAt) {
			g.LatestAt = st.CreatedAt
		}
		if st.AuthorID != viewer && !viewed[st.ID] {
			g.UnviewedCount++
			g.HasUnviewed = true
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if (a.AuthorID == viewer) != (b.AuthorID == viewer) {
			return a.AuthorID == viewer
		}
		if !a.LatestAt.Equal(b.LatestAt) {
			return a.LatestAt.After(b.LatestAt)
		}
		return a.AuthorID < b.AuthorID
	})
	return groups
}
