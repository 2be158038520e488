package service

import (
	"context"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/cache"
	"github.com/d60-Lab/storyline/internal/repository"
)

// RelationshipService 关系链与密友名单；关注关系决定 feed 的作者集合
type RelationshipService interface {
	Follow(ctx context.Context, toUserID string) error
	Unfollow(ctx context.Context, toUserID string) error
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error)

	AddCloseFriend(ctx context.Context, friendID string) error
	RemoveCloseFriend(ctx context.Context, friendID string) error
}

type relationshipService struct {
	followRepo   repository.FollowRepository
	fanRepo      repository.FanRepository
	audienceRepo repository.AudienceRepository
	replicator   *FanReplicator
	feeds        cache.FeedCache
}

func NewRelationshipService(followRepo repository.FollowRepository, fanRepo repository.FanRepository, audienceRepo repository.AudienceRepository, replicator *FanReplicator, feeds cache.FeedCache) RelationshipService {
	return &relationshipService{followRepo: followRepo, fanRepo: fanRepo, audienceRepo: audienceRepo, replicator: replicator, feeds: feeds}
}

func (s *relationshipService) Follow(ctx context.Context, toUserID string) error {
	from, err := auth.Require(ctx)
	if err != nil {
		return err
	}
	if from == toUserID {
		return apperr.Validation("cannot follow self")
	}
	if err := s.followRepo.Create(ctx, from, toUserID); err != nil {
		return err
	}
	s.invalidate(ctx, from)
	return s.replicate(ctx, true, toUserID, from)
}

func (s *relationshipService) Unfollow(ctx context.Context, toUserID string) error {
	from, err := auth.Require(ctx)
	if err != nil {
		return err
	}
	if err := s.followRepo.Delete(ctx, from, toUserID); err != nil {
		return err
	}
	s.invalidate(ctx, from)
	return s.replicate(ctx, false, toUserID, from)
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, p, size int) ([]string, error) {
	offset, limit := page(p, size)
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}

func (s *relationshipService) ListFans(ctx context.Context, userID string, p, size int) ([]string, error) {
	offset, limit := page(p, size)
	items, err := s.fanRepo.ListFans(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FanID
	}
	return res, nil
}

func (s *relationshipService) AddCloseFriend(ctx context.Context, friendID string) error {
	user, err := auth.Require(ctx)
	if err != nil {
		return err
	}
	if user == friendID {
		return apperr.Validation("cannot add self as close friend")
	}
	if err := s.audienceRepo.AddCloseFriend(ctx, user, friendID); err != nil {
		return err
	}
	s.invalidate(ctx, friendID)
	return nil
}

func (s *relationshipService) RemoveCloseFriend(ctx context.Context, friendID string) error {
	user, err := auth.Require(ctx)
	if err != nil {
		return err
	}
	if err := s.audienceRepo.RemoveCloseFriend(ctx, user, friendID); err != nil {
		return err
	}
	s.invalidate(ctx, friendID)
	return nil
}

// replicate 有 replicator 时异步写粉丝表，否则同步写
func (s *relationshipService) replicate(ctx context.Context, add bool, userID, fanID string) error {
	switch {
	case s.replicator != nil && add:
		s.replicator.EnqueueAdd(userID, fanID)
	case s.replicator != nil:
		s.replicator.EnqueueRemove(userID, fanID)
	case add:
		return s.fanRepo.Create(ctx, userID, fanID)
	default:
		return s.fanRepo.Delete(ctx, userID, fanID)
	}
	return nil
}

func (s *relationshipService) invalidate(ctx context.Context, viewerIDs ...string) {
	if s.feeds != nil {
		s.feeds.Invalidate(ctx, viewerIDs...)
	}
}
