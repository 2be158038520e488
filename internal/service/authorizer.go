package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/repository"
	"github.com/d60-Lab/storyline/pkg/logger"
)

// Authorizer 判断观众能否看到某条快拍。
// 查询失败时放行（fail open），避免基础设施故障把正常内容藏起来。
type Authorizer struct {
	follows  repository.FollowRepository
	audience repository.AudienceRepository
	stories  repository.StoryRepository
}

func NewAuthorizer(follows repository.FollowRepository, audience repository.AudienceRepository, stories repository.StoryRepository) *Authorizer {
	return &Authorizer{follows: follows, audience: audience, stories: stories}
}

// CanViewStory 按 ID 判断；快拍不存在时返回 false
func (a *Authorizer) CanViewStory(ctx context.Context, storyID, viewerID string) bool {
	s, err := a.stories.GetByID(ctx, storyID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if err != nil {
		logger.Warn("can view: load story failed, allow", zap.String("story_id", storyID), zap.Error(err))
		return true
	}
	return a.CanView(ctx, s, viewerID)
}

// CanView 作者本人总是可见；deny 名单总是排除；其余按 privacy 判断
func (a *Authorizer) CanView(ctx context.Context, s *model.Story, viewerID string) bool {
	if viewerID == s.AuthorID {
		return true
	}

	rows, err := a.audience.ListAudience(ctx, s.ID)
	if err != nil {
		return a.failOpen(s, viewerID, err)
	}
	var allowed bool
	for _, r := range rows {
		if r.UserID != viewerID {
			continue
		}
		if r.Mode == model.AudienceDeny {
			return false
		}
		allowed = true
	}

	switch s.Privacy {
	case model.PrivacyPublic:
		return true
	case model.PrivacyFollowers:
		ok, err := a.follows.Exists(ctx, viewerID, s.AuthorID)
		if err != nil {
			return a.failOpen(s, viewerID, err)
		}
		return ok
	case model.PrivacyCloseFriends:
		ok, err := a.audience.IsCloseFriend(ctx, s.AuthorID, viewerID)
		if err != nil {
			return a.failOpen(s, viewerID, err)
		}
		return ok
	case model.PrivacyCustom:
		return allowed
	default:
		return false
	}
}

func (a *Authorizer) failOpen(s *model.Story, viewerID string, err error) bool {
	logger.Warn("can view check failed, allow",
		zap.String("story_id", s.ID), zap.String("viewer_id", viewerID), zap.Error(err))
	return true
}
