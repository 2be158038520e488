package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/repository"
)

// Repos 服务层依赖的仓储集合
type Repos struct {
	Stories    repository.StoryRepository
	Views      repository.ViewRepository
	Reactions  repository.ReactionRepository
	Replies    repository.ReplyRepository
	Audience   repository.AudienceRepository
	Elements   repository.ElementRepository
	Responses  repository.ResponseRepository
	Archives   repository.ArchiveRepository
	Highlights repository.HighlightRepository
	Events     repository.EventRepository
	Follows    repository.FollowRepository
	Fans       repository.FanRepository
}

func NewRepos(db *gorm.DB) Repos {
	return Repos{
		Stories:    repository.NewStoryRepository(db),
		Views:      repository.NewViewRepository(db),
		Reactions:  repository.NewReactionRepository(db),
		Replies:    repository.NewReplyRepository(db),
		Audience:   repository.NewAudienceRepository(db),
		Elements:   repository.NewElementRepository(db),
		Responses:  repository.NewResponseRepository(db),
		Archives:   repository.NewArchiveRepository(db),
		Highlights: repository.NewHighlightRepository(db),
		Events:     repository.NewEventRepository(db),
		Follows:    repository.NewFollowRepository(db),
		Fans:       repository.NewFanRepository(db),
	}
}

type clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// notFound 把 gorm 的记录不存在翻译成 ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(what)
	}
	return err
}

// page 页码从 1 开始
func page(p, size int) (offset, limit int) {
	if p < 1 {
		p = 1
	}
	if size < 1 {
		size = 10
	}
	if size > 100 {
		size = 100
	}
	return (p - 1) * size, size
}
