package service

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/repository"
)

// Publisher 负责事务内写快拍变更 + 外发事件
type Publisher struct{ db *gorm.DB }

func NewPublisher(db *gorm.DB) *Publisher { return &Publisher{db: db} }

// AudienceChange 为 nil 表示名单不变
type AudienceChange struct {
	Allow []string
	Deny  []string
}

// PublishUpdate 在一个事务内更新字段、替换名单并落地 updated 事件
func (p *Publisher) PublishUpdate(ctx context.Context, s *model.Story, fields map[string]any, audience *AudienceChange) (*model.StoryEvent, error) {
	ev := repository.NewStoryEvent(s.ID, s.AuthorID, model.EventUpdated)
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(fields) > 0 {
			fields["updated_at"] = time.Now().UTC()
			if err := tx.Model(&model.Story{}).Where("id = ?", s.ID).Updates(fields).Error; err != nil {
				return err
			}
		}
		if audience != nil {
			if err := tx.Where("story_id = ?", s.ID).Delete(&model.StoryAudience{}).Error; err != nil {
				return err
			}
			if rows := repository.AudienceRows(s.ID, audience.Allow, audience.Deny); len(rows) > 0 {
				if err := tx.Create(&rows).Error; err != nil {
					return err
				}
			}
		}
		return tx.Create(ev).Error
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}
