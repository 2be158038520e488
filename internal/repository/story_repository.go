package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/storyline/internal/model"
)

// StoryRepository 快拍仓储
type StoryRepository interface {
	Create(ctx context.Context, s *model.Story) error
	// Delete 物理删除（仅用于创建失败回滚）
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*model.Story, error)
	// UpdateFields 更新 caption / privacy 等字段
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	// ListLiveByAuthors 查询作者们在 now 时刻仍在线的快拍（按创建时间升序）
	ListLiveByAuthors(ctx context.Context, authorIDs []string, now time.Time) ([]*model.Story, error)
	// ListExpiredUnarchived 查询已过期且尚未归档的快拍
	ListExpiredUnarchived(ctx context.Context, now time.Time, limit int) ([]*model.Story, error)
	// SoftDelete 在一个事务里置 is_active=false、写归档快照、写外发事件
	SoftDelete(ctx context.Context, id string, archive *model.StoryArchive, event *model.StoryEvent) error

	IncrementViews(ctx context.Context, id string) error
	IncrementReactions(ctx context.Context, id string) error
	DecrementReactions(ctx context.Context, id string) error
	IncrementReplies(ctx context.Context, id string) error
}

type storyRepository struct{ db *gorm.DB }

func NewStoryRepository(db *gorm.DB) StoryRepository { return &storyRepository{db: db} }

func (r *storyRepository) Create(ctx context.Context, s *model.Story) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(s).Error
}

func (r *storyRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Story{}).Error
}

func (r *storyRepository) GetByID(ctx context.Context, id string) (*model.Story, error) {
	var s model.Story
	if err := r.db.WithContext(ctx).Preload("Elements").Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *storyRepository) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&model.Story{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *storyRepository) ListLiveByAuthors(ctx context.Context, authorIDs []string, now time.Time) ([]*model.Story, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	var res []*model.Story
	err := r.db.WithContext(ctx).
		Preload("Elements").
		Where("author_id IN ? AND is_active = ? AND expires_at > ?", authorIDs, true, now).
		Order("created_at ASC").
		Find(&res).Error
	return res, err
}

func (r *storyRepository) ListExpiredUnarchived(ctx context.Context, now time.Time, limit int) ([]*model.Story, error) {
	var res []*model.Story
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Where("NOT EXISTS (SELECT 1 FROM story_archives a WHERE a.story_id = stories.id)").
		Order("expires_at ASC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *storyRepository) SoftDelete(ctx context.Context, id string, archive *model.StoryArchive, event *model.StoryEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Story{}).Where("id = ? AND is_active = ?", id, true).Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if archive != nil {
			if archive.ID == "" {
				archive.ID = uuid.New().String()
			}
			// 已归档（例如先被加入精选）时保留原快照，仅更新原因
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "story_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"reason", "view_count", "reaction_count", "reply_count"}),
			}).Create(archive).Error; err != nil {
				return err
			}
		}
		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *storyRepository) IncrementViews(ctx context.Context, id string) error {
	return r.bump(ctx, id, "view_count", 1)
}

func (r *storyRepository) IncrementReactions(ctx context.Context, id string) error {
	return r.bump(ctx, id, "reaction_count", 1)
}

func (r *storyRepository) DecrementReactions(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.Story{}).
		Where("id = ? AND reaction_count > 0", id).
		UpdateColumn("reaction_count", gorm.Expr("reaction_count - 1")).Error
}

func (r *storyRepository) IncrementReplies(ctx context.Context, id string) error {
	return r.bump(ctx, id, "reply_count", 1)
}

// bump 原子计数，避免读改写
func (r *storyRepository) bump(ctx context.Context, id, column string, delta int) error {
	return r.db.WithContext(ctx).Model(&model.Story{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
}
