package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/storyline/internal/model"
)

type ViewRepository interface {
	// InsertIfAbsent 唯一约束兜底；重复插入返回 inserted=false 且不报错
	InsertIfAbsent(ctx context.Context, v *model.StoryView) (inserted bool, err error)
	// ViewedStoryIDs 返回 viewer 已看过的 storyIDs 子集
	ViewedStoryIDs(ctx context.Context, viewerID string, storyIDs []string) (map[string]bool, error)
	ListByStory(ctx context.Context, storyID string, offset, limit int) ([]*model.StoryView, error)
}

type viewRepository struct{ db *gorm.DB }

func NewViewRepository(db *gorm.DB) ViewRepository { return &viewRepository{db: db} }

func (r *viewRepository) InsertIfAbsent(ctx context.Context, v *model.StoryView) (bool, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(v)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *viewRepository) ViewedStoryIDs(ctx context.Context, viewerID string, storyIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(storyIDs))
	if len(storyIDs) == 0 {
		return out, nil
	}
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&model.StoryView{}).
		Where("viewer_id = ? AND story_id IN ?", viewerID, storyIDs).
		Pluck("story_id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *viewRepository) ListByStory(ctx context.Context, storyID string, offset, limit int) ([]*model.StoryView, error) {
	var res []*model.StoryView
	err := r.db.WithContext(ctx).
		Where("story_id = ?", storyID).
		Order("viewed_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

type ReactionRepository interface {
	// Upsert 首次反应 created=true；再次反应只覆盖 emoji
	Upsert(ctx context.Context, storyID, userID, emoji string) (created bool, err error)
	Delete(ctx context.Context, storyID, userID string) (deleted bool, err error)
}

type reactionRepository struct{ db *gorm.DB }

func NewReactionRepository(db *gorm.DB) ReactionRepository { return &reactionRepository{db: db} }

func (r *reactionRepository) Upsert(ctx context.Context, storyID, userID, emoji string) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.StoryReaction{
			ID: uuid.New().String(), StoryID: storyID, UserID: userID, Emoji: emoji,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			created = true
			return nil
		}
		return tx.Model(&model.StoryReaction{}).
			Where("story_id = ? AND user_id = ?", storyID, userID).
			Update("emoji", emoji).Error
	})
	return created, err
}

func (r *reactionRepository) Delete(ctx context.Context, storyID, userID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("story_id = ? AND user_id = ?", storyID, userID).
		Delete(&model.StoryReaction{})
	return res.RowsAffected > 0, res.Error
}

type ReplyRepository interface {
	Create(ctx context.Context, reply *model.StoryReply) error
	ListByStory(ctx context.Context, storyID string, offset, limit int) ([]*model.StoryReply, error)
}

type replyRepository struct{ db *gorm.DB }

func NewReplyRepository(db *gorm.DB) ReplyRepository { return &replyRepository{db: db} }

func (r *replyRepository) Create(ctx context.Context, reply *model.StoryReply) error {
	if reply.ID == "" {
		reply.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(reply).Error
}

func (r *replyRepository) ListByStory(ctx context.Context, storyID string, offset, limit int) ([]*model.StoryReply, error) {
	var res []*model.StoryReply
	err := r.db.WithContext(ctx).
		Where("story_id = ?", storyID).
		Order("created_at ASC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

// AudienceRepository 可见名单、@提及、密友
type AudienceRepository interface {
	ReplaceAudience(ctx context.Context, storyID string, allow, deny []string) error
	ListAudience(ctx context.Context, storyID string) ([]*model.StoryAudience, error)
	DeleteAudience(ctx context.Context, storyID string) error

	CreateMentions(ctx context.Context, storyID string, userIDs []string) error
	DeleteMentions(ctx context.Context, storyID string) error

	AddCloseFriend(ctx context.Context, userID, friendID string) error
	RemoveCloseFriend(ctx context.Context, userID, friendID string) error
	IsCloseFriend(ctx context.Context, userID, friendID string) (bool, error)
}

type audienceRepository struct{ db *gorm.DB }

func NewAudienceRepository(db *gorm.DB) AudienceRepository { return &audienceRepository{db: db} }

func (r *audienceRepository) ReplaceAudience(ctx context.Context, storyID string, allow, deny []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("story_id = ?", storyID).Delete(&model.StoryAudience{}).Error; err != nil {
			return err
		}
		rows := AudienceRows(storyID, allow, deny)
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// AudienceRows 构造名单行，去重且 deny 优先
func AudienceRows(storyID string, allow, deny []string) []model.StoryAudience {
	rows := make([]model.StoryAudience, 0, len(allow)+len(deny))
	seen := make(map[string]bool, len(allow)+len(deny))
	for _, id := range deny {
		if !seen[id] {
			seen[id] = true
			rows = append(rows, model.StoryAudience{ID: uuid.New().String(), StoryID: storyID, UserID: id, Mode: model.AudienceDeny})
		}
	}
	for _, id := range allow {
		if !seen[id] {
			seen[id] = true
			rows = append(rows, model.StoryAudience{ID: uuid.New().String(), StoryID: storyID, UserID: id, Mode: model.AudienceAllow})
		}
	}
	return rows
}

func (r *audienceRepository) ListAudience(ctx context.Context, storyID string) ([]*model.StoryAudience, error) {
	var res []*model.StoryAudience
	err := r.db.WithContext(ctx).Where("story_id = ?", storyID).Find(&res).Error
	return res, err
}

func (r *audienceRepository) DeleteAudience(ctx context.Context, storyID string) error {
	return r.db.WithContext(ctx).Where("story_id = ?", storyID).Delete(&model.StoryAudience{}).Error
}

func (r *audienceRepository) CreateMentions(ctx context.Context, storyID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]model.StoryMention, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, model.StoryMention{ID: uuid.New().String(), StoryID: storyID, UserID: id})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (r *audienceRepository) DeleteMentions(ctx context.Context, storyID string) error {
	return r.db.WithContext(ctx).Where("story_id = ?", storyID).Delete(&model.StoryMention{}).Error
}

func (r *audienceRepository) AddCloseFriend(ctx context.Context, userID, friendID string) error {
	cf := &model.CloseFriend{ID: uuid.New().String(), UserID: userID, FriendID: friendID}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(cf).Error
}

func (r *audienceRepository) RemoveCloseFriend(ctx context.Context, userID, friendID string) error {
	return r.db.WithContext(ctx).Where("user_id = ? AND friend_id = ?", userID, friendID).Delete(&model.CloseFriend{}).Error
}

func (r *audienceRepository) IsCloseFriend(ctx context.Context, userID, friendID string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.CloseFriend{}).
		Where("user_id = ? AND friend_id = ?", userID, friendID).
		Count(&cnt).Error
	return cnt > 0, err
}
