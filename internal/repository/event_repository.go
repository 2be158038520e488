package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/storyline/internal/model"
)

// EventRepository 快拍变更外发盒
type EventRepository interface {
	Append(ctx context.Context, storyID, authorID string, kind model.StoryEventKind) (*model.StoryEvent, error)
	// Claim 领取一批 pending 事件并置为 processing
	Claim(ctx context.Context, limit int) ([]*model.StoryEvent, error)
	MarkDone(ctx context.Context, id string, deliveries int64) error
}

type eventRepository struct{ db *gorm.DB }

func NewEventRepository(db *gorm.DB) EventRepository { return &eventRepository{db: db} }

// NewStoryEvent 构造待发送事件（供事务内直接写入）
func NewStoryEvent(storyID, authorID string, kind model.StoryEventKind) *model.StoryEvent {
	return &model.StoryEvent{
		ID:        uuid.New().String(),
		StoryID:   storyID,
		AuthorID:  authorID,
		Kind:      kind,
		Status:    model.EventPending,
		CreatedAt: time.Now().UTC(),
	}
}

func (r *eventRepository) Append(ctx context.Context, storyID, authorID string, kind model.StoryEventKind) (*model.StoryEvent, error) {
	ev := NewStoryEvent(storyID, authorID, kind)
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

func (r *eventRepository) Claim(ctx context.Context, limit int) ([]*model.StoryEvent, error) {
	var batch []*model.StoryEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.EventPending).Order("created_at").Limit(limit)
		// sqlite 不支持行锁
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
			b.Status = model.EventProcessing
		}
		return tx.Model(&model.StoryEvent{}).Where("id IN ?", ids).Update("status", model.EventProcessing).Error
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *eventRepository) MarkDone(ctx context.Context, id string, deliveries int64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.StoryEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.EventDone, "processed_at": now, "deliveries": deliveries}).Error
}
