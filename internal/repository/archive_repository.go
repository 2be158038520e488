package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/storyline/internal/model"
)

type ArchiveRepository interface {
	// Ensure 不存在时写入快照，存在时返回已有快照
	Ensure(ctx context.Context, a *model.StoryArchive) (*model.StoryArchive, error)
	GetByID(ctx context.Context, id string) (*model.StoryArchive, error)
	ListByAuthor(ctx context.Context, authorID string, offset, limit int) ([]*model.StoryArchive, error)
}

type archiveRepository struct{ db *gorm.DB }

func NewArchiveRepository(db *gorm.DB) ArchiveRepository { return &archiveRepository{db: db} }

func (r *archiveRepository) Ensure(ctx context.Context, a *model.StoryArchive) (*model.StoryArchive, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(a).Error; err != nil {
		return nil, err
	}
	var out model.StoryArchive
	if err := r.db.WithContext(ctx).Where("story_id = ?", a.StoryID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *archiveRepository) GetByID(ctx context.Context, id string) (*model.StoryArchive, error) {
	var a model.StoryArchive
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *archiveRepository) ListByAuthor(ctx context.Context, authorID string, offset, limit int) ([]*model.StoryArchive, error) {
	var res []*model.StoryArchive
	err := r.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("story_created_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

type HighlightRepository interface {
	Create(ctx context.Context, h *model.Highlight) error
	GetByID(ctx context.Context, id string) (*model.Highlight, error)
	ListByAuthor(ctx context.Context, authorID string) ([]*model.Highlight, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
	// AddItem 追加到末尾；已存在时不重复
	AddItem(ctx context.Context, highlightID, archiveID string) error
	RemoveItem(ctx context.Context, highlightID, archiveID string) error
	// Reorder 按 archiveIDs 顺序重写 position
	Reorder(ctx context.Context, highlightID string, archiveIDs []string) error
}

type highlightRepository struct{ db *gorm.DB }

func NewHighlightRepository(db *gorm.DB) HighlightRepository { return &highlightRepository{db: db} }

func (r *highlightRepository) Create(ctx context.Context, h *model.Highlight) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(h).Error
}

func (r *highlightRepository) GetByID(ctx context.Context, id string) (*model.Highlight, error) {
	var h model.Highlight
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Items.Archive").
		Where("id = ?", id).
		First(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *highlightRepository) ListByAuthor(ctx context.Context, authorID string) ([]*model.Highlight, error) {
	var res []*model.Highlight
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Items.Archive").
		Where("author_id = ?", authorID).
		Order("created_at DESC").
		Find(&res).Error
	return res, err
}

func (r *highlightRepository) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&model.Highlight{}).Where("id = ?", id).Updates(fields).Error
}

func (r *highlightRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("highlight_id = ?", id).Delete(&model.HighlightItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Highlight{}).Error
	})
}

func (r *highlightRepository) AddItem(ctx context.Context, highlightID, archiveID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		if err := tx.Model(&model.HighlightItem{}).
			Where("highlight_id = ?", highlightID).
			Select("COALESCE(MAX(position), -1)").
			Row().Scan(&last); err != nil {
			return err
		}
		item := &model.HighlightItem{ID: uuid.New().String(), HighlightID: highlightID, ArchiveID: archiveID, Position: last + 1}
		return tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(item).Error
	})
}

func (r *highlightRepository) RemoveItem(ctx context.Context, highlightID, archiveID string) error {
	return r.db.WithContext(ctx).
		Where("highlight_id = ? AND archive_id = ?", highlightID, archiveID).
		Delete(&model.HighlightItem{}).Error
}

func (r *highlightRepository) Reorder(ctx context.Context, highlightID string, archiveIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for pos, archiveID := range archiveIDs {
			if err := tx.Model(&model.HighlightItem{}).
				Where("highlight_id = ? AND archive_id = ?", highlightID, archiveID).
				Update("position", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
