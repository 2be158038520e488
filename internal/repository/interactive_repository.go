package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/storyline/internal/model"
)

type ElementRepository interface {
	CreateBatch(ctx context.Context, elements []model.InteractiveElement) error
	DeleteByStory(ctx context.Context, storyID string) error
	GetByID(ctx context.Context, id string) (*model.InteractiveElement, error)
	ListByStory(ctx context.Context, storyID string) ([]*model.InteractiveElement, error)
}

type elementRepository struct{ db *gorm.DB }

func NewElementRepository(db *gorm.DB) ElementRepository { return &elementRepository{db: db} }

func (r *elementRepository) CreateBatch(ctx context.Context, elements []model.InteractiveElement) error {
	if len(elements) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&elements).Error
}

func (r *elementRepository) DeleteByStory(ctx context.Context, storyID string) error {
	return r.db.WithContext(ctx).Where("story_id = ?", storyID).Delete(&model.InteractiveElement{}).Error
}

func (r *elementRepository) GetByID(ctx context.Context, id string) (*model.InteractiveElement, error) {
	var el model.InteractiveElement
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&el).Error; err != nil {
		return nil, err
	}
	return &el, nil
}

func (r *elementRepository) ListByStory(ctx context.Context, storyID string) ([]*model.InteractiveElement, error) {
	var res []*model.InteractiveElement
	err := r.db.WithContext(ctx).Where("story_id = ?", storyID).Order("created_at ASC").Find(&res).Error
	return res, err
}

type ResponseRepository interface {
	// Upsert 冲突键 (element_id, user_id)，后写覆盖
	Upsert(ctx context.Context, resp *model.InteractiveResponse) error
	// CountOptions 统计投票每个选项的票数
	CountOptions(ctx context.Context, elementID string) (map[int]int64, error)
	ListByElement(ctx context.Context, elementID string, offset, limit int) ([]*model.InteractiveResponse, error)
}

type responseRepository struct{ db *gorm.DB }

func NewResponseRepository(db *gorm.DB) ResponseRepository { return &responseRepository{db: db} }

func (r *responseRepository) Upsert(ctx context.Context, resp *model.InteractiveResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.New().String()
	}
	resp.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "element_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"option_index", "text", "updated_at"}),
	}).Create(resp).Error
}

func (r *responseRepository) CountOptions(ctx context.Context, elementID string) (map[int]int64, error) {
	type row struct {
		OptionIndex int
		Votes       int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&model.InteractiveResponse{}).
		Select("option_index, COUNT(*) AS votes").
		Where("element_id = ? AND option_index IS NOT NULL", elementID).
		Group("option_index").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int]int64, len(rows))
	for _, rw := range rows {
		out[rw.OptionIndex] = rw.Votes
	}
	return out, nil
}

func (r *responseRepository) ListByElement(ctx context.Context, elementID string, offset, limit int) ([]*model.InteractiveResponse, error) {
	var res []*model.InteractiveResponse
	err := r.db.WithContext(ctx).
		Where("element_id = ?", elementID).
		Order("updated_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}
