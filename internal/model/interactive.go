package model

import "time"

type ElementType string

const (
	ElementPoll      ElementType = "poll"
	ElementQuestion  ElementType = "question"
	ElementCountdown ElementType = "countdown"
	ElementLink      ElementType = "link"
	ElementLocation  ElementType = "location"
)

// InteractiveElement 快拍上的互动贴纸；Data 为按类型校验过的 JSON
type InteractiveElement struct {
	ID        string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	StoryID   string      `json:"story_id" gorm:"type:varchar(36);not null;index"`
	Type      ElementType `json:"type" gorm:"type:varchar(16);not null"`
	Data      string      `json:"data" gorm:"type:text;not null"`
	PosX      float64     `json:"pos_x"`
	PosY      float64     `json:"pos_y"`
	CreatedAt time.Time   `json:"created_at"`
}

func (InteractiveElement) TableName() string { return "interactive_elements" }

// InteractiveResponse 每个 (element, user) 一条，后写覆盖
type InteractiveResponse struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ElementID   string    `json:"element_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_response_element_user"`
	UserID      string    `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_response_element_user"`
	OptionIndex *int      `json:"option_index,omitempty"`
	Text        *string   `json:"text,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (InteractiveResponse) TableName() string { return "interactive_responses" }
