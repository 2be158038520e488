package model

import "time"

type StoryEventKind string

const (
	EventCreated StoryEventKind = "created"
	EventUpdated StoryEventKind = "updated"
	EventDeleted StoryEventKind = "deleted"
)

const (
	EventPending    = "pending"
	EventProcessing = "processing"
	EventDone       = "done"
)

// StoryEvent 快拍变更外发盒，由 relay 扇出到观众的实时通道
type StoryEvent struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)"`
	StoryID     string         `gorm:"type:varchar(36);not null;index"`
	AuthorID    string         `gorm:"type:varchar(36);not null;index:idx_event_author"`
	Kind        StoryEventKind `gorm:"type:varchar(16);not null"`
	Status      string         `gorm:"type:varchar(16);not null;index"` // pending, processing, done
	CreatedAt   time.Time      `gorm:"index"`
	ProcessedAt *time.Time
	Deliveries  int64
}

func (StoryEvent) TableName() string { return "story_events" }

// AllModels 迁移用
func AllModels() []any {
	return []any{
		&Story{}, &StoryView{}, &StoryReaction{}, &StoryReply{}, &StoryMention{},
		&StoryAudience{}, &CloseFriend{}, &InteractiveElement{}, &InteractiveResponse{},
		&StoryArchive{}, &Highlight{}, &HighlightItem{}, &StoryEvent{}, &Follow{}, &Fan{},
	}
}
