package model

import "time"

type ArchiveReason string

const (
	ArchiveDeleted   ArchiveReason = "deleted"
	ArchiveExpired   ArchiveReason = "expired"
	ArchiveHighlight ArchiveReason = "highlight"
)

// StoryArchive 快拍快照，生命周期独立于 stories 表
type StoryArchive struct {
	ID             string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	StoryID        string        `json:"story_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	AuthorID       string        `json:"author_id" gorm:"type:varchar(36);not null;index"`
	MediaURL       string        `json:"media_url" gorm:"type:text;not null"`
	MediaType      MediaType     `json:"media_type" gorm:"type:varchar(8);not null"`
	ThumbnailURL   *string       `json:"thumbnail_url,omitempty" gorm:"type:text"`
	Caption        *string       `json:"caption,omitempty" gorm:"type:text"`
	ViewCount      int64         `json:"view_count"`
	ReactionCount  int64         `json:"reaction_count"`
	ReplyCount     int64         `json:"reply_count"`
	StoryCreatedAt time.Time     `json:"story_created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	Reason         ArchiveReason `json:"reason" gorm:"type:varchar(16);not null"`
	ArchivedAt     time.Time     `json:"archived_at"`
}

func (StoryArchive) TableName() string { return "story_archives" }

// SnapshotOf 由快拍生成归档快照
func SnapshotOf(s *Story, reason ArchiveReason, at time.Time) *StoryArchive {
	return &StoryArchive{
		StoryID:        s.ID,
		AuthorID:       s.AuthorID,
		MediaURL:       s.MediaURL,
		MediaType:      s.MediaType,
		ThumbnailURL:   s.ThumbnailURL,
		Caption:        s.Caption,
		ViewCount:      s.ViewCount,
		ReactionCount:  s.ReactionCount,
		ReplyCount:     s.ReplyCount,
		StoryCreatedAt: s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		Reason:         reason,
		ArchivedAt:     at,
	}
}

type Highlight struct {
	ID        string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AuthorID  string          `json:"author_id" gorm:"type:varchar(36);not null;index"`
	Title     string          `json:"title" gorm:"type:varchar(64);not null"`
	CoverURL  *string         `json:"cover_url,omitempty" gorm:"type:text"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Items     []HighlightItem `json:"items,omitempty" gorm:"foreignKey:HighlightID"`
}

func (Highlight) TableName() string { return "highlights" }

// HighlightItem 引用归档快照，按 Position 展示
type HighlightItem struct {
	ID          string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	HighlightID string        `json:"highlight_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_highlight_archive"`
	ArchiveID   string        `json:"archive_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_highlight_archive"`
	Position    int           `json:"position" gorm:"not null"`
	Archive     *StoryArchive `json:"archive,omitempty" gorm:"foreignKey:ArchiveID"`
}

func (HighlightItem) TableName() string { return "highlight_items" }
