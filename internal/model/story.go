package model

import "time"

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

type Privacy string

const (
	PrivacyPublic       Privacy = "public"
	PrivacyFollowers    Privacy = "followers"
	PrivacyCloseFriends Privacy = "close_friends"
	PrivacyCustom       Privacy = "custom"
)

func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyFollowers, PrivacyCloseFriends, PrivacyCustom:
		return true
	}
	return false
}

// MaxCaptionLength 字幕上限，按字符计
const MaxCaptionLength = 2200

// Story 快拍，过期时间 = 创建时间 + DurationHours
type Story struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AuthorID      string    `json:"author_id" gorm:"type:varchar(36);not null;index:idx_story_author_expires,priority:1"`
	MediaURL      string    `json:"media_url" gorm:"type:text;not null"`
	MediaKey      string    `json:"-" gorm:"type:text"`
	MediaType     MediaType `json:"media_type" gorm:"type:varchar(8);not null"`
	ThumbnailURL  *string   `json:"thumbnail_url,omitempty" gorm:"type:text"`
	ThumbnailKey  string    `json:"-" gorm:"type:text"`
	Caption       *string   `json:"caption,omitempty" gorm:"type:text"`
	Location      *string   `json:"location,omitempty" gorm:"type:varchar(128)"`
	DurationHours int       `json:"duration_hours" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null"`
	ExpiresAt     time.Time `json:"expires_at" gorm:"not null;index:idx_story_author_expires,priority:2"`
	UpdatedAt     time.Time `json:"updated_at"`
	ViewCount     int64     `json:"view_count" gorm:"not null;default:0"`
	ReactionCount int64     `json:"reaction_count" gorm:"not null;default:0"`
	ReplyCount    int64     `json:"reply_count" gorm:"not null;default:0"`
	// 软删除标记；新建时恒为 true
	IsActive bool    `json:"is_active" gorm:"not null;default:true;index"`
	Privacy  Privacy `json:"privacy" gorm:"type:varchar(16);not null;default:'public'"`

	Width           *int     `json:"width,omitempty"`
	Height          *int     `json:"height,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	FileSizeBytes   *int64   `json:"file_size_bytes,omitempty"`

	Elements []InteractiveElement `json:"elements,omitempty" gorm:"foreignKey:StoryID"`
}

func (Story) TableName() string { return "stories" }

// IsLive 是否仍在展示期内
func (s *Story) IsLive(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// ExpiryFor 计算过期时间
func ExpiryFor(createdAt time.Time, durationHours int) time.Time {
	return createdAt.Add(time.Duration(durationHours) * time.Hour)
}

// StoryGroup 按作者聚合的在线快拍（运行时派生，不落库）
type StoryGroup struct {
	AuthorID      string    `json:"author_id"`
	Stories       []Story   `json:"stories"` // oldest first
	HasUnviewed   bool      `json:"has_unviewed"`
	UnviewedCount int       `json:"unviewed_count"`
	LatestAt      time.Time `json:"latest_at"`
}
