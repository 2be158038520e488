package model

import "time"

// StoryView 观看记录，(story_id, viewer_id) 唯一
type StoryView struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	StoryID    string    `json:"story_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_view_story_viewer"`
	ViewerID   string    `json:"viewer_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_view_story_viewer;index:idx_view_viewer"`
	DurationMs int64     `json:"duration_ms"`
	Completed  bool      `json:"completed"`
	ViewedAt   time.Time `json:"viewed_at"`
}

func (StoryView) TableName() string { return "story_views" }

// StoryReaction 每人每条快拍一条反应，重复反应覆盖 emoji
type StoryReaction struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	StoryID   string    `json:"story_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_reaction_story_user"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_reaction_story_user"`
	Emoji     string    `json:"emoji" gorm:"type:varchar(32);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StoryReaction) TableName() string { return "story_reactions" }

type StoryReply struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	StoryID   string    `json:"story_id" gorm:"type:varchar(36);not null;index"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null"`
	Text      string    `json:"text" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (StoryReply) TableName() string { return "story_replies" }

type StoryMention struct {
	ID      string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	StoryID string `json:"story_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_mention_story_user"`
	UserID  string `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_mention_story_user"`
}

func (StoryMention) TableName() string { return "story_mentions" }

type AudienceMode string

const (
	AudienceAllow AudienceMode = "allow"
	AudienceDeny  AudienceMode = "deny"
)

// StoryAudience 单条快拍的可见名单（allow / deny）
type StoryAudience struct {
	ID      string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	StoryID string       `json:"story_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_audience_story_user"`
	UserID  string       `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:ux_audience_story_user"`
	Mode    AudienceMode `json:"mode" gorm:"type:varchar(8);not null"`
}

func (StoryAudience) TableName() string { return "story_audiences" }

// CloseFriend 作者维护的密友名单
type CloseFriend struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_close_friend_pair"`
	FriendID  string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_close_friend_pair"`
	CreatedAt time.Time
}

func (CloseFriend) TableName() string { return "close_friends" }
