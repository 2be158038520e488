package model

import "time"

// Follow 关注关系（follower 关注 followee），feed 按此拉取作者
type Follow struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	FollowerID string `gorm:"type:varchar(36);not null;index:idx_follow_follower;uniqueIndex:ux_follow_pair"`
	FolloweeID string `gorm:"type:varchar(36);not null;uniqueIndex:ux_follow_pair"`
	CreatedAt  time.Time
}

func (Follow) TableName() string { return "follows" }

// Fan 粉丝冗余表（user 的粉丝是 fan），实时推送按此扇出
type Fan struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"type:varchar(36);not null;index:idx_fan_user;uniqueIndex:ux_fan_pair"`
	FanID     string `gorm:"type:varchar(36);not null;uniqueIndex:ux_fan_pair"`
	CreatedAt time.Time
}

func (Fan) TableName() string { return "fans" }
