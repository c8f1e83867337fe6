package model

import (
	"strconv"
	"time"
)

// Feed 内容主体；缓存中以 hash 投影存储，落库前停留在 write-behind 缓冲
type Feed struct {
	UUID      string    `gorm:"primaryKey;type:varchar(36)" json:"uuid"`
	UserID    string    `gorm:"type:varchar(36);index:idx_feed_user;not null" json:"user_id"`
	Comment   string    `gorm:"type:varchar(500)" json:"comment"`
	CreatedAt time.Time `gorm:"index:idx_feed_created" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Feed) TableName() string { return "feeds" }

// Score 时间线排序分值（毫秒时间戳，同时用作分页游标）
func (f *Feed) Score() int64 { return f.CreatedAt.UnixMilli() }

// ToProjection redis hash 投影字段
func (f *Feed) ToProjection() map[string]interface{} {
	return map[string]interface{}{
		"uuid":       f.UUID,
		"user_id":    f.UserID,
		"comment":    f.Comment,
		"created_at": strconv.FormatInt(f.CreatedAt.UnixMilli(), 10),
		"updated_at": strconv.FormatInt(f.UpdatedAt.UnixMilli(), 10),
	}
}

// FeedFromProjection 从 hash 投影还原；投影不完整时返回 ok=false
func FeedFromProjection(fields map[string]string) (*Feed, bool) {
	if len(fields) == 0 || fields["uuid"] == "" {
		return nil, false
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, false
	}
	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		updated = created
	}
	return &Feed{
		UUID:      fields["uuid"],
		UserID:    fields["user_id"],
		Comment:   fields["comment"],
		CreatedAt: time.UnixMilli(created),
		UpdatedAt: time.UnixMilli(updated),
	}, true
}
