package model

import "time"

// User 用户（注册即全站互相关注，见 SubscribeToAll）
type User struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username  string `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email     string `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	Age       int    `json:"age"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }
