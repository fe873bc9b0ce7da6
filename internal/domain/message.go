package domain

import "time"

// ChatMessage 表示房间内的一条聊天消息，创建后不可修改。
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BoardID   uint      `gorm:"index;not null" json:"boardId"`
	RoomKey   string    `gorm:"size:191;not null;index:idx_room_time,priority:1" json:"roomId"`
	UserID    *uint     `gorm:"index" json:"userId,omitempty"`
	UserName  string    `gorm:"size:255;not null" json:"user"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Timestamp time.Time `gorm:"not null;index:idx_room_time,priority:2" json:"timestamp"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}

func (ChatMessage) TableName() string { return "messages" }
