package domain

import "time"

// Collaborator 是画板上非规范化保存的协作者条目。
type Collaborator struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// CollaboratorMembership 是 "谁可以协作" 的持久化事实来源。
type CollaboratorMembership struct {
	ID        uint      `gorm:"primaryKey"`
	BoardID   uint      `gorm:"not null;uniqueIndex:idx_board_user"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_board_user;index"`
	Status    string    `gorm:"size:64;not null;default:''"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CollaboratorMembership) TableName() string { return "pizarra_collaborators" }
