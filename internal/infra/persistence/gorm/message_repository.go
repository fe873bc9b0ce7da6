package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
)

// GormMessageRepository 是 MessageRepository 接口的 GORM 实现
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GormMessageRepository 实例
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMessageRepository")
	}
	return &GormMessageRepository{db: db}
}

// Create 追加一条消息，ID 由数据库分配
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("gorm: create message in room '%s': %w", msg.RoomKey, err)
	}
	return nil
}

// ListRecentByRoom 按时间倒序取最近 limit 条，时间相同时按 ID 倒序保证稳定
func (r *GormMessageRepository) ListRecentByRoom(ctx context.Context, roomKey string, limit int) ([]domain.ChatMessage, error) {
	var messages []domain.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_key = ?", roomKey).
		Order("timestamp desc").
		Order("id desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list messages for room '%s': %w", roomKey, err)
	}
	return messages, nil
}
