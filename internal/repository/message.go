package repository

import (
	"context"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
)

// MessageRepository 定义了聊天消息的追加与查询。
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.ChatMessage) error

	// ListRecentByRoom 返回房间最近的 limit 条消息，按时间倒序 (最新在前)。
	ListRecentByRoom(ctx context.Context, roomKey string, limit int) ([]domain.ChatMessage, error)
}
