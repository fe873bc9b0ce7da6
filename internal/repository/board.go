package repository

import (
	"context"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"gorm.io/datatypes"
)

// BoardRepository 定义了画板的持久化操作。
// 更新方法只写各自的列，避免整行覆盖其他字段。
type BoardRepository interface {
	// FindByID 根据 ID 查找画板，不存在时返回 ErrBoardNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Board, error)

	// FindByRoomKey 根据房间 key 查找画板，不存在时返回 ErrBoardNotFound。
	FindByRoomKey(ctx context.Context, roomKey string) (*domain.Board, error)

	// Create 创建画板；ID 非零时使用调用方给定的 ID。
	Create(ctx context.Context, board *domain.Board) error

	UpdateElements(ctx context.Context, id uint, elements datatypes.JSON) error

	// UpdateName 更新名称；userID 非零时同时更新所属用户。
	UpdateName(ctx context.Context, id uint, name string, userID uint) error

	UpdateCollaborators(ctx context.Context, id uint, collaborators []domain.Collaborator) error
}
