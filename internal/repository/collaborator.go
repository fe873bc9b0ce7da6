package repository

import (
	"context"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
)

// CollaboratorRepository 定义了协作关系 (board, user) 的持久化操作。
type CollaboratorRepository interface {
	// Find 查找成员关系，不存在时返回 ErrMembershipNotFound。
	Find(ctx context.Context, boardID, userID uint) (*domain.CollaboratorMembership, error)

	// Upsert 创建成员关系，已存在时覆盖其状态。
	Upsert(ctx context.Context, membership *domain.CollaboratorMembership) error

	// UpdateStatus 更新状态，不存在时返回 ErrMembershipNotFound。
	UpdateStatus(ctx context.Context, boardID, userID uint, status string) error

	// Delete 删除成员关系；记录本就不存在时不视为错误。
	Delete(ctx context.Context, boardID, userID uint) error

	ListByBoard(ctx context.Context, boardID uint) ([]domain.CollaboratorMembership, error)
}
