package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/repository"
)

// GormCollaboratorRepository 是 CollaboratorRepository 接口的 GORM 实现
type GormCollaboratorRepository struct {
	db *gorm.DB
}

// NewGormCollaboratorRepository 创建 GormCollaboratorRepository 实例
func NewGormCollaboratorRepository(db *gorm.DB) *GormCollaboratorRepository {
	if db == nil {
		panic("database connection cannot be nil for GormCollaboratorRepository")
	}
	return &GormCollaboratorRepository{db: db}
}

func (r *GormCollaboratorRepository) Find(ctx context.Context, boardID, userID uint) (*domain.CollaboratorMembership, error) {
	var m domain.CollaboratorMembership
	err := r.db.WithContext(ctx).Where("board_id = ? AND user_id = ?", boardID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("gorm: find membership (board %d, user %d): %w", boardID, userID, err)
	}
	return &m, nil
}

// Upsert 依赖 (board_id, user_id) 唯一索引，冲突时只覆盖状态
func (r *GormCollaboratorRepository) Upsert(ctx context.Context, m *domain.CollaboratorMembership) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "board_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("gorm: upsert membership (board %d, user %d): %w", m.BoardID, m.UserID, err)
	}
	return nil
}

func (r *GormCollaboratorRepository) UpdateStatus(ctx context.Context, boardID, userID uint, status string) error {
	result := r.db.WithContext(ctx).Model(&domain.CollaboratorMembership{}).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("gorm: update membership status (board %d, user %d): %w", boardID, userID, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.Find(ctx, boardID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (r *GormCollaboratorRepository) Delete(ctx context.Context, boardID, userID uint) error {
	err := r.db.WithContext(ctx).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		Delete(&domain.CollaboratorMembership{}).Error
	if err != nil {
		return fmt.Errorf("gorm: delete membership (board %d, user %d): %w", boardID, userID, err)
	}
	return nil
}

func (r *GormCollaboratorRepository) ListByBoard(ctx context.Context, boardID uint) ([]domain.CollaboratorMembership, error) {
	var list []domain.CollaboratorMembership
	err := r.db.WithContext(ctx).Where("board_id = ?", boardID).Order("id asc").Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list memberships for board %d: %w", boardID, err)
	}
	return list, nil
}
