package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/repository"
)

// GormBoardRepository 是 BoardRepository 接口的 GORM 实现
type GormBoardRepository struct {
	db *gorm.DB
}

// NewGormBoardRepository 创建 GormBoardRepository 实例
func NewGormBoardRepository(db *gorm.DB) *GormBoardRepository {
	if db == nil {
		panic("database connection cannot be nil for GormBoardRepository")
	}
	return &GormBoardRepository{db: db}
}

// FindByID 根据画板 ID 查找画板
func (r *GormBoardRepository) FindByID(ctx context.Context, id uint) (*domain.Board, error) {
	var board domain.Board
	err := r.db.WithContext(ctx).First(&board, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrBoardNotFound
		}
		return nil, fmt.Errorf("gorm: find board by id %d: %w", id, err)
	}
	return &board, nil
}

// FindByRoomKey 根据房间 key 查找画板
func (r *GormBoardRepository) FindByRoomKey(ctx context.Context, roomKey string) (*domain.Board, error) {
	var board domain.Board
	err := r.db.WithContext(ctx).Where("room_key = ?", roomKey).First(&board).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrBoardNotFound
		}
		return nil, fmt.Errorf("gorm: find board by room key '%s': %w", roomKey, err)
	}
	return &board, nil
}

// Create 创建画板，唯一约束冲突映射为 ErrDuplicateEntry
func (r *GormBoardRepository) Create(ctx context.Context, board *domain.Board) error {
	if err := r.db.WithContext(ctx).Create(board).Error; err != nil {
		if isDuplicateEntry(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create board (id: %d, room: %s): %w", board.ID, board.Room(), err)
	}
	return nil
}

// UpdateElements 只更新 elements 列
func (r *GormBoardRepository) UpdateElements(ctx context.Context, id uint, elements datatypes.JSON) error {
	result := r.db.WithContext(ctx).Model(&domain.Board{}).Where("id = ?", id).Update("elements", elements)
	return r.checkUpdate(result, "update elements", id)
}

// UpdateName 更新名称和所属用户
func (r *GormBoardRepository) UpdateName(ctx context.Context, id uint, name string, userID uint) error {
	updates := map[string]interface{}{"name": name}
	if userID != 0 {
		updates["user_id"] = userID
	}
	result := r.db.WithContext(ctx).Model(&domain.Board{}).Where("id = ?", id).Updates(updates)
	return r.checkUpdate(result, "update name", id)
}

// UpdateCollaborators 覆盖非规范化的协作者列表
func (r *GormBoardRepository) UpdateCollaborators(ctx context.Context, id uint, collaborators []domain.Collaborator) error {
	list := datatypes.JSONSlice[domain.Collaborator](collaborators)
	if list == nil {
		list = datatypes.JSONSlice[domain.Collaborator]{}
	}
	result := r.db.WithContext(ctx).Model(&domain.Board{}).Where("id = ?", id).Update("collaborators", list)
	return r.checkUpdate(result, "update collaborators", id)
}

func (r *GormBoardRepository) checkUpdate(result *gorm.DB, op string, id uint) error {
	if result.Error != nil {
		return fmt.Errorf("gorm: %s for board %d: %w", op, id, result.Error)
	}
	if result.RowsAffected == 0 {
		// 可能是记录不存在，也可能是值未变化 (MySQL 不计入)，再确认一次
		var count int64
		if err := r.db.Model(&domain.Board{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("gorm: %s for board %d: %w", op, id, err)
		}
		if count == 0 {
			return repository.ErrBoardNotFound
		}
	}
	return nil
}
