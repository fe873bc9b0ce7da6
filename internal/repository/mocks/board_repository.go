package mocks

import (
	"context"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"
)

// BoardRepository 是 repository.BoardRepository 的 testify mock。
type BoardRepository struct {
	mock.Mock
}

func (m *BoardRepository) FindByID(ctx context.Context, id uint) (*domain.Board, error) {
	args := m.Called(ctx, id)
	board, _ := args.Get(0).(*domain.Board)
	return board, args.Error(1)
}

func (m *BoardRepository) FindByRoomKey(ctx context.Context, roomKey string) (*domain.Board, error) {
	args := m.Called(ctx, roomKey)
	board, _ := args.Get(0).(*domain.Board)
	return board, args.Error(1)
}

func (m *BoardRepository) Create(ctx context.Context, board *domain.Board) error {
	args := m.Called(ctx, board)
	return args.Error(0)
}

func (m *BoardRepository) UpdateElements(ctx context.Context, id uint, elements datatypes.JSON) error {
	args := m.Called(ctx, id, elements)
	return args.Error(0)
}

func (m *BoardRepository) UpdateName(ctx context.Context, id uint, name string, userID uint) error {
	args := m.Called(ctx, id, name, userID)
	return args.Error(0)
}

func (m *BoardRepository) UpdateCollaborators(ctx context.Context, id uint, collaborators []domain.Collaborator) error {
	args := m.Called(ctx, id, collaborators)
	return args.Error(0)
}
