package mocks

import (
	"context"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/stretchr/testify/mock"
)

// CollaboratorRepository 是 repository.CollaboratorRepository 的 testify mock。
type CollaboratorRepository struct {
	mock.Mock
}

func (m *CollaboratorRepository) Find(ctx context.Context, boardID, userID uint) (*domain.CollaboratorMembership, error) {
	args := m.Called(ctx, boardID, userID)
	membership, _ := args.Get(0).(*domain.CollaboratorMembership)
	return membership, args.Error(1)
}

func (m *CollaboratorRepository) Upsert(ctx context.Context, membership *domain.CollaboratorMembership) error {
	args := m.Called(ctx, membership)
	return args.Error(0)
}

func (m *CollaboratorRepository) UpdateStatus(ctx context.Context, boardID, userID uint, status string) error {
	args := m.Called(ctx, boardID, userID, status)
	return args.Error(0)
}

func (m *CollaboratorRepository) Delete(ctx context.Context, boardID, userID uint) error {
	args := m.Called(ctx, boardID, userID)
	return args.Error(0)
}

func (m *CollaboratorRepository) ListByBoard(ctx context.Context, boardID uint) ([]domain.CollaboratorMembership, error) {
	args := m.Called(ctx, boardID)
	list, _ := args.Get(0).([]domain.CollaboratorMembership)
	return list, args.Error(1)
}
