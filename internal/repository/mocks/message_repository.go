package mocks

import (
	"context"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MessageRepository 是 repository.MessageRepository 的 testify mock。
type MessageRepository struct {
	mock.Mock
}

func (m *MessageRepository) Create(ctx context.Context, msg *domain.ChatMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepository) ListRecentByRoom(ctx context.Context, roomKey string, limit int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, roomKey, limit)
	list, _ := args.Get(0).([]domain.ChatMessage)
	return list, args.Error(1)
}
