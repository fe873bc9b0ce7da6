package mocks

import (
	"context"
	"time"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/stretchr/testify/mock"
)

// RoomStateRepository 是 repository.RoomStateRepository 的 testify mock。
type RoomStateRepository struct {
	mock.Mock
}

func (m *RoomStateRepository) SaveParticipants(ctx context.Context, roomKey string, participants []domain.Participant) error {
	args := m.Called(ctx, roomKey, participants)
	return args.Error(0)
}

func (m *RoomStateRepository) GetParticipants(ctx context.Context, roomKey string) ([]domain.Participant, error) {
	args := m.Called(ctx, roomKey)
	list, _ := args.Get(0).([]domain.Participant)
	return list, args.Error(1)
}

func (m *RoomStateRepository) MarkIdle(ctx context.Context, roomKey string, since time.Time) error {
	args := m.Called(ctx, roomKey, since)
	return args.Error(0)
}

func (m *RoomStateRepository) IdleRooms(ctx context.Context, before time.Time) ([]string, error) {
	args := m.Called(ctx, before)
	keys, _ := args.Get(0).([]string)
	return keys, args.Error(1)
}

func (m *RoomStateRepository) ClearRoom(ctx context.Context, roomKey string) error {
	args := m.Called(ctx, roomKey)
	return args.Error(0)
}

func (m *RoomStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}
