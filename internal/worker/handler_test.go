package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FernandoPintoL/ppsocket/internal/tasks"
)

type mockCleaner struct{ mock.Mock }

func (m *mockCleaner) ReapRoom(ctx context.Context, roomKey string) (bool, error) {
	args := m.Called(ctx, roomKey)
	return args.Bool(0), args.Error(1)
}

func (m *mockCleaner) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestProcessReap(t *testing.T) {
	cleaner := new(mockCleaner)
	cleaner.On("ReapRoom", mock.Anything, "r1").Return(true, nil).Once()
	h := NewRoomCleanupHandler(cleaner)

	task, err := tasks.NewRoomReapTask("r1")
	require.NoError(t, err)
	require.NoError(t, h.ProcessReap(context.Background(), task))
	cleaner.AssertExpectations(t)
}

func TestProcessReap_BadPayloadSkipsRetry(t *testing.T) {
	h := NewRoomCleanupHandler(new(mockCleaner))
	err := h.ProcessReap(context.Background(), asynq.NewTask(tasks.TypeRoomReap, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessReap_FailureIsRetried(t *testing.T) {
	cleaner := new(mockCleaner)
	cleaner.On("ReapRoom", mock.Anything, "r1").Return(false, errors.New("redis down"))
	h := NewRoomCleanupHandler(cleaner)

	task, _ := tasks.NewRoomReapTask("r1")
	err := h.ProcessReap(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessSweep(t *testing.T) {
	cleaner := new(mockCleaner)
	cleaner.On("Sweep", mock.Anything).Return(2, nil).Once()
	cleaner.On("Sweep", mock.Anything).Return(0, errors.New("redis down")).Once()
	h := NewRoomCleanupHandler(cleaner)

	assert.NoError(t, h.ProcessSweep(context.Background(), tasks.NewRoomSweepTask()))
	assert.Error(t, h.ProcessSweep(context.Background(), tasks.NewRoomSweepTask()))
	cleaner.AssertExpectations(t)
}

func TestRegister_RoutesBothTaskTypes(t *testing.T) {
	cleaner := new(mockCleaner)
	cleaner.On("ReapRoom", mock.Anything, "r9").Return(false, nil)
	cleaner.On("Sweep", mock.Anything).Return(0, nil)

	mux := asynq.NewServeMux()
	NewRoomCleanupHandler(cleaner).Register(mux)

	reap, _ := tasks.NewRoomReapTask("r9")
	require.NoError(t, mux.ProcessTask(context.Background(), reap))
	require.NoError(t, mux.ProcessTask(context.Background(), tasks.NewRoomSweepTask()))
	cleaner.AssertExpectations(t)
}
