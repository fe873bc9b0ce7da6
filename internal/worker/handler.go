package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/tasks"
)

// RoomCleaner 是回收任务依赖的能力，由 service.CleanupService 实现
type RoomCleaner interface {
	ReapRoom(ctx context.Context, roomKey string) (bool, error)
	Sweep(ctx context.Context) (int, error)
}

// RoomCleanupHandler 处理房间回收与周期扫描任务
type RoomCleanupHandler struct {
	cleaner RoomCleaner
}

// NewRoomCleanupHandler 创建 Handler 实例
func NewRoomCleanupHandler(cleaner RoomCleaner) *RoomCleanupHandler {
	if cleaner == nil {
		panic("RoomCleaner cannot be nil for RoomCleanupHandler")
	}
	return &RoomCleanupHandler{cleaner: cleaner}
}

func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}

// ProcessReap 处理 room:reap 任务
func (h *RoomCleanupHandler) ProcessReap(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	payload, err := tasks.ParseRoomReapPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.RoomKey)

	reaped, err := h.cleaner.ReapRoom(ctx, payload.RoomKey)
	if err != nil {
		logCtx.WithError(err).Error("Failed to reap room")
		return fmt.Errorf("reap room '%s': %w", payload.RoomKey, err)
	}
	logCtx.WithField("reaped", reaped).Info("Room reap task processed")
	return nil
}

// ProcessSweep 处理 room:sweep 任务
func (h *RoomCleanupHandler) ProcessSweep(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)
	n, err := h.cleaner.Sweep(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Idle room sweep failed")
		return err
	}
	logCtx.WithField("reaped", n).Info("Idle room sweep task processed")
	return nil
}

// Register 把处理器挂到 mux 上
func (h *RoomCleanupHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeRoomReap, h.ProcessReap)
	mux.HandleFunc(tasks.TypeRoomSweep, h.ProcessSweep)
}
