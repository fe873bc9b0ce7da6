package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/repository"
)

// DefaultRoomIdleTTL 房间变空后保留 Redis 镜像和画板锁的时间
const DefaultRoomIdleTTL = 30 * time.Minute

// ReapScheduler 延迟投递单个房间的回收任务 (由 asynq 客户端实现)
type ReapScheduler interface {
	ScheduleRoomReap(ctx context.Context, roomKey string, delay time.Duration) error
}

// CleanupService 实现空闲房间的 TTL 回收。画板本身永不删除；
// 回收只清理 Redis 镜像和空闲的画板锁，重新活跃的房间会被跳过。
type CleanupService struct {
	registry  *RoomRegistry
	state     repository.RoomStateRepository
	scheduler ReapScheduler // 可为 nil：只依赖周期扫描
	idleTTL   time.Duration
	now       func() time.Time
}

// NewCleanupService 创建 CleanupService 实例
func NewCleanupService(registry *RoomRegistry, state repository.RoomStateRepository, scheduler ReapScheduler, idleTTL time.Duration) *CleanupService {
	if registry == nil || state == nil {
		panic("RoomRegistry and RoomStateRepository must be non-nil for CleanupService")
	}
	if idleTTL <= 0 {
		idleTTL = DefaultRoomIdleTTL
	}
	return &CleanupService{
		registry:  registry,
		state:     state,
		scheduler: scheduler,
		idleTTL:   idleTTL,
		now:       time.Now,
	}
}

// RoomIdle 记录房间变空的时间并投递延迟回收任务，失败只记录日志
func (s *CleanupService) RoomIdle(ctx context.Context, roomKey string) {
	logCtx := logrus.WithField("room_id", roomKey)
	if err := s.state.MarkIdle(ctx, roomKey, s.now()); err != nil {
		logCtx.WithError(err).Warn("Failed to mark room idle")
	}
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleRoomReap(ctx, roomKey, s.idleTTL); err != nil {
		logCtx.WithError(err).Warn("Failed to schedule room reap, periodic sweep will pick it up")
	}
}

// ReapRoom 处理延迟回收任务。房间已重新活跃，或再次变空的时间还不够 TTL 时跳过，
// 返回是否真正回收。
func (s *CleanupService) ReapRoom(ctx context.Context, roomKey string) (bool, error) {
	rooms, err := s.state.IdleRooms(ctx, s.now().Add(-s.idleTTL))
	if err != nil {
		return false, fmt.Errorf("list idle rooms: %w", err)
	}
	for _, candidate := range rooms {
		if candidate == roomKey {
			return s.reap(ctx, roomKey)
		}
	}
	logrus.WithField("room_id", roomKey).Debug("Room not idle long enough, skipping reap")
	return false, nil
}

func (s *CleanupService) reap(ctx context.Context, roomKey string) (bool, error) {
	logCtx := logrus.WithField("room_id", roomKey)
	if s.registry.IsActive(roomKey) {
		logCtx.Debug("Room active again, skipping reap")
		return false, nil
	}
	if err := s.state.ClearRoom(ctx, roomKey); err != nil {
		return false, fmt.Errorf("clear room state for '%s': %w", roomKey, err)
	}
	locks := s.registry.ReapIdleLocks(s.idleTTL)
	logCtx.WithField("locks_reaped", locks).Info("Idle room reaped")
	return true, nil
}

// Sweep 回收所有空闲超过 TTL 的房间，返回回收数量。单个房间失败不影响其他房间。
func (s *CleanupService) Sweep(ctx context.Context) (int, error) {
	rooms, err := s.state.IdleRooms(ctx, s.now().Add(-s.idleTTL))
	if err != nil {
		return 0, fmt.Errorf("list idle rooms: %w", err)
	}
	reaped := 0
	for _, roomKey := range rooms {
		ok, err := s.reap(ctx, roomKey)
		if err != nil {
			logrus.WithField("room_id", roomKey).WithError(err).Error("Failed to reap idle room")
			continue
		}
		if ok {
			reaped++
		}
	}
	// 不对应任何 Redis 记录的空闲锁也一并回收
	s.registry.ReapIdleLocks(s.idleTTL)
	logrus.WithFields(logrus.Fields{"candidates": len(rooms), "reaped": reaped}).Info("Idle room sweep finished")
	return reaped, nil
}
