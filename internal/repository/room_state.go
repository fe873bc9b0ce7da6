package repository

import (
	"context"
	"time"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
)

// RoomStateRepository 定义了房间在线状态的外部镜像，通常由 Redis 实现。
// 它不是事实来源，写入失败只记录日志。
type RoomStateRepository interface {
	// SaveParticipants 覆盖房间当前的参与者列表，并清除空闲标记。
	SaveParticipants(ctx context.Context, roomKey string, participants []domain.Participant) error

	// GetParticipants 读取镜像的参与者列表，不存在时返回空列表。
	GetParticipants(ctx context.Context, roomKey string) ([]domain.Participant, error)

	// MarkIdle 记录房间从某一时刻起变为空房间。
	MarkIdle(ctx context.Context, roomKey string, since time.Time) error

	// IdleRooms 返回空闲时间早于 before 的房间 key。
	IdleRooms(ctx context.Context, before time.Time) ([]string, error)

	// ClearRoom 删除房间相关的全部 key。
	ClearRoom(ctx context.Context, roomKey string) error

	// CheckRateLimit 递增计数并返回是否超限。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
