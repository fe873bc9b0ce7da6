package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
)

// RedisStateRepository 是 RoomStateRepository 接口的 Redis 实现
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string // Redis key 前缀，方便管理
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "pz:" // 默认前缀 "pz:" (pizarra)
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---
func (r *RedisStateRepository) roomUsersKey(roomKey string) string {
	return fmt.Sprintf("%sroom:%s:users", r.keyPrefix, roomKey)
}

func (r *RedisStateRepository) idleRoomsKey() string {
	return r.keyPrefix + "rooms:idle"
}

func (r *RedisStateRepository) rateLimitKey(key string) string {
	return r.keyPrefix + "ratelimit:" + key
}

// SaveParticipants 覆盖房间在线成员的镜像，同时把房间移出空闲集合
func (r *RedisStateRepository) SaveParticipants(ctx context.Context, roomKey string, participants []domain.Participant) error {
	key := r.roomUsersKey(roomKey)
	payload, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal participants for room '%s': %w", roomKey, err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, payload, 24*time.Hour)
	if len(participants) > 0 {
		pipe.ZRem(ctx, r.idleRoomsKey(), roomKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to save participants for room '%s' on key %s: %w", roomKey, key, err)
	}
	return nil
}

// GetParticipants 读取房间在线成员镜像，key 不存在时返回空列表
func (r *RedisStateRepository) GetParticipants(ctx context.Context, roomKey string) ([]domain.Participant, error) {
	key := r.roomUsersKey(roomKey)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []domain.Participant{}, nil
		}
		return nil, fmt.Errorf("redis: failed to get participants for room '%s' from %s: %w", roomKey, key, err)
	}
	var participants []domain.Participant
	if err := json.Unmarshal(raw, &participants); err != nil {
		logrus.Warnf("redis: corrupt participants mirror for room '%s': %v", roomKey, err)
		return []domain.Participant{}, nil
	}
	return participants, nil
}

// MarkIdle 记录房间变空的时间 (ZSET score 为 unix 秒)
func (r *RedisStateRepository) MarkIdle(ctx context.Context, roomKey string, since time.Time) error {
	err := r.client.ZAdd(ctx, r.idleRoomsKey(), &redis.Z{
		Score:  float64(since.Unix()),
		Member: roomKey,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: failed to mark room '%s' idle: %w", roomKey, err)
	}
	return nil
}

// IdleRooms 返回在 before 之前就已空闲的房间
func (r *RedisStateRepository) IdleRooms(ctx context.Context, before time.Time) ([]string, error) {
	rooms, err := r.client.ZRangeByScore(ctx, r.idleRoomsKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list idle rooms: %w", err)
	}
	return rooms, nil
}

// ClearRoom 删除房间镜像并移出空闲集合
func (r *RedisStateRepository) ClearRoom(ctx context.Context, roomKey string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.roomUsersKey(roomKey))
	pipe.ZRem(ctx, r.idleRoomsKey(), roomKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to clear room '%s': %w", roomKey, err)
	}
	return nil
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := r.rateLimitKey(key)
	count, err := r.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to incr rate limit counter on key %s: %w", fullKey, err)
	}
	// 只在窗口的第一次请求时设置过期，避免持续请求把窗口无限延长
	if count == 1 {
		if err := r.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, fmt.Errorf("redis: failed to set rate limit window on key %s: %w", fullKey, err)
		}
	}
	// 计数大于限制表示超限
	return count > int64(limit), nil
}
