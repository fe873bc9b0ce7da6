package tasks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeRoomReap  = "room:reap"  // 单个空闲房间的延迟回收
	TypeRoomSweep = "room:sweep" // 周期性扫描所有空闲房间
)

// QueueLow 回收任务使用的队列，优先级最低
const QueueLow = "low"

// RoomReapPayload 定义了房间回收任务的数据结构
type RoomReapPayload struct {
	RoomKey string `json:"room_key"`
}

// NewRoomReapTask 创建一个房间回收任务
func NewRoomReapTask(roomKey string) (*asynq.Task, error) {
	roomKey = strings.TrimSpace(roomKey)
	if roomKey == "" {
		return nil, fmt.Errorf("room key is required for %s task", TypeRoomReap)
	}
	payloadBytes, err := json.Marshal(RoomReapPayload{RoomKey: roomKey})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomReap, payloadBytes), nil
}

// ParseRoomReapPayload 解析房间回收任务的负载
func ParseRoomReapPayload(t *asynq.Task) (RoomReapPayload, error) {
	var payload RoomReapPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.RoomKey == "" {
		return payload, fmt.Errorf("empty room key in %s payload", TypeRoomReap)
	}
	return payload, nil
}

// NewRoomSweepTask 创建周期扫描任务，不携带负载
func NewRoomSweepTask() *asynq.Task {
	return asynq.NewTask(TypeRoomSweep, nil)
}
