package tasks

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// 延迟任务在 TTL 之后稍晚执行，保证到期判断成立
const reapSlack = 5 * time.Second

// TaskEnqueuer 是 *asynq.Client 的投递子集
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ReapEnqueuer 通过 asynq 投递延迟的房间回收任务，实现 service.ReapScheduler
type ReapEnqueuer struct {
	client TaskEnqueuer
}

// NewReapEnqueuer 创建 ReapEnqueuer 实例
func NewReapEnqueuer(client TaskEnqueuer) *ReapEnqueuer {
	if client == nil {
		panic("TaskEnqueuer cannot be nil for ReapEnqueuer")
	}
	return &ReapEnqueuer{client: client}
}

// ScheduleRoomReap 在 delay 之后回收房间
func (e *ReapEnqueuer) ScheduleRoomReap(ctx context.Context, roomKey string, delay time.Duration) error {
	task, err := NewRoomReapTask(roomKey)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.ProcessIn(delay+reapSlack),
		asynq.Queue(QueueLow),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"room_id": roomKey, "task_id": info.ID, "delay": delay.String()}).Debug("Room reap task enqueued")
	return nil
}
