package worker

import (
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/tasks"
)

// DefaultSweepSchedule 默认每 5 分钟扫描一次空闲房间
const DefaultSweepSchedule = "@every 5m"

// SweepScheduler 用 asynq.Scheduler 周期投递 room:sweep 任务
type SweepScheduler struct {
	scheduler *asynq.Scheduler
	log       *logrus.Entry
	schedule  string
	started   bool
}

// NewSweepScheduler 创建 SweepScheduler，schedule 为 cron 表达式或 @every 形式
func NewSweepScheduler(redisOpt asynq.RedisClientOpt, schedule string, logger *logrus.Logger) *SweepScheduler {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &SweepScheduler{
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{}),
		log:       logger.WithField("component", "sweep_scheduler"),
		schedule:  schedule,
	}
}

// Start 注册周期任务并在后台运行调度器
func (s *SweepScheduler) Start() error {
	entryID, err := s.scheduler.Register(s.schedule, tasks.NewRoomSweepTask(), asynq.Queue(tasks.QueueLow))
	if err != nil {
		return err
	}
	s.log.Infof("Idle room sweep registered with schedule '%s' (EntryID: %s)", s.schedule, entryID)
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Shutdown 停止调度器
func (s *SweepScheduler) Shutdown() {
	if !s.started {
		return
	}
	s.scheduler.Shutdown()
	s.log.Info("Asynq scheduler stopped.")
}
