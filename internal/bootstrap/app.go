package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "github.com/FernandoPintoL/ppsocket/internal/handler/http"
	wsHandler "github.com/FernandoPintoL/ppsocket/internal/handler/websocket"
	"github.com/FernandoPintoL/ppsocket/internal/hub"
	gormpersistence "github.com/FernandoPintoL/ppsocket/internal/infra/persistence/gorm"
	"github.com/FernandoPintoL/ppsocket/internal/infra/setup"
	redisstate "github.com/FernandoPintoL/ppsocket/internal/infra/state/redis"
	"github.com/FernandoPintoL/ppsocket/internal/metrics"
	"github.com/FernandoPintoL/ppsocket/internal/middleware"
	"github.com/FernandoPintoL/ppsocket/internal/service"
	"github.com/FernandoPintoL/ppsocket/internal/tasks"
	"github.com/FernandoPintoL/ppsocket/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	Worker      *worker.WorkerServer
	Scheduler   *worker.SweepScheduler
	Hub         *hub.Hub
	HttpServer  *http.Server
}

// Handlers 汇总路由需要的处理器
type Handlers struct {
	System    *httpHandler.SystemHandler
	Room      *httpHandler.RoomHandler
	Chat      *httpHandler.ChatHandler
	WebSocket *wsHandler.WebSocketHandler
}

// NewLogger 按配置创建 logger，并把同样的级别和格式应用到包级 logger
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if cfg.IsProduction() {
		formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetFormatter(formatter)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 服务层使用包级 logrus
	logrus.SetFormatter(formatter)
	logrus.SetLevel(logLevel)
	logrus.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		// logrus 此时还未按配置初始化
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s, Env: %s)", log.GetLevel().String(), cfg.AppEnv)

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.WithField("driver", cfg.DB.Driver).Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(setup.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	// 4. 初始化 Repositories
	boardRepo := gormpersistence.NewGormBoardRepository(db)
	collaboratorRepo := gormpersistence.NewGormCollaboratorRepository(db)
	messageRepo := gormpersistence.NewGormMessageRepository(db)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)
	log.Info("Repositories initialized")

	// 5. 初始化 Hub 与 Services
	m := metrics.New()
	hubInstance := hub.NewHub(m)

	registry := service.NewRoomRegistry(boardRepo, m)
	sessions := service.NewSessionTable()
	cleanup := service.NewCleanupService(registry, stateRepo, tasks.NewReapEnqueuer(asynqClient), cfg.RoomIdleTTL)
	chat := service.NewChatService(messageRepo, registry, hubInstance, m, cfg.ChatHistoryLimit)
	documentSync := service.NewDocumentSync(registry, boardRepo, hubInstance, m)
	presence := service.NewPresenceService(registry, sessions, collaboratorRepo, hubInstance, chat, stateRepo, cleanup)
	dispatcher := service.NewDispatcher(sessions, presence, documentSync, chat, hubInstance, m)
	log.Info("Services initialized")

	// 6. 初始化 Handlers
	handlers := Handlers{
		System:    httpHandler.NewSystemHandler(registry, hubInstance, cfg.ServerPort, cfg.AppEnv),
		Room:      httpHandler.NewRoomHandler(registry, hubInstance),
		Chat:      httpHandler.NewChatHandler(chat, cfg.ChatHistoryLimit),
		WebSocket: wsHandler.NewWebSocketHandler(hubInstance, dispatcher, cfg.CORSOrigins),
	}

	// 7. 初始化 Worker 与周期任务
	workerServer := worker.NewWorkerServer(redisClientOpt, cleanup, log)
	scheduler := worker.NewSweepScheduler(redisClientOpt, cfg.RoomSweepSchedule, log)

	// 8. 初始化 Gin Engine 和路由
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := NewRouter(cfg, log, handlers, stateRepo, promhttp.Handler())
	log.Info("Router setup complete")

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		Worker:      workerServer,
		Scheduler:   scheduler,
		Hub:         hubInstance,
		HttpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// NewRouter 注册全部路由。limiter 作用于 /api 与聊天相关路由。
func NewRouter(cfg *Config, log *logrus.Logger, h Handlers, limiter middleware.RateLimiter, metricsHandler http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	rateLimit := middleware.RateLimit(limiter, cfg.RateLimitMax, cfg.RateLimitWindow)

	router.GET("/health", h.System.Health)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
	router.GET("/ws", h.WebSocket.HandleConnection)

	api := router.Group("/api", rateLimit)
	{
		api.GET("/port", h.System.Port)
		api.GET("/rooms/:roomId/users", h.Room.Users)
	}
	chat := router.Group("/chat", rateLimit)
	{
		chat.POST("/message", h.Chat.CreateMessage)
	}
	router.GET("/chat-history/:roomId", rateLimit, h.Chat.History)
	router.POST("/emit-event", h.Room.EmitEvent)
	return router
}

// Start 同步绑定监听地址 (失败时返回错误)，然后在后台启动 HTTP 服务、Hub、Worker 与调度器
func (a *App) Start() error {
	ln, err := net.Listen("tcp", a.HttpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", a.HttpServer.Addr, err)
	}

	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	// 后台任务不可用时只降级为不回收空闲房间
	if err := a.Worker.Start(); err != nil {
		a.Log.WithError(err).Error("Asynq worker server failed to start")
	}
	if err := a.Scheduler.Start(); err != nil {
		a.Log.WithError(err).Error("Asynq scheduler failed to start")
	}

	go func() {
		a.Log.Infof("HTTP server listening on %s", ln.Addr())
		if err := a.HttpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Errorf("HTTP server stopped unexpectedly: %v", err)
		}
	}()
	return nil
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. HTTP 服务器
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 调度器与 Worker
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.Worker != nil {
		a.Worker.Shutdown()
	}

	// 3. Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		} else {
			a.Log.Info("Asynq client closed.")
		}
	}

	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 4. Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
