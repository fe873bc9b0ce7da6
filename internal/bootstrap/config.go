package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/infra/setup"
	"github.com/FernandoPintoL/ppsocket/internal/service"
	"github.com/FernandoPintoL/ppsocket/internal/worker"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	ServerPort string
	AppEnv     string // development / production
	LogLevel   string

	DB setup.DBConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	CORSOrigins []string

	RateLimitMax    int
	RateLimitWindow time.Duration

	RoomIdleTTL       time.Duration
	RoomSweepSchedule string

	ChatHistoryLimit int
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort: firstNonEmpty(os.Getenv("SERVER_PORT"), os.Getenv("PORT"), "4000"),
		AppEnv:     firstNonEmpty(os.Getenv("APP_ENV"), "development"),
		LogLevel:   firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		DB: setup.DBConfig{
			Driver:   strings.ToLower(firstNonEmpty(os.Getenv("DB_DRIVER"), setup.DriverMySQL)),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     os.Getenv("DB_HOST"),
			Port:     os.Getenv("DB_PORT"),
			Name:     os.Getenv("DB_NAME"),
			Path:     firstNonEmpty(os.Getenv("DB_PATH"), "ppsocket.db"),
		},
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         firstNonEmpty(os.Getenv("REDIS_KEY_PREFIX"), "pz:"),
		CORSOrigins:       splitList(firstNonEmpty(os.Getenv("CORS_ORIGIN"), "*")),
		RoomSweepSchedule: firstNonEmpty(os.Getenv("ROOM_SWEEP_SCHEDULE"), worker.DefaultSweepSchedule),
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = intEnv("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = durationEnv("RATE_LIMIT_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RoomIdleTTL, err = durationEnv("ROOM_IDLE_TTL", service.DefaultRoomIdleTTL); err != nil {
		return nil, err
	}
	if cfg.ChatHistoryLimit, err = intEnv("CHAT_HISTORY_LIMIT", service.DefaultHistoryLimit); err != nil {
		return nil, err
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	switch cfg.DB.Driver {
	case setup.DriverMySQL, setup.DriverPostgres, setup.DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER '%s'", cfg.DB.Driver)
	}
	if cfg.RoomIdleTTL <= 0 {
		cfg.RoomIdleTTL = service.DefaultRoomIdleTTL
	}
	if cfg.ChatHistoryLimit <= 0 {
		cfg.ChatHistoryLimit = service.DefaultHistoryLimit
	}
	if cfg.ChatHistoryLimit > service.MaxHistoryLimit {
		cfg.ChatHistoryLimit = service.MaxHistoryLimit
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// IsProduction 是否运行在生产环境
func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a duration: %w", key, err)
	}
	return d, nil
}
