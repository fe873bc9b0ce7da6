package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FernandoPintoL/ppsocket/internal/dto"
	httpHandler "github.com/FernandoPintoL/ppsocket/internal/handler/http"
	wsHandler "github.com/FernandoPintoL/ppsocket/internal/handler/websocket"
	"github.com/FernandoPintoL/ppsocket/internal/hub"
	gormpersistence "github.com/FernandoPintoL/ppsocket/internal/infra/persistence/gorm"
	"github.com/FernandoPintoL/ppsocket/internal/infra/setup"
	"github.com/FernandoPintoL/ppsocket/internal/metrics"
	"github.com/FernandoPintoL/ppsocket/internal/service"
)

// stubLimiter 在 blocked 置位后对所有请求报告超限
type stubLimiter struct{ blocked atomic.Bool }

func (s *stubLimiter) CheckRateLimit(context.Context, string, int, time.Duration) (bool, error) {
	return s.blocked.Load(), nil
}

type testServer struct {
	url     string
	limiter *stubLimiter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := setup.InitDB(setup.DBConfig{Driver: setup.DriverSQLite, Path: "file:" + t.Name() + "?mode=memory&cache=shared"})
	require.NoError(t, err)
	require.NoError(t, setup.MigrateDB(db))

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	h := hub.NewHub(m)
	go h.Run()
	t.Cleanup(h.Stop)

	boards := gormpersistence.NewGormBoardRepository(db)
	registry := service.NewRoomRegistry(boards, m)
	sessions := service.NewSessionTable()
	chat := service.NewChatService(gormpersistence.NewGormMessageRepository(db), registry, h, m, 50)
	sync := service.NewDocumentSync(registry, boards, h, m)
	presence := service.NewPresenceService(registry, sessions, gormpersistence.NewGormCollaboratorRepository(db), h, chat, nil, nil)
	dispatcher := service.NewDispatcher(sessions, presence, sync, chat, h, m)

	cfg := &Config{
		ServerPort:      "4000",
		AppEnv:          "test",
		CORSOrigins:     []string{"*"},
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
	}
	limiter := &stubLimiter{}
	router := NewRouter(cfg, logrus.New(), Handlers{
		System:    httpHandler.NewSystemHandler(registry, h, cfg.ServerPort, cfg.AppEnv),
		Room:      httpHandler.NewRoomHandler(registry, h),
		Chat:      httpHandler.NewChatHandler(chat, 50),
		WebSocket: wsHandler.NewWebSocketHandler(h, dispatcher, cfg.CORSOrigins),
	}, limiter, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, limiter: limiter}
}

func (s *testServer) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(s.url+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(s.url + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// waitFor 读取帧直到出现指定事件
func waitFor(t *testing.T, conn *websocket.Conn, event string) dto.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		var env dto.Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		if env.Event == event {
			return env
		}
	}
}

func TestRouter_EndToEnd(t *testing.T) {
	s := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	join := `{"event":"joinRoom","data":{"userId":1,"roomId":"r1","boardId":7,"userName":"Ana"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(join)))
	snapshot := waitFor(t, conn, dto.EventFormUpdate)
	assert.JSONEq(t, `[]`, string(mustField(t, snapshot.Data, "elements")))
	waitFor(t, conn, dto.EventChatHistory)

	resp := s.get(t, "/api/rooms/r1/users")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var users httpHandler.RoomUsersResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	require.Len(t, users.Users, 1)
	assert.Equal(t, "Ana", users.Users[0].Name)

	resp = s.post(t, "/chat/message", `{"boardId":7,"message":"hola","userName":"Bot"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := waitFor(t, conn, dto.EventChatMessage)
	assert.Equal(t, `"hola"`, string(mustField(t, msg.Data, "text")))

	resp = s.get(t, "/chat-history/r1?limit=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history httpHandler.ChatHistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "Bot", history.Messages[0].User)

	resp = s.post(t, "/emit-event", `{"event":"refresh","data":{"roomId":"r1"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	waitFor(t, conn, "refresh")

	resp = s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_HealthAndRateLimit(t *testing.T) {
	s := newTestServer(t)

	resp := s.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.get(t, "/api/port")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s.limiter.blocked.Store(true)
	resp = s.get(t, "/api/port")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp = s.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is not rate limited")
}

func TestLoggerMiddleware_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := logtest.NewNullLogger()
	r := gin.New()
	r.Use(LoggerMiddleware(logger))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for path, level := range map[string]logrus.Level{
		"/ok":   logrus.InfoLevel,
		"/bad":  logrus.WarnLevel,
		"/boom": logrus.ErrorLevel,
	} {
		hook.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path+"?q=1", nil))
		entry := hook.LastEntry()
		require.NotNil(t, entry, path)
		assert.Equal(t, level, entry.Level, path)
		assert.Equal(t, path+"?q=1", entry.Data["path"])
	}
}

func TestNewLogger(t *testing.T) {
	log := NewLogger(&Config{AppEnv: "production", LogLevel: "debug"})
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	log = NewLogger(&Config{AppEnv: "development", LogLevel: "info"})
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func mustField(t *testing.T, data json.RawMessage, key string) json.RawMessage {
	t.Helper()
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &obj))
	return obj[key]
}
