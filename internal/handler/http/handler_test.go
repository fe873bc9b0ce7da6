package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/service"
)

type mockChat struct{ mock.Mock }

func (m *mockChat) History(ctx context.Context, roomKey string, limit int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, roomKey, limit)
	msgs, _ := args.Get(0).([]domain.ChatMessage)
	return msgs, args.Error(1)
}

func (m *mockChat) CreateMessage(ctx context.Context, in service.ChatInput) (*domain.ChatMessage, error) {
	args := m.Called(ctx, in)
	msg, _ := args.Get(0).(*domain.ChatMessage)
	return msg, args.Error(1)
}

type fakeRooms struct {
	users map[string][]domain.Participant
}

func (f fakeRooms) Participants(roomKey string) ([]domain.Participant, bool) {
	u, ok := f.users[roomKey]
	return u, ok
}

func (f fakeRooms) RoomCount() int { return len(f.users) }

type sent struct {
	room    string
	event   string
	payload interface{}
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeTransport) Join(service.Conn, string)  {}
func (f *fakeTransport) Leave(service.Conn, string) {}
func (f *fakeTransport) ToRoom(roomKey, event string, payload interface{}, _ service.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{room: roomKey, event: event, payload: payload})
}
func (f *fakeTransport) ToAll(event string, payload interface{}, _ service.Conn) {
	f.ToRoom("*", event, payload, nil)
}

type fakeCounter int

func (f fakeCounter) ClientCount() int { return int(f) }

func newRouter(chat ChatStore, rooms RoomDirectory, transport service.Transport) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	sys := NewSystemHandler(rooms, fakeCounter(3), "4000", "test")
	r.GET("/health", sys.Health)
	r.GET("/api/port", sys.Port)
	if chat != nil {
		ch := NewChatHandler(chat, 50)
		r.GET("/chat-history/:roomId", ch.History)
		r.POST("/chat/message", ch.CreateMessage)
	}
	rh := NewRoomHandler(rooms, transport)
	r.GET("/api/rooms/:roomId/users", rh.Users)
	r.POST("/emit-event", rh.EmitEvent)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndPort(t *testing.T) {
	rooms := fakeRooms{users: map[string][]domain.Participant{"r1": {{ID: 1}}}}
	r := newRouter(nil, rooms, &fakeTransport{})

	w := do(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","rooms":1,"connections":3}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/port", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "4000", body["port"])
	assert.Equal(t, "test", body["environment"])
	assert.Equal(t, "http://example.com", body["url"])
}

func TestChatHistory(t *testing.T) {
	chat := new(mockChat)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	chat.On("History", mock.Anything, "r1", 2).Return([]domain.ChatMessage{
		{ID: 2, RoomKey: "r1", UserName: "A", Text: "hola", Timestamp: ts},
		{ID: 3, RoomKey: "r1", UserName: "B", Text: "que tal", Timestamp: ts.Add(time.Second)},
	}, nil)
	r := newRouter(chat, fakeRooms{}, &fakeTransport{})

	w := do(r, http.MethodGet, "/chat-history/r1?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ChatHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hola", resp.Messages[0].Text)
	assert.Equal(t, "que tal", resp.Messages[1].Text)
	chat.AssertExpectations(t)
}

func TestChatHistory_DefaultAndInvalidLimit(t *testing.T) {
	chat := new(mockChat)
	chat.On("History", mock.Anything, "r1", 50).Return([]domain.ChatMessage{}, nil)
	r := newRouter(chat, fakeRooms{}, &fakeTransport{})

	w := do(r, http.MethodGet, "/chat-history/r1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"messages":[]}`, w.Body.String())

	w = do(r, http.MethodGet, "/chat-history/r1?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	chat.AssertNumberOfCalls(t, "History", 1)
}

func TestChatHistory_StorageFailure(t *testing.T) {
	chat := new(mockChat)
	chat.On("History", mock.Anything, "r1", 50).Return(nil, errors.New("db down"))
	r := newRouter(chat, fakeRooms{}, &fakeTransport{})

	w := do(r, http.MethodGet, "/chat-history/r1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestCreateMessage(t *testing.T) {
	chat := new(mockChat)
	uid := uint(9)
	chat.On("CreateMessage", mock.Anything, service.ChatInput{
		BoardID: 7, RoomKey: "", UserID: 9, UserName: "Ana", Text: "hola",
	}).Return(&domain.ChatMessage{ID: 1, BoardID: 7, RoomKey: "r1", UserID: &uid, UserName: "Ana", Text: "hola", Timestamp: time.Now()}, nil)
	r := newRouter(chat, fakeRooms{}, &fakeTransport{})

	w := do(r, http.MethodPost, "/chat/message", `{"boardId":"7","message":"hola","userId":9,"userName":"Ana"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp CreateMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.Message.RoomID)
	chat.AssertExpectations(t)
}

func TestCreateMessage_Errors(t *testing.T) {
	chat := new(mockChat)
	chat.On("CreateMessage", mock.Anything, mock.MatchedBy(func(in service.ChatInput) bool { return in.BoardID == 404 })).
		Return(nil, service.ErrBoardNotFound)
	r := newRouter(chat, fakeRooms{}, &fakeTransport{})

	w := do(r, http.MethodPost, "/chat/message", `{"message":"hola"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/chat/message", `{"boardId":404,"message":"hola"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomUsers(t *testing.T) {
	rooms := fakeRooms{users: map[string][]domain.Participant{"r1": {{ID: 1, Name: "A", Status: "active"}}}}
	r := newRouter(nil, rooms, &fakeTransport{})

	w := do(r, http.MethodGet, "/api/rooms/r1/users", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"roomId":"r1","active":true,"users":[{"id":1,"name":"A","status":"active"}]}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/rooms/ghost/users", "")
	assert.JSONEq(t, `{"roomId":"ghost","active":false,"users":[]}`, w.Body.String())
}

func TestEmitEvent_Routing(t *testing.T) {
	transport := &fakeTransport{}
	r := newRouter(nil, fakeRooms{}, transport)

	w := do(r, http.MethodPost, "/emit-event", `{"event":"refresh","data":{"roomId":"r1","x":1}}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/emit-event", `{"event":"notice","data":{"roomId":42}}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/emit-event", `{"event":"ping"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/emit-event", `{"event":"notice","data":{"roomId":null}}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/emit-event", `{"event":"notice","data":{"roomId":"  "}}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/emit-event", `{"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Len(t, transport.sent, 5)
	assert.Equal(t, "r1", transport.sent[0].room)
	assert.JSONEq(t, `{"roomId":"r1","x":1}`, string(transport.sent[0].payload.(json.RawMessage)))
	assert.Equal(t, "42", transport.sent[1].room, "numeric roomId targets the same room as joinRoom")
	assert.JSONEq(t, `{"roomId":42}`, string(transport.sent[1].payload.(json.RawMessage)))
	assert.Equal(t, "*", transport.sent[2].room)
	assert.Equal(t, "null", string(transport.sent[2].payload.(json.RawMessage)))
	assert.Equal(t, "*", transport.sent[3].room)
	assert.Equal(t, "*", transport.sent[4].room)
}

func TestHandleServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[error]int{
		service.ErrMalformedPayload:     http.StatusBadRequest,
		service.ErrInvalidAction:        http.StatusBadRequest,
		service.ErrBoardNotFound:        http.StatusNotFound,
		service.ErrCollaboratorNotFound: http.StatusNotFound,
		service.ErrPersistence:          http.StatusInternalServerError,
	}
	for err, code := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		HandleServiceError(c, err)
		assert.Equal(t, code, w.Code, err.Error())
	}
}
