package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/dto"
	gormpersistence "github.com/FernandoPintoL/ppsocket/internal/infra/persistence/gorm"
	"github.com/FernandoPintoL/ppsocket/internal/repository"
)

// --- 伪造的连接与传输层 ---

type emitted struct {
	Event   string
	Payload interface{}
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []emitted
	// onEmit 在记录事件后调用，用于在事件到达的时刻注入并发操作
	onEmit func(event string, payload interface{})
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload interface{}) {
	c.mu.Lock()
	c.events = append(c.events, emitted{Event: event, Payload: payload})
	c.mu.Unlock()
	if c.onEmit != nil {
		c.onEmit(event, payload)
	}
}

// Names 按顺序返回收到的事件名
func (c *fakeConn) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Event)
	}
	return out
}

// Payloads 返回某个事件的全部负载
func (c *fakeConn) Payloads(event string) []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []interface{}
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Last 返回某个事件最近一次的负载
func (c *fakeConn) Last(event string) (interface{}, bool) {
	all := c.Payloads(event)
	if len(all) == 0 {
		return nil, false
	}
	return all[len(all)-1], true
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

type fakeTransport struct {
	mu    sync.Mutex
	all   map[string]*fakeConn
	rooms map[string]map[string]*fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{all: make(map[string]*fakeConn), rooms: make(map[string]map[string]*fakeConn)}
}

func (t *fakeTransport) connect(c *fakeConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.all[c.id] = c
}

func (t *fakeTransport) Join(conn Conn, roomKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[roomKey] == nil {
		t.rooms[roomKey] = make(map[string]*fakeConn)
	}
	t.rooms[roomKey][conn.ID()] = conn.(*fakeConn)
}

func (t *fakeTransport) Leave(conn Conn, roomKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms[roomKey], conn.ID())
}

func (t *fakeTransport) targets(set map[string]*fakeConn, except Conn) []*fakeConn {
	out := make([]*fakeConn, 0, len(set))
	for id, c := range set {
		if except != nil && except.ID() == id {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (t *fakeTransport) ToRoom(roomKey, event string, payload interface{}, except Conn) {
	t.mu.Lock()
	targets := t.targets(t.rooms[roomKey], except)
	t.mu.Unlock()
	for _, c := range targets {
		c.Emit(event, payload)
	}
}

func (t *fakeTransport) ToAll(event string, payload interface{}, except Conn) {
	t.mu.Lock()
	targets := t.targets(t.all, except)
	t.mu.Unlock()
	for _, c := range targets {
		c.Emit(event, payload)
	}
}

// --- 交错注入 ---

// jitterBoards 在每次存储调用前随机让出，放大并发加入时的交错
type jitterBoards struct {
	repository.BoardRepository
}

func jitter() { time.Sleep(time.Duration(rand.Intn(300)) * time.Microsecond) }

func (j jitterBoards) FindByID(ctx context.Context, id uint) (*domain.Board, error) {
	jitter()
	return j.BoardRepository.FindByID(ctx, id)
}

func (j jitterBoards) UpdateCollaborators(ctx context.Context, id uint, list []domain.Collaborator) error {
	jitter()
	return j.BoardRepository.UpdateCollaborators(ctx, id, list)
}

// --- 测试环境 ---

var dbCounter int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", atomic.AddInt64(&dbCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&domain.Board{}, &domain.CollaboratorMembership{}, &domain.ChatMessage{}))
	return db
}

type testEnv struct {
	boards      repository.BoardRepository
	memberships repository.CollaboratorRepository
	messages    repository.MessageRepository
	transport   *fakeTransport
	sessions    *SessionTable
	registry    *RoomRegistry
	chat        *ChatService
	presence    *PresenceService
	sync        *DocumentSync
	dispatcher  *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	boards := jitterBoards{gormpersistence.NewGormBoardRepository(db)}
	return buildEnv(boards, gormpersistence.NewGormCollaboratorRepository(db), gormpersistence.NewGormMessageRepository(db))
}

func buildEnv(boards repository.BoardRepository, memberships repository.CollaboratorRepository, messages repository.MessageRepository) *testEnv {
	env := &testEnv{
		boards:      boards,
		memberships: memberships,
		messages:    messages,
		transport:   newFakeTransport(),
		sessions:    NewSessionTable(),
	}
	env.registry = NewRoomRegistry(boards, nil)
	env.chat = NewChatService(messages, env.registry, env.transport, nil, DefaultHistoryLimit)
	env.presence = NewPresenceService(env.registry, env.sessions, memberships, env.transport, env.chat, nil, nil)
	env.sync = NewDocumentSync(env.registry, boards, env.transport, nil)
	env.dispatcher = NewDispatcher(env.sessions, env.presence, env.sync, env.chat, env.transport, nil)
	return env
}

func (e *testEnv) connect(id string) *fakeConn {
	c := newFakeConn(id)
	e.transport.connect(c)
	return c
}

func (e *testEnv) dispatch(conn Conn, event string, data string) {
	e.dispatcher.Dispatch(context.Background(), conn, envelope(event, data))
}

func envelope(event, data string) dto.Envelope {
	return dto.Envelope{Event: event, Data: json.RawMessage(data)}
}

func mustBoard(t *testing.T, e *testEnv, id uint) *domain.Board {
	t.Helper()
	b, err := e.boards.FindByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func seedBoard(t *testing.T, e *testEnv, id uint, roomKey string, elements string) {
	t.Helper()
	b := domain.NewBoard(id, roomKey, 1)
	if elements != "" {
		b.Elements = datatypes.JSON(elements)
	}
	require.NoError(t, e.boards.Create(context.Background(), b))
}

func participantIDs(users []domain.Participant) []uint {
	out := make([]uint, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func collaboratorIDs(list []domain.Collaborator) []uint {
	out := make([]uint, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}
