package service

import (
	"sync"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
)

// Session 记录一个连接当前的用户和房间
type Session struct {
	ConnID   string
	UserID   uint
	UserName string
	RoomKey  string
	BoardID  uint // 0 表示房间未绑定画板
	State    domain.PresenceState
}

// SessionTable 连接 ID -> 会话。每个连接同一时间只属于一个房间。
type SessionTable struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*Session)}
}

// Get 返回会话副本
func (t *SessionTable) Get(connID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Put 写入会话，覆盖同一连接之前的记录
func (t *SessionTable) Put(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := s
	t.sessions[s.ConnID] = &cp
}

// Update 在会话存在时修改它，返回是否存在
func (t *SessionTable) Update(connID string, fn func(s *Session)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[connID]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// Take 原子地取出并删除会话。并发的 leaveRoom 和断开只有一方能拿到会话，
// 另一方得到 false，清理因此只执行一次。
func (t *SessionTable) Take(connID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[connID]
	if !ok {
		return Session{}, false
	}
	delete(t.sessions, connID)
	s.State = domain.PresenceRemoved
	return *s, true
}

func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
