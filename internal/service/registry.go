package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/metrics"
	"github.com/FernandoPintoL/ppsocket/internal/repository"
)

// participantEntry 一个用户可能从多个连接加入同一房间
type participantEntry struct {
	participant domain.Participant
	conns       map[string]struct{}
}

// liveRoom 内存中的房间，只在至少有一个连接时存在
type liveRoom struct {
	key     string
	boardID uint
	order   []uint // 加入顺序
	members map[uint]*participantEntry
}

func (r *liveRoom) snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id].participant)
	}
	return out
}

// boardLock 每个画板一把锁。refs 记录持有或等待的调用数，refs 为 0 时才能回收。
type boardLock struct {
	mu       sync.Mutex
	refs     int
	lastUsed time.Time
}

// RoomRegistry 维护活跃房间及其参与者，并对同一画板的修改串行化。
// 不同画板之间的修改互不阻塞。
type RoomRegistry struct {
	boards  repository.BoardRepository
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*liveRoom

	locksMu sync.Mutex
	locks   map[uint]*boardLock

	now func() time.Time
}

// NewRoomRegistry 创建 RoomRegistry 实例
func NewRoomRegistry(boards repository.BoardRepository, m *metrics.Metrics) *RoomRegistry {
	if boards == nil {
		panic("BoardRepository cannot be nil for RoomRegistry")
	}
	return &RoomRegistry{
		boards:  boards,
		metrics: m,
		rooms:   make(map[string]*liveRoom),
		locks:   make(map[uint]*boardLock),
		now:     time.Now,
	}
}

// ResolveBoard 统一的画板解析顺序：先按 boardID，再按房间 key。
func (r *RoomRegistry) ResolveBoard(ctx context.Context, boardID uint, roomKey string) (*domain.Board, error) {
	if boardID > 0 {
		board, err := r.boards.FindByID(ctx, boardID)
		if err == nil {
			return board, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			r.metrics.PersistenceFailed("find_board")
			return nil, mapRepoError(err, ErrBoardNotFound, "find board by id")
		}
	}
	if roomKey != "" {
		board, err := r.boards.FindByRoomKey(ctx, roomKey)
		if err == nil {
			return board, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			r.metrics.PersistenceFailed("find_board")
			return nil, mapRepoError(err, ErrBoardNotFound, "find board by room key")
		}
	}
	return nil, ErrBoardNotFound
}

// EnsureRoom 解析房间对应的画板，boardID 有效且画板不存在时创建一个空画板。
// boardID 无效且房间未绑定画板时返回 ErrBoardNotFound，调用方按纯房间在线处理。
func (r *RoomRegistry) EnsureRoom(ctx context.Context, roomKey string, boardID uint, requestingUser uint) (*domain.Board, error) {
	board, err := r.ResolveBoard(ctx, boardID, roomKey)
	if err == nil || !errors.Is(err, ErrBoardNotFound) || boardID == 0 {
		return board, err
	}

	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomKey, "board_id": boardID, "user_id": requestingUser})
	unlock := r.lockBoard(boardID)
	defer unlock()

	// 拿到锁后再查一次，并发的首次加入只有一个会真正创建
	if existing, findErr := r.boards.FindByID(ctx, boardID); findErr == nil {
		return existing, nil
	}

	board = domain.NewBoard(boardID, roomKey, requestingUser)
	err = r.boards.Create(ctx, board)
	if errors.Is(err, repository.ErrDuplicateEntry) {
		if existing, findErr := r.boards.FindByID(ctx, boardID); findErr == nil {
			return existing, nil
		}
		// 房间 key 已被其他画板占用，新画板不绑定房间
		logCtx.Warn("Room key already bound to another board, creating unbound board")
		board = domain.NewBoard(boardID, "", requestingUser)
		err = r.boards.Create(ctx, board)
	}
	if err != nil {
		r.metrics.PersistenceFailed("create_board")
		return nil, fmt.Errorf("%w: create board %d: %v", ErrPersistence, boardID, err)
	}
	logCtx.Info("Board created lazily on first join")
	return board, nil
}

// lockBoard 获取画板锁，返回释放函数
func (r *RoomRegistry) lockBoard(boardID uint) func() {
	r.locksMu.Lock()
	l, ok := r.locks[boardID]
	if !ok {
		l = &boardLock{}
		r.locks[boardID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		l.lastUsed = r.now()
		r.locksMu.Unlock()
	}
}

// Serialize 在画板锁内执行 fn，用于不需要先读取画板的单列写入
func (r *RoomRegistry) Serialize(boardID uint, fn func() error) error {
	unlock := r.lockBoard(boardID)
	defer unlock()
	return fn()
}

// WithBoard 在画板锁内读取最新的画板并执行 fn。
// 读取成功时总是返回画板 (fn 失败时为回滚后的状态)，供调用方发送快照。
func (r *RoomRegistry) WithBoard(ctx context.Context, boardID uint, fn func(b *domain.Board) error) (*domain.Board, error) {
	unlock := r.lockBoard(boardID)
	defer unlock()

	board, err := r.boards.FindByID(ctx, boardID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.metrics.PersistenceFailed("find_board")
		}
		return nil, mapRepoError(err, ErrBoardNotFound, "find board")
	}
	if fn == nil {
		return board, nil
	}
	return board, fn(board)
}

// mutateCollaborators 修改协作者列表并持久化，必须在画板锁内调用。
// change 返回 false 表示无变化，不写库；写库失败时恢复原列表。
func (r *RoomRegistry) mutateCollaborators(ctx context.Context, b *domain.Board, change func(b *domain.Board) bool) error {
	prev := b.CollaboratorList()
	if !change(b) {
		return nil
	}
	if err := r.boards.UpdateCollaborators(ctx, b.ID, b.CollaboratorList()); err != nil {
		b.Collaborators = datatypes.JSONSlice[domain.Collaborator](prev)
		r.metrics.PersistenceFailed("update_collaborators")
		return mapRepoError(err, ErrBoardNotFound, "update collaborators")
	}
	return nil
}

// AddParticipant 幂等地把用户加入画板的协作者列表
func (r *RoomRegistry) AddParticipant(ctx context.Context, boardID uint, c domain.Collaborator) (*domain.Board, error) {
	return r.WithBoard(ctx, boardID, func(b *domain.Board) error {
		return r.mutateCollaborators(ctx, b, func(b *domain.Board) bool { return b.AddCollaborator(c) })
	})
}

// RemoveParticipant 把用户从画板的协作者列表中移除
func (r *RoomRegistry) RemoveParticipant(ctx context.Context, boardID uint, userID uint) (*domain.Board, error) {
	return r.WithBoard(ctx, boardID, func(b *domain.Board) error {
		return r.mutateCollaborators(ctx, b, func(b *domain.Board) bool { return b.RemoveCollaborator(userID) })
	})
}

// Enter 把连接加入内存房间。announce 在持有注册表锁时调用，
// 所以各连接收到的 roomUsers 快照顺序与提交顺序一致。firstConn 表示该用户刚进入房间。
func (r *RoomRegistry) Enter(roomKey string, boardID uint, p domain.Participant, connID string, announce func(users []domain.Participant, firstConn bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomKey]
	if !ok {
		room = &liveRoom{key: roomKey, members: make(map[uint]*participantEntry)}
		r.rooms[roomKey] = room
		r.metrics.SetActiveRooms(len(r.rooms))
	}
	if boardID > 0 {
		room.boardID = boardID
	}

	entry, exists := room.members[p.ID]
	if !exists {
		entry = &participantEntry{participant: p, conns: make(map[string]struct{})}
		room.members[p.ID] = entry
		room.order = append(room.order, p.ID)
	}
	entry.conns[connID] = struct{}{}

	if announce != nil {
		announce(room.snapshot(), !exists)
	}
}

// Exit 把连接移出内存房间，返回房间是否因此变空 (变空的房间立即删除)。
// userGone 表示该用户的最后一个连接已离开。
func (r *RoomRegistry) Exit(roomKey string, userID uint, connID string, announce func(users []domain.Participant, userGone bool)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomKey]
	if !ok {
		return false
	}
	userGone := false
	if entry, ok := room.members[userID]; ok {
		delete(entry.conns, connID)
		if len(entry.conns) == 0 {
			userGone = true
			delete(room.members, userID)
			for i, id := range room.order {
				if id == userID {
					room.order = append(room.order[:i], room.order[i+1:]...)
					break
				}
			}
		}
	}
	empty := len(room.members) == 0
	if empty {
		delete(r.rooms, roomKey)
		r.metrics.SetActiveRooms(len(r.rooms))
	}
	if announce != nil {
		announce(room.snapshot(), userGone)
	}
	return empty
}

// Participants 返回房间当前的参与者快照
func (r *RoomRegistry) Participants(roomKey string) ([]domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomKey]
	if !ok {
		return []domain.Participant{}, false
	}
	return room.snapshot(), true
}

// IsActive 房间是否还有连接
func (r *RoomRegistry) IsActive(roomKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomKey]
	return ok
}

func (r *RoomRegistry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// ReapIdleLocks 回收空闲超过 ttl 且无人持有的画板锁，返回回收数量
func (r *RoomRegistry) ReapIdleLocks(ttl time.Duration) int {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	cutoff := r.now().Add(-ttl)
	reaped := 0
	for id, l := range r.locks {
		if l.refs == 0 && !l.lastUsed.After(cutoff) {
			delete(r.locks, id)
			reaped++
		}
	}
	return reaped
}

func (r *RoomRegistry) lockCount() int {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	return len(r.locks)
}
