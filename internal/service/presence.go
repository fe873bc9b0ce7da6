package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/dto"
	"github.com/FernandoPintoL/ppsocket/internal/repository"
)

// 协作者管理动作
const (
	CollaboratorAdd    = "add"
	CollaboratorRemove = "remove"
	CollaboratorUpdate = "update"
)

// IdleNotifier 在房间最后一个连接离开时收到通知
type IdleNotifier interface {
	RoomIdle(ctx context.Context, roomKey string)
}

// PresenceService 负责加入/离开的生命周期和协作者的增删改。
// 断开连接只从内存参与者中移除用户，持久化的协作关系只在显式 remove 时删除。
type PresenceService struct {
	registry    *RoomRegistry
	sessions    *SessionTable
	memberships repository.CollaboratorRepository
	transport   Transport
	chat        *ChatService
	state       repository.RoomStateRepository // 可为 nil：不镜像到 Redis
	idle        IdleNotifier                   // 可为 nil：不做空闲回收
}

// NewPresenceService 创建 PresenceService 实例。state 和 idle 可以为 nil。
func NewPresenceService(
	registry *RoomRegistry,
	sessions *SessionTable,
	memberships repository.CollaboratorRepository,
	transport Transport,
	chat *ChatService,
	state repository.RoomStateRepository,
	idle IdleNotifier,
) *PresenceService {
	if registry == nil || sessions == nil || memberships == nil || transport == nil || chat == nil {
		panic("registry, sessions, memberships, transport and chat must be non-nil for PresenceService")
	}
	return &PresenceService{
		registry:    registry,
		sessions:    sessions,
		memberships: memberships,
		transport:   transport,
		chat:        chat,
		state:       state,
		idle:        idle,
	}
}

func defaultUserName(userID uint) string {
	return fmt.Sprintf("user-%d", userID)
}

// Join 把连接加入房间。返回的错误只报告给加入者，加入本身总会完成 (必要时退化为纯房间在线)。
// 事件顺序：formUpdate、formNameChange (有名称时) 发给加入者，userJoined 发给其他人，
// roomUsers 发给整个房间，最后 collaboratorList 和 chatHistory 发给加入者。
func (s *PresenceService) Join(ctx context.Context, conn Conn, p dto.JoinRoomPayload) error {
	roomKey := p.RoomID.String()
	userID := uint(p.UserID)
	userName := strings.TrimSpace(p.UserName)
	if userName == "" {
		userName = defaultUserName(userID)
	}
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": conn.ID(), "room_id": roomKey, "user_id": userID, "board_id": uint(p.BoardID)})

	// 每个连接只属于一个房间：换房间或换身份时先离开旧房间
	if prev, ok := s.sessions.Get(conn.ID()); ok && (prev.RoomKey != roomKey || prev.UserID != userID) {
		if taken, ok := s.sessions.Take(conn.ID()); ok {
			logCtx.WithField("previous_room", taken.RoomKey).Info("Connection switching rooms, leaving previous room")
			s.depart(ctx, conn, taken)
		}
	}
	s.sessions.Put(Session{
		ConnID:   conn.ID(),
		UserID:   userID,
		UserName: userName,
		RoomKey:  roomKey,
		State:    domain.PresencePendingJoin,
	})

	// 先订阅房间再在画板锁内读取并发送快照：并发的 formUpdate 要么已包含在快照中，
	// 要么在锁释放后才写入并转发，总是排在快照之后到达
	s.transport.Join(conn, roomKey)

	var joinErr error
	board, err := s.registry.EnsureRoom(ctx, roomKey, uint(p.BoardID), userID)
	switch {
	case err == nil:
		collaborator := domain.Collaborator{ID: userID, Name: userName, Status: domain.StatusActive}
		board, err = s.registry.WithBoard(ctx, board.ID, func(b *domain.Board) error {
			admitErr := s.admit(ctx, b, collaborator)
			s.sendSnapshot(conn, b, roomKey)
			return admitErr
		})
		if err != nil {
			logCtx.WithError(err).Error("Failed to register collaborator on join")
			joinErr = err
		}
	case errors.Is(err, ErrBoardNotFound):
		logCtx.Info("Joining room without a board")
	default:
		logCtx.WithError(err).Error("Failed to resolve board on join")
		joinErr = err
	}

	var boardID uint
	if board != nil {
		boardID = board.ID
	}

	participant := domain.Participant{ID: userID, Name: userName, Status: domain.StatusActive}
	s.registry.Enter(roomKey, boardID, participant, conn.ID(), func(users []domain.Participant, firstConn bool) {
		if firstConn {
			s.transport.ToRoom(roomKey, dto.EventUserJoined, dto.UserNotice{User: participant, RoomID: roomKey}, conn)
		}
		s.transport.ToRoom(roomKey, dto.EventRoomUsers, dto.RoomUsers{Users: users, RoomID: roomKey}, nil)
	})
	s.sessions.Update(conn.ID(), func(sess *Session) {
		sess.BoardID = boardID
		sess.State = domain.PresenceActive
	})

	if board != nil {
		conn.Emit(dto.EventCollaboratorList, dto.CollaboratorList{BoardID: board.ID, Collaborators: board.CollaboratorList()})
	}
	s.sendHistory(ctx, conn, roomKey, logCtx)
	s.mirror(ctx, roomKey)

	logCtx.Info("User joined room")
	return joinErr
}

// sendSnapshot 把画板当前的元素和名称发给加入者
func (s *PresenceService) sendSnapshot(conn Conn, b *domain.Board, roomKey string) {
	conn.Emit(dto.EventFormUpdate, dto.FormSnapshot{
		Elements: b.ElementList(),
		User:     "server",
		RoomID:   roomKey,
		BoardID:  b.ID,
	})
	if b.Name != "" {
		conn.Emit(dto.EventFormNameChange, dto.FormNameSnapshot{
			Name:    b.Name,
			User:    "server",
			RoomID:  roomKey,
			BoardID: b.ID,
		})
	}
}

// admit 确保协作关系存在并同步到画板的协作者列表，必须在画板锁内调用
func (s *PresenceService) admit(ctx context.Context, b *domain.Board, c domain.Collaborator) error {
	prev, err := s.findMembership(ctx, b.ID, c.ID)
	if err != nil {
		return err
	}
	if prev != nil {
		if prev.Status != "" {
			c.Status = prev.Status
		}
	} else if err := s.memberships.Upsert(ctx, &domain.CollaboratorMembership{BoardID: b.ID, UserID: c.ID, Status: c.Status}); err != nil {
		s.registry.metrics.PersistenceFailed("upsert_membership")
		return fmt.Errorf("%w: create membership: %v", ErrPersistence, err)
	}
	if err := s.registry.mutateCollaborators(ctx, b, func(b *domain.Board) bool { return b.AddCollaborator(c) }); err != nil {
		s.restoreMembership(ctx, b.ID, c.ID, prev)
		return err
	}
	return nil
}

// findMembership 读取当前协作关系，不存在时返回 nil
func (s *PresenceService) findMembership(ctx context.Context, boardID, userID uint) (*domain.CollaboratorMembership, error) {
	m, err := s.memberships.Find(ctx, boardID, userID)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, nil
	default:
		s.registry.metrics.PersistenceFailed("find_membership")
		return nil, fmt.Errorf("%w: find membership: %v", ErrPersistence, err)
	}
}

// restoreMembership 协作者列表写入失败后把协作关系恢复到修改前 (prev 为 nil 表示原本不存在)
func (s *PresenceService) restoreMembership(ctx context.Context, boardID, userID uint, prev *domain.CollaboratorMembership) {
	var err error
	if prev == nil {
		err = s.memberships.Delete(ctx, boardID, userID)
	} else {
		restored := *prev
		err = s.memberships.Upsert(ctx, &restored)
	}
	if err != nil {
		s.registry.metrics.PersistenceFailed("restore_membership")
		logrus.WithFields(logrus.Fields{"board_id": boardID, "user_id": userID}).WithError(err).
			Error("Failed to restore membership after collaborator list update failed")
	}
}

func (s *PresenceService) sendHistory(ctx context.Context, conn Conn, roomKey string, logCtx *logrus.Entry) {
	msgs, err := s.chat.History(ctx, roomKey, 0)
	if err != nil {
		// 历史读取失败不影响加入
		logCtx.WithError(err).Warn("Failed to load chat history on join")
		msgs = nil
	}
	conn.Emit(dto.EventChatHistory, historyPayload(roomKey, msgs))
}

// Leave 显式离开房间。会话已不存在时是空操作。
func (s *PresenceService) Leave(ctx context.Context, conn Conn, p dto.LeaveRoomPayload) error {
	sess, ok := s.sessions.Take(conn.ID())
	if !ok {
		if roomKey := p.RoomID.String(); roomKey != "" {
			s.transport.Leave(conn, roomKey)
		}
		return nil
	}
	s.depart(ctx, conn, sess)
	return nil
}

// Disconnect 连接断开时的清理，与 Leave 竞争时只有一方生效
func (s *PresenceService) Disconnect(ctx context.Context, conn Conn) {
	sess, ok := s.sessions.Take(conn.ID())
	if !ok {
		return
	}
	s.depart(ctx, conn, sess)
}

// depart 把已取出的会话从房间移除并通知剩余成员
func (s *PresenceService) depart(ctx context.Context, conn Conn, sess Session) {
	roomKey := sess.RoomKey
	s.transport.Leave(conn, roomKey)

	departed := domain.Participant{ID: sess.UserID, Name: sess.UserName, Status: string(domain.PresenceRemoved)}
	empty := s.registry.Exit(roomKey, sess.UserID, conn.ID(), func(users []domain.Participant, userGone bool) {
		if userGone {
			s.transport.ToRoom(roomKey, dto.EventUserLeft, dto.UserNotice{User: departed, RoomID: roomKey}, conn)
		}
		s.transport.ToRoom(roomKey, dto.EventRoomUsers, dto.RoomUsers{Users: users, RoomID: roomKey}, conn)
	})
	s.mirror(ctx, roomKey)

	logrus.WithFields(logrus.Fields{"conn_id": conn.ID(), "room_id": roomKey, "user_id": sess.UserID}).Info("User left room")
	if empty && s.idle != nil {
		s.idle.RoomIdle(ctx, roomKey)
	}
}

// mirror 把房间当前参与者写入 Redis 镜像，失败只记录日志
func (s *PresenceService) mirror(ctx context.Context, roomKey string) {
	if s.state == nil {
		return
	}
	users, _ := s.registry.Participants(roomKey)
	if err := s.state.SaveParticipants(ctx, roomKey, users); err != nil {
		logrus.WithField("room_id", roomKey).WithError(err).Warn("Failed to mirror room participants")
	}
}

// ManageCollaborator 增加、移除或更新协作者。
// 未知动作直接拒绝，不产生任何副作用；成功后向整个房间广播 collaboratorUpdate。
func (s *PresenceService) ManageCollaborator(ctx context.Context, conn Conn, p dto.ManageCollaboratorPayload) error {
	action := strings.ToLower(strings.TrimSpace(p.Action))
	switch action {
	case CollaboratorAdd, CollaboratorRemove, CollaboratorUpdate:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, p.Action)
	}

	boardID, userID := uint(p.BoardID), uint(p.UserID)
	status := strings.TrimSpace(p.Status)
	name := strings.TrimSpace(p.UserName)
	if name == "" {
		name = defaultUserName(userID)
	}
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": conn.ID(), "board_id": boardID, "user_id": userID, "action": action})

	if action == CollaboratorUpdate && status == "" {
		return fmt.Errorf("%w: status is required for update", ErrMalformedPayload)
	}
	if action == CollaboratorAdd && status == "" {
		status = domain.StatusActive
	}

	board, err := s.registry.WithBoard(ctx, boardID, func(b *domain.Board) error {
		prev, err := s.findMembership(ctx, b.ID, userID)
		if err != nil {
			return err
		}
		var change func(b *domain.Board) bool
		switch action {
		case CollaboratorAdd:
			if err := s.memberships.Upsert(ctx, &domain.CollaboratorMembership{BoardID: b.ID, UserID: userID, Status: status}); err != nil {
				s.registry.metrics.PersistenceFailed("upsert_membership")
				return fmt.Errorf("%w: upsert membership: %v", ErrPersistence, err)
			}
			change = func(b *domain.Board) bool {
				if b.AddCollaborator(domain.Collaborator{ID: userID, Name: name, Status: status}) {
					return true
				}
				return b.SetCollaboratorStatus(userID, status)
			}
		case CollaboratorRemove:
			if err := s.memberships.Delete(ctx, b.ID, userID); err != nil {
				s.registry.metrics.PersistenceFailed("delete_membership")
				return fmt.Errorf("%w: delete membership: %v", ErrPersistence, err)
			}
			change = func(b *domain.Board) bool { return b.RemoveCollaborator(userID) }
		default:
			if err := s.memberships.UpdateStatus(ctx, b.ID, userID, status); err != nil {
				return mapRepoError(err, ErrCollaboratorNotFound, "update membership status")
			}
			change = func(b *domain.Board) bool {
				if b.SetCollaboratorStatus(userID, status) {
					return true
				}
				// 列表缺失该项时补齐，保持与协作关系一致
				return b.AddCollaborator(domain.Collaborator{ID: userID, Name: name, Status: status})
			}
		}
		// 列表写入失败时撤销协作关系的修改，两者保持一致
		if err := s.registry.mutateCollaborators(ctx, b, change); err != nil {
			s.restoreMembership(ctx, b.ID, userID, prev)
			return err
		}
		return nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("manageCollaborator failed")
		return err
	}

	roomKey := p.RoomID.String()
	if roomKey == "" {
		roomKey = board.Room()
	}
	update := dto.CollaboratorUpdate{
		Action:        action,
		BoardID:       board.ID,
		UserID:        userID,
		ActorID:       uint(p.ActorID),
		Status:        status,
		Collaborators: board.CollaboratorList(),
	}
	if roomKey == "" {
		// 画板没有绑定房间，只能告知调用者
		conn.Emit(dto.EventCollaboratorUpdate, update)
	} else {
		s.transport.ToRoom(roomKey, dto.EventCollaboratorUpdate, update, nil)
	}
	logCtx.Info("Collaborator updated")
	return nil
}
