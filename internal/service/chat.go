package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/dto"
	"github.com/FernandoPintoL/ppsocket/internal/metrics"
	"github.com/FernandoPintoL/ppsocket/internal/repository"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
	anonymousAuthor     = "Anonymous"
)

// ChatInput 一条待保存的聊天消息
type ChatInput struct {
	BoardID   uint
	RoomKey   string
	UserID    uint // 0 表示匿名
	UserName  string
	Text      string
	Timestamp time.Time // 零值时使用接收时间
}

// ChatService 房间内只追加的消息日志。消息写入互相可交换，不需要画板锁。
type ChatService struct {
	messages     repository.MessageRepository
	registry     *RoomRegistry
	transport    Transport
	metrics      *metrics.Metrics
	historyLimit int
}

// NewChatService 创建 ChatService 实例，historyLimit <= 0 时使用默认值 50
func NewChatService(messages repository.MessageRepository, registry *RoomRegistry, transport Transport, m *metrics.Metrics, historyLimit int) *ChatService {
	if messages == nil || registry == nil || transport == nil {
		panic("MessageRepository, RoomRegistry and Transport must be non-nil for ChatService")
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if historyLimit > MaxHistoryLimit {
		historyLimit = MaxHistoryLimit
	}
	return &ChatService{
		messages:     messages,
		registry:     registry,
		transport:    transport,
		metrics:      m,
		historyLimit: historyLimit,
	}
}

func (s *ChatService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.historyLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// History 从存储按新到旧取最近 limit 条，再反转为时间正序交付
func (s *ChatService) History(ctx context.Context, roomKey string, limit int) ([]domain.ChatMessage, error) {
	msgs, err := s.messages.ListRecentByRoom(ctx, roomKey, s.clampLimit(limit))
	if err != nil {
		s.metrics.PersistenceFailed("list_messages")
		return nil, fmt.Errorf("%w: list messages: %v", ErrPersistence, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// PostMessage 保存消息后转发给房间内其他连接。
// 保存失败时消息仍然转发，错误只返回给发送者。
func (s *ChatService) PostMessage(ctx context.Context, conn Conn, in ChatInput) error {
	msg, err := s.append(ctx, in)
	s.transport.ToRoom(msg.RoomKey, dto.EventChatMessage, dto.FromChatMessage(msg), conn)
	return err
}

// CreateMessage 供 HTTP 使用：画板必须存在，房间 key 缺省时取画板绑定的房间。
// 保存成功后向整个房间广播。
func (s *ChatService) CreateMessage(ctx context.Context, in ChatInput) (*domain.ChatMessage, error) {
	board, err := s.registry.ResolveBoard(ctx, in.BoardID, "")
	if err != nil {
		return nil, err
	}
	in.BoardID = board.ID
	if in.RoomKey == "" {
		in.RoomKey = board.Room()
	}
	if in.RoomKey == "" {
		return nil, fmt.Errorf("%w: board %d is not bound to a room", ErrMalformedPayload, board.ID)
	}
	msg, err := s.append(ctx, in)
	if err != nil {
		return nil, err
	}
	s.transport.ToRoom(msg.RoomKey, dto.EventChatMessage, dto.FromChatMessage(msg), nil)
	return &msg, nil
}

// append 补全缺省字段并写库。失败时返回的消息仍可用于实时转发 (ID 为 0)。
func (s *ChatService) append(ctx context.Context, in ChatInput) (domain.ChatMessage, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": in.RoomKey, "board_id": in.BoardID, "user_id": in.UserID})

	if in.BoardID == 0 && in.RoomKey != "" {
		if board, err := s.registry.ResolveBoard(ctx, 0, in.RoomKey); err == nil {
			in.BoardID = board.ID
		} else if !errors.Is(err, ErrBoardNotFound) {
			logCtx.WithError(err).Warn("Failed to resolve board for chat message")
		}
	}
	name := strings.TrimSpace(in.UserName)
	if name == "" {
		name = anonymousAuthor
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := domain.ChatMessage{
		BoardID:   in.BoardID,
		RoomKey:   in.RoomKey,
		UserName:  name,
		Text:      in.Text,
		Timestamp: ts.UTC(),
	}
	if in.UserID > 0 {
		uid := in.UserID
		msg.UserID = &uid
	}

	if err := s.messages.Create(ctx, &msg); err != nil {
		logCtx.WithError(err).Error("Failed to persist chat message")
		s.metrics.PersistenceFailed("create_message")
		return msg, fmt.Errorf("%w: create message: %v", ErrPersistence, err)
	}
	s.metrics.ChatMessageStored()
	return msg, nil
}

// historyPayload 把消息列表转换为出站结构
func historyPayload(roomKey string, msgs []domain.ChatMessage) dto.ChatHistory {
	out := dto.ChatHistory{RoomID: roomKey, Messages: make([]dto.ChatMessageOut, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, dto.FromChatMessage(m))
	}
	return out
}
