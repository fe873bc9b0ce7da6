package dto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin/binding"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
)

// 入站事件名
const (
	EventJoinRoom           = "joinRoom"
	EventLeaveRoom          = "leaveRoom"
	EventFormUpdate         = "formUpdate"
	EventFormNameChange     = "formNameChange"
	EventChatMessage        = "chatMessage"
	EventTyping             = "typing"
	EventEscribiendo        = "escribiendo"
	EventManageCollaborator = "manageCollaborator"
	EventWidgetAdded        = "widget-added"
	EventWidgetUpdated      = "widget-updated"
	EventWidgetRemoved      = "widget-removed"
	EventWidgetSelected     = "widget-selected"

	// 旧版客户端的全局聊天事件，原样回显给所有连接
	EventLegacyChat    = "chat message"
	EventLegacyMensaje = "mensaje"
)

// 出站事件名
const (
	EventUserJoined         = "userJoined"
	EventUserLeft           = "userLeft"
	EventRoomUsers          = "roomUsers"
	EventCollaboratorList   = "collaboratorList"
	EventCollaboratorUpdate = "collaboratorUpdate"
	EventChatHistory        = "chatHistory"
	EventError              = "error"
)

// ErrInvalidPayload 负载无法解码或缺少必填字段
var ErrInvalidPayload = errors.New("invalid event payload")

// Envelope 是 WebSocket 文本帧的外层结构
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode 解码事件负载并按 binding 标签校验必填字段
func Decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// --- 入站负载 ---

type JoinRoomPayload struct {
	BoardID  ID     `json:"boardId"`
	UserID   ID     `json:"userId" binding:"required"`
	RoomID   Key    `json:"roomId" binding:"required"`
	UserName string `json:"userName"`
}

type LeaveRoomPayload struct {
	RoomID  Key             `json:"roomId"`
	User    json.RawMessage `json:"user,omitempty"`
	BoardID ID              `json:"boardId"`
}

type FormUpdatePayload struct {
	Elements json.RawMessage `json:"elements" binding:"required"`
	RoomID   Key             `json:"roomId" binding:"required"`
	User     json.RawMessage `json:"user,omitempty"`
	BoardID  ID              `json:"boardId"`
}

type FormNameChangePayload struct {
	Name    string          `json:"name" binding:"required"`
	RoomID  Key             `json:"roomId" binding:"required"`
	BoardID ID              `json:"boardId"`
	UserID  ID              `json:"userId"`
	User    json.RawMessage `json:"user,omitempty"`
}

type ChatMessagePayload struct {
	Text      string    `json:"text" binding:"required"`
	User      string    `json:"user"`
	Timestamp Timestamp `json:"timestamp"`
	RoomID    Key       `json:"roomId"` // 缺省时使用会话所在房间
	BoardID   ID        `json:"boardId"`
	UserID    ID        `json:"userId"`
}

// RoomScoped 只需要 roomId 的转发类事件 (typing、widget-*)，缺省时使用会话所在房间
type RoomScoped struct {
	RoomID Key `json:"roomId"`
}

type ManageCollaboratorPayload struct {
	Action   string `json:"action" binding:"required"`
	BoardID  ID     `json:"boardId" binding:"required"`
	UserID   ID     `json:"userId" binding:"required"`
	UserName string `json:"userName"`
	Status   string `json:"status"`
	RoomID   Key    `json:"roomId"`
	ActorID  ID     `json:"actorId"`
}

// --- 出站负载 ---

type FormSnapshot struct {
	Elements []json.RawMessage `json:"elements"`
	User     string            `json:"user"`
	RoomID   string            `json:"roomId"`
	BoardID  uint              `json:"boardId,omitempty"`
}

type FormNameSnapshot struct {
	Name    string `json:"name"`
	User    string `json:"user"`
	RoomID  string `json:"roomId"`
	BoardID uint   `json:"boardId,omitempty"`
}

type UserNotice struct {
	User   domain.Participant `json:"user"`
	RoomID string             `json:"roomId"`
}

type RoomUsers struct {
	Users  []domain.Participant `json:"users"`
	RoomID string               `json:"roomId"`
}

type CollaboratorList struct {
	BoardID       uint                  `json:"boardId"`
	Collaborators []domain.Collaborator `json:"collaborators"`
}

type CollaboratorUpdate struct {
	Action        string                `json:"action"`
	BoardID       uint                  `json:"boardId"`
	UserID        uint                  `json:"userId"`
	ActorID       uint                  `json:"actorId,omitempty"`
	Status        string                `json:"status,omitempty"`
	Collaborators []domain.Collaborator `json:"collaborators"`
}

type ChatMessageOut struct {
	ID        uint   `json:"id,omitempty"`
	BoardID   uint   `json:"boardId,omitempty"`
	RoomID    string `json:"roomId"`
	UserID    *uint  `json:"userId,omitempty"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type ChatHistory struct {
	RoomID   string           `json:"roomId"`
	Messages []ChatMessageOut `json:"messages"`
}

// ErrorDTO 发送给客户端的错误消息
type ErrorDTO struct {
	Event   string `json:"event,omitempty"` // 触发错误的入站事件
	Message string `json:"message"`
}

// FromChatMessage 把持久化的消息转换为出站结构
func FromChatMessage(m domain.ChatMessage) ChatMessageOut {
	return ChatMessageOut{
		ID:        m.ID,
		BoardID:   m.BoardID,
		RoomID:    m.RoomKey,
		UserID:    m.UserID,
		User:      m.UserName,
		Text:      m.Text,
		Timestamp: m.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}
