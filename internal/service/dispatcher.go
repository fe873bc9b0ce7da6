package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/dto"
	"github.com/FernandoPintoL/ppsocket/internal/metrics"
)

// KnownEvents 是全部合法的入站事件名
var KnownEvents = []string{
	dto.EventJoinRoom, dto.EventLeaveRoom,
	dto.EventFormUpdate, dto.EventFormNameChange,
	dto.EventChatMessage, dto.EventTyping, dto.EventEscribiendo,
	dto.EventManageCollaborator,
	dto.EventWidgetAdded, dto.EventWidgetUpdated, dto.EventWidgetRemoved, dto.EventWidgetSelected,
	dto.EventLegacyChat, dto.EventLegacyMensaje,
}

// Dispatcher 是连接事件的入口：先取出连接的会话上下文，再把事件路由到对应的服务。
// 服务返回的错误以 error 事件只发给发送者，不会断开连接。
type Dispatcher struct {
	sessions  *SessionTable
	presence  *PresenceService
	sync      *DocumentSync
	chat      *ChatService
	transport Transport
	metrics   *metrics.Metrics
}

// NewDispatcher 创建 Dispatcher 实例
func NewDispatcher(sessions *SessionTable, presence *PresenceService, sync *DocumentSync, chat *ChatService, transport Transport, m *metrics.Metrics) *Dispatcher {
	if sessions == nil || presence == nil || sync == nil || chat == nil || transport == nil {
		panic("all dependencies must be non-nil for Dispatcher")
	}
	m.RegisterEvents(KnownEvents...)
	return &Dispatcher{
		sessions:  sessions,
		presence:  presence,
		sync:      sync,
		chat:      chat,
		transport: transport,
		metrics:   m,
	}
}

// Dispatch 处理一个入站事件
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, env dto.Envelope) {
	d.metrics.EventReceived(env.Event)
	if err := d.handle(ctx, conn, env); err != nil {
		logrus.WithFields(logrus.Fields{"conn_id": conn.ID(), "event": env.Event}).WithError(err).Debug("Event reported an error to sender")
		conn.Emit(dto.EventError, dto.ErrorDTO{Event: env.Event, Message: clientMessage(err)})
	}
}

// Disconnect 断开连接时执行与 leaveRoom 相同的离开流程，并丢弃会话
func (d *Dispatcher) Disconnect(ctx context.Context, conn Conn) {
	d.presence.Disconnect(ctx, conn)
}

func (d *Dispatcher) handle(ctx context.Context, conn Conn, env dto.Envelope) error {
	sess, inRoom := d.sessions.Get(conn.ID())
	roomOr := func(k dto.Key) string {
		if k != "" {
			return k.String()
		}
		if inRoom {
			return sess.RoomKey
		}
		return ""
	}

	switch env.Event {
	case dto.EventJoinRoom:
		var p dto.JoinRoomPayload
		if err := dto.Decode(env.Data, &p); err != nil {
			return err
		}
		return d.presence.Join(ctx, conn, p)

	case dto.EventLeaveRoom:
		var p dto.LeaveRoomPayload
		if err := dto.Decode(env.Data, &p); err != nil {
			return err
		}
		return d.presence.Leave(ctx, conn, p)

	case dto.EventFormUpdate:
		var p dto.FormUpdatePayload
		if err := dto.Decode(env.Data, &p); err != nil {
			return err
		}
		return d.sync.FormUpdate(ctx, conn, p, env.Data)

	case dto.EventFormNameChange:
		var p dto.FormNameChangePayload
		if err := dto.Decode(env.Data, &p); err != nil {
			return err
		}
		return d.sync.FormNameChange(ctx, conn, p, env.Data)

	case dto.EventChatMessage:
		var p dto.ChatMessagePayload
		if err := dto.Decode(env.Data, &p); err != nil {
			return err
		}
		roomKey := roomOr(p.RoomID)
		if roomKey == "" {
			return ErrNotInRoom
		}
		in := ChatInput{
			BoardID:   uint(p.BoardID),
			RoomKey:   roomKey,
			UserID:    uint(p.UserID),
			UserName:  p.User,
			Text:      p.Text,
			Timestamp: p.Timestamp.Time,
		}
		if inRoom && sess.RoomKey == roomKey {
			if in.UserID == 0 {
				in.UserID = sess.UserID
			}
			if in.UserName == "" {
				in.UserName = sess.UserName
			}
			if in.BoardID == 0 {
				in.BoardID = sess.BoardID
			}
		}
		return d.chat.PostMessage(ctx, conn, in)

	case dto.EventTyping,
		dto.EventWidgetAdded, dto.EventWidgetUpdated, dto.EventWidgetRemoved, dto.EventWidgetSelected:
		var p dto.RoomScoped
		if err := dto.Decode(env.Data, &p); err != nil {
			return err
		}
		roomKey := roomOr(p.RoomID)
		if roomKey == "" {
			return ErrNotInRoom
		}
		d.sync.Relay(conn, roomKey, env.Event, env.Data)
		return nil

	case dto.EventEscribiendo:
		// 旧版客户端可能只发一个字符串：有房间时转发到房间，否则广播给其他所有连接
		var p dto.RoomScoped
		if isJSONObject(env.Data) {
			_ = json.Unmarshal(env.Data, &p)
		}
		if roomKey := roomOr(p.RoomID); roomKey != "" {
			d.sync.Relay(conn, roomKey, env.Event, env.Data)
		} else {
			d.transport.ToAll(env.Event, env.Data, conn)
		}
		return nil

	case dto.EventManageCollaborator:
		var p dto.ManageCollaboratorPayload
		if err := dto.Decode(env.Data, &p); err != nil {
			return err
		}
		if p.RoomID == "" && inRoom {
			p.RoomID = dto.Key(sess.RoomKey)
		}
		if p.ActorID == 0 && inRoom {
			p.ActorID = dto.ID(sess.UserID)
		}
		return d.presence.ManageCollaborator(ctx, conn, p)

	case dto.EventLegacyChat, dto.EventLegacyMensaje:
		// 全局回显，包括发送者自己
		d.transport.ToAll(env.Event, env.Data, nil)
		return nil

	default:
		logrus.WithFields(logrus.Fields{"conn_id": conn.ID(), "event": env.Event}).Warn("Unknown event received")
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func isJSONObject(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
