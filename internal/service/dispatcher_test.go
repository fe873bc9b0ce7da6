package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FernandoPintoL/ppsocket/internal/dto"
)

func TestDispatch_UnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("conn-a")

	env.dispatch(a, "nope", `{}`)

	errs := a.Payloads(dto.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, dto.ErrorDTO{Event: "nope", Message: "Unknown event"}, errs[0])
}

func TestDispatch_MissingRequiredFieldsRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("conn-a")

	env.dispatch(a, dto.EventJoinRoom, `{"roomId":"r1"}`)

	errs := a.Payloads(dto.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Malformed payload", errs[0].(dto.ErrorDTO).Message)
	assert.Equal(t, 0, env.sessions.Len(), "校验失败不创建会话")
	assert.False(t, env.registry.IsActive("r1"))
}

func TestDispatch_LegacyChatEchoesToEveryone(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("conn-a")
	b := env.connect("conn-b")

	env.dispatch(a, dto.EventLegacyChat, `"hola a todos"`)
	env.dispatch(a, dto.EventLegacyMensaje, `{"texto":"hola"}`)

	for _, c := range []*fakeConn{a, b} {
		assert.Equal(t, []string{dto.EventLegacyChat, dto.EventLegacyMensaje}, c.Names(), "旧版聊天事件回显给所有连接，包括发送者")
	}
	got, _ := b.Last(dto.EventLegacyChat)
	assert.Equal(t, `"hola a todos"`, string(got.(json.RawMessage)))
}

func TestDispatch_EscribiendoWithoutRoomBroadcastsToOthers(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("conn-a")
	b := env.connect("conn-b")

	env.dispatch(a, dto.EventEscribiendo, `"Ana"`)

	assert.Empty(t, a.Names())
	assert.Equal(t, []string{dto.EventEscribiendo}, b.Names())
}

func TestDispatch_TypingUsesSessionRoom(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("conn-a")
	b := env.connect("conn-b")
	outsider := env.connect("conn-x")
	join(t, env, a, 0, 1, "r1", "A")
	join(t, env, b, 0, 2, "r1", "B")
	a.Reset()
	b.Reset()

	env.dispatch(a, dto.EventTyping, `{"user":"A"}`)
	env.dispatch(a, dto.EventEscribiendo, `{"user":"A"}`)

	assert.Equal(t, []string{dto.EventTyping, dto.EventEscribiendo}, b.Names())
	assert.Empty(t, a.Names())
	assert.Empty(t, outsider.Names(), "房间内的输入提示不外泄")
}

func TestDispatch_RoomScopedEventOutsideRoom(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("conn-a")

	env.dispatch(a, dto.EventTyping, `{"user":"A"}`)
	env.dispatch(a, dto.EventChatMessage, `{"text":"hola"}`)

	errs := a.Payloads(dto.EventError)
	require.Len(t, errs, 2)
	assert.Equal(t, "Join a room first", errs[0].(dto.ErrorDTO).Message)
}

func TestDispatch_LeaveRoomEvent(t *testing.T) {
	env := newTestEnv(t)
	a := env.connect("conn-a")
	b := env.connect("conn-b")
	env.dispatch(a, dto.EventJoinRoom, `{"roomId":"r1","userId":"1","userName":"A","boardId":"7"}`)
	env.dispatch(b, dto.EventJoinRoom, `{"roomId":"r1","userId":2,"userName":"B","boardId":7}`)
	require.Empty(t, a.Payloads(dto.EventError))

	env.dispatch(b, dto.EventLeaveRoom, `{"roomId":"r1","user":"B"}`)

	last, _ := a.Last(dto.EventRoomUsers)
	assert.Equal(t, []uint{1}, participantIDs(last.(dto.RoomUsers).Users))
	_, ok := env.sessions.Get("conn-b")
	assert.False(t, ok)
}
