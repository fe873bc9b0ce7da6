package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/dto"
	"github.com/FernandoPintoL/ppsocket/internal/service"
)

// RoomDirectory 提供内存中的房间视图，由 service.RoomRegistry 实现
type RoomDirectory interface {
	Participants(roomKey string) ([]domain.Participant, bool)
	RoomCount() int
}

// RoomHandler 封装了房间查询与外部事件注入
type RoomHandler struct {
	rooms     RoomDirectory
	transport service.Transport
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(rooms RoomDirectory, transport service.Transport) *RoomHandler {
	if rooms == nil || transport == nil {
		panic("RoomDirectory and Transport cannot be nil for RoomHandler")
	}
	return &RoomHandler{rooms: rooms, transport: transport}
}

// RoomUsersResponse 房间在线用户响应
type RoomUsersResponse struct {
	RoomID string               `json:"roomId"`
	Active bool                 `json:"active"`
	Users  []domain.Participant `json:"users"`
}

// Users 返回房间当前在线用户，房间不活跃时返回空列表
func (h *RoomHandler) Users(c *gin.Context) {
	roomKey := strings.TrimSpace(c.Param("roomId"))
	users, active := h.rooms.Participants(roomKey)
	if users == nil {
		users = []domain.Participant{}
	}
	SuccessResponse(c, http.StatusOK, RoomUsersResponse{RoomID: roomKey, Active: active, Users: users})
}

// EmitEventRequest 外部系统注入的任意事件
type EmitEventRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

// EmitEvent 原样转发事件：data.roomId 存在时只发给该房间，否则全局广播
func (h *RoomHandler) EmitEvent(c *gin.Context) {
	var req EmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "event is required")
		return
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("null")
	}

	roomKey := targetRoom(req.Data)
	logCtx := logrus.WithFields(logrus.Fields{"event": req.Event, "room_id": roomKey})
	if roomKey != "" {
		h.transport.ToRoom(roomKey, req.Event, req.Data, nil)
		logCtx.Info("Injected event relayed to room")
	} else {
		h.transport.ToAll(req.Event, req.Data, nil)
		logCtx.Info("Injected event broadcast globally")
	}
	SuccessResponse(c, http.StatusOK, gin.H{"success": true, "event": req.Event, "roomId": roomKey})
}

// targetRoom 与 joinRoom 相同的规则解析 roomId，数字 5 与 "5" 指向同一个房间；
// 缺省、null、空值或无法解析时返回空字符串 (全局广播)
func targetRoom(data json.RawMessage) string {
	var target struct {
		RoomID dto.Key `json:"roomId"`
	}
	if err := json.Unmarshal(data, &target); err != nil {
		return ""
	}
	return target.RoomID.String()
}
