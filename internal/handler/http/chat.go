package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/domain"
	"github.com/FernandoPintoL/ppsocket/internal/dto"
	"github.com/FernandoPintoL/ppsocket/internal/service"
)

// ChatStore 是 ChatHandler 依赖的聊天能力，由 service.ChatService 实现
type ChatStore interface {
	History(ctx context.Context, roomKey string, limit int) ([]domain.ChatMessage, error)
	CreateMessage(ctx context.Context, in service.ChatInput) (*domain.ChatMessage, error)
}

// ChatHandler 封装聊天相关的 HTTP 处理逻辑
type ChatHandler struct {
	chat         ChatStore
	defaultLimit int
}

// NewChatHandler 创建 ChatHandler 实例，defaultLimit 用于未携带 limit 的请求
func NewChatHandler(chat ChatStore, defaultLimit int) *ChatHandler {
	if chat == nil {
		panic("ChatStore cannot be nil for ChatHandler")
	}
	if defaultLimit <= 0 {
		defaultLimit = service.DefaultHistoryLimit
	}
	return &ChatHandler{chat: chat, defaultLimit: defaultLimit}
}

// ChatHistoryResponse 历史消息响应，messages 按时间正序
type ChatHistoryResponse struct {
	Success  bool                 `json:"success"`
	Messages []dto.ChatMessageOut `json:"messages"`
}

// History 处理 GET /chat-history/:roomId?limit=
func (h *ChatHandler) History(c *gin.Context) {
	roomKey := strings.TrimSpace(c.Param("roomId"))
	if roomKey == "" {
		ErrorResponse(c, http.StatusBadRequest, "roomId is required")
		return
	}
	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ErrorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := h.chat.History(c.Request.Context(), roomKey, limit)
	if err != nil {
		logrus.WithField("room_id", roomKey).WithError(err).Error("Handler.History: Failed to load chat history")
		HandleServiceError(c, err)
		return
	}
	out := make([]dto.ChatMessageOut, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, dto.FromChatMessage(m))
	}
	SuccessResponse(c, http.StatusOK, ChatHistoryResponse{Success: true, Messages: out})
}

// CreateMessageRequest POST /chat/message 的请求体
type CreateMessageRequest struct {
	BoardID  dto.ID  `json:"boardId" binding:"required"`
	Message  string  `json:"message" binding:"required"`
	UserID   dto.ID  `json:"userId"`
	UserName string  `json:"userName"`
	RoomID   dto.Key `json:"roomId"`
}

// CreateMessageResponse 创建成功的响应
type CreateMessageResponse struct {
	Success bool               `json:"success"`
	Message dto.ChatMessageOut `json:"message"`
}

// CreateMessage 处理 POST /chat/message，保存后向房间广播
func (h *ChatHandler) CreateMessage(c *gin.Context) {
	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "boardId and message are required")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"board_id": req.BoardID, "room_id": req.RoomID})

	msg, err := h.chat.CreateMessage(c.Request.Context(), service.ChatInput{
		BoardID:  uint(req.BoardID),
		RoomKey:  req.RoomID.String(),
		UserID:   uint(req.UserID),
		UserName: req.UserName,
		Text:     req.Message,
	})
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateMessage: Failed to create chat message")
		HandleServiceError(c, err)
		return
	}
	logCtx.WithField("message_id", msg.ID).Info("Handler.CreateMessage: Chat message created")
	SuccessResponse(c, http.StatusCreated, CreateMessageResponse{Success: true, Message: dto.FromChatMessage(*msg)})
}
