package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConnectionCounter 返回当前连接数，由 hub.Hub 实现
type ConnectionCounter interface {
	ClientCount() int
}

// SystemHandler 提供健康检查与服务元信息
type SystemHandler struct {
	rooms       RoomDirectory
	connections ConnectionCounter
	port        string
	environment string
}

// NewSystemHandler 创建 SystemHandler 实例
func NewSystemHandler(rooms RoomDirectory, connections ConnectionCounter, port, environment string) *SystemHandler {
	return &SystemHandler{rooms: rooms, connections: connections, port: port, environment: environment}
}

// Health 处理 GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok", "rooms": 0, "connections": 0}
	if h.rooms != nil {
		resp["rooms"] = h.rooms.RoomCount()
	}
	if h.connections != nil {
		resp["connections"] = h.connections.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

// Port 处理 GET /api/port
func (h *SystemHandler) Port(c *gin.Context) {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	c.JSON(http.StatusOK, gin.H{
		"port":        h.port,
		"url":         scheme + "://" + c.Request.Host,
		"environment": h.environment,
	})
}
