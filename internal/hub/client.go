package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/dto"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端，实现 service.Conn。
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	handler EventHandler

	send   chan []byte // 用于向此客户端发送消息的缓冲通道
	sendMu sync.Mutex  // 保护 send 的关闭与投递
	closed bool
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, handler EventHandler) *Client {
	return &Client{
		id:      uuid.NewString(),
		hub:     hub,
		conn:    conn,
		handler: handler,
		send:    make(chan []byte, sendBufferSize),
	}
}

// ID 返回连接 ID
func (c *Client) ID() string { return c.id }

// Emit 向该连接发送一个事件
func (c *Client) Emit(event string, payload interface{}) {
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": c.id, "event": event})
	frame, err := encodeFrame(event, payload)
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal outbound message")
		return
	}
	if !c.deliver(frame) {
		logCtx.Warn("Client send channel full or closed, message dropped")
	}
}

// deliver 非阻塞投递，通道已关闭或已满时返回 false
func (c *Client) deliver(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送通道，可重复调用
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 读取 WebSocket 帧并在当前 goroutine 中同步分发，
// 同一连接的事件因此严格有序；退出时请求 Hub 注销，由 Hub 驱动断开流程。
func (c *Client) ReadPump() {
	logCtx := logrus.WithField("conn_id", c.id)
	defer func() {
		c.conn.Close()
		c.unregister()
		logCtx.Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			logCtx.Debugf("Received non-text message type: %d", messageType)
			continue
		}

		var env dto.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			logCtx.WithError(err).Debugf("Discarding undecodable frame (size: %d)", len(message))
			c.Emit(dto.EventError, dto.ErrorDTO{Message: "Malformed payload"})
			continue
		}
		if c.handler != nil {
			c.handler.Dispatch(context.Background(), c, env)
		}
	}
}

// unregister 请求 Hub 注销；Hub 已停止时直接关闭发送通道并驱动断开流程，
// 保证每个连接的断开清理都会执行
func (c *Client) unregister() {
	select {
	case <-c.hub.done:
		c.detach()
		return
	default:
	}
	select {
	case c.hub.messageChan <- HubMessage{Type: msgUnregister, Client: c}:
	case <-c.hub.done:
		c.detach()
	}
}

func (c *Client) detach() {
	logrus.WithField("conn_id", c.id).Warn("Hub stopped, driving disconnect from client")
	c.closeSend()
	if c.handler != nil {
		c.handler.Disconnect(context.Background(), c)
	}
}

// WritePump 将 send 通道中的消息写入 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	logCtx := logrus.WithField("conn_id", c.id)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logCtx.Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logCtx.WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}

// CloseConn 直接关闭底层连接，ReadPump 随之退出
func (c *Client) CloseConn() { c.conn.Close() }
