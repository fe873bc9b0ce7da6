package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FernandoPintoL/ppsocket/internal/dto"
	"github.com/FernandoPintoL/ppsocket/internal/metrics"
	"github.com/FernandoPintoL/ppsocket/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 整个元素集合随 formUpdate 一起发送，上限按 1MB 设置
	maxMessageSize = 1 << 20

	// 每个客户端发送缓冲区大小
	sendBufferSize = 256
)

// EventHandler 处理客户端上行事件，由 service.Dispatcher 实现
type EventHandler interface {
	Dispatch(ctx context.Context, conn service.Conn, env dto.Envelope)
	Disconnect(ctx context.Context, conn service.Conn)
}

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

const (
	msgRegister   = "register"
	msgUnregister = "unregister"
)

// Hub 维护活跃客户端集合与房间订阅关系，实现 service.Transport。
type Hub struct {
	messageChan chan HubMessage

	// 全部已注册客户端
	clients map[*Client]bool
	// map[roomKey]map[*Client]bool
	rooms map[string]map[*Client]bool
	// 保护 clients / rooms 的读写锁
	mu sync.RWMutex

	metrics *metrics.Metrics
	done    chan struct{}
	once    sync.Once
}

var _ service.Transport = (*Hub)(nil)

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		clients:     make(map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
		metrics:     m,
		done:        make(chan struct{}),
	}
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行，Stop 后返回。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case msgRegister:
				h.registerClient(msg.Client)
			case msgUnregister:
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Stop 结束 Run 循环，可重复调用
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 false 表示队列已满。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// Register 请求注册客户端，队列已满时返回 false
func (h *Hub) Register(client *Client) bool {
	return h.QueueMessage(HubMessage{Type: msgRegister, Client: client})
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
	logrus.WithField("conn_id", client.ID()).Info("Client registered to Hub")
}

// unregisterClient 把客户端移出所有房间、关闭发送通道，然后驱动断开流程。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithField("conn_id", client.ID())

	h.mu.Lock()
	_, known := h.clients[client]
	delete(h.clients, client)
	for roomKey, members := range h.rooms {
		if members[client] {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, roomKey)
			}
		}
	}
	h.mu.Unlock()

	if !known {
		logCtx.Warn("Client not found during unregister")
		return
	}
	client.closeSend()
	h.metrics.ConnectionClosed()
	logCtx.Info("Client unregistered from Hub")

	// 断开流程会访问存储，不能阻塞 Hub 主循环
	if client.handler != nil {
		go client.handler.Disconnect(context.Background(), client)
	}
}

// Join 把连接订阅到房间
func (h *Hub) Join(conn service.Conn, roomKey string) {
	client, ok := conn.(*Client)
	if !ok || roomKey == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomKey]; !ok {
		h.rooms[roomKey] = make(map[*Client]bool)
	}
	h.rooms[roomKey][client] = true
}

// Leave 取消连接对房间的订阅
func (h *Hub) Leave(conn service.Conn, roomKey string) {
	client, ok := conn.(*Client)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomKey]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, roomKey)
		}
	}
}

// ToRoom 发送给房间内除 except 之外的所有连接
func (h *Hub) ToRoom(roomKey, event string, payload interface{}, except service.Conn) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[roomKey]))
	for client := range h.rooms[roomKey] {
		if service.Conn(client) != except {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()
	h.broadcast(targets, event, payload, logrus.Fields{"room_id": roomKey})
}

// ToAll 发送给除 except 之外的所有已注册连接
func (h *Hub) ToAll(event string, payload interface{}, except service.Conn) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if service.Conn(client) != except {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()
	h.broadcast(targets, event, payload, logrus.Fields{"scope": "global"})
}

// broadcast 只序列化一次，然后逐个非阻塞投递，慢客户端不会拖住其他客户端
func (h *Hub) broadcast(targets []*Client, event string, payload interface{}, fields logrus.Fields) {
	if len(targets) == 0 {
		return
	}
	logCtx := logrus.WithFields(fields).WithField("event", event)
	frame, err := encodeFrame(event, payload)
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal broadcast message")
		return
	}
	logCtx.WithField("recipient_count", len(targets)).Debug("Broadcasting message to clients")
	for _, client := range targets {
		if !client.deliver(frame) {
			logCtx.WithField("conn_id", client.ID()).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

// ClientCount 返回当前注册的连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize 返回订阅某房间的连接数
func (h *Hub) RoomSize(roomKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey])
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(dto.Envelope{Event: event, Data: data})
}
