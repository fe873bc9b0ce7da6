package service

// Conn 是单个客户端连接
type Conn interface {
	ID() string
	// Emit 向该连接发送一个事件，发送失败由实现方记录，不向上返回
	Emit(event string, payload interface{})
}

// Transport 是房间级多播的发布/订阅抽象，由 hub 实现。
// except 为 nil 时发送给全部目标连接。
type Transport interface {
	Join(conn Conn, roomKey string)
	Leave(conn Conn, roomKey string)
	ToRoom(roomKey, event string, payload interface{}, except Conn)
	ToAll(event string, payload interface{}, except Conn)
}
