package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// wsTransport 对 websocket 连接的写入加锁，
// gorilla/websocket 不允许并发写
type wsTransport struct {
	conn       *websocket.Conn
	mu         sync.Mutex
	remoteAddr string
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
	}
}

func (t *wsTransport) SendJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = t.conn.WriteMessage(websocket.CloseMessage, msg)
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.remoteAddr
}
