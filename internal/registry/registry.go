// Package registry 实现了桌面客户端连接的注册与管理
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
)

// Transport 一条到桌面客户端的双工连接，由 server 包提供实现
type Transport interface {
	SendJSON(v any) error
	Close(code int, reason string) error
	RemoteAddr() string
}

// ClientConnection 表示一个已附着的桌面客户端
type ClientConnection struct {
	SessionID  string
	Transport  Transport
	AttachedAt time.Time
}

// EvictFunc 在某个会话的连接失效时被调用，cause 为失败原因
type EvictFunc func(sessionID string, cause string)

// Registry 以会话 ID 为键管理活跃连接。
// 同一会话同时至多存在一条活跃连接，后到的连接取代先到的。
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*ClientConnection
	onEvict EvictFunc
}

func NewRegistry(onEvict EvictFunc) *Registry {
	return &Registry{
		conns:   make(map[string]*ClientConnection),
		onEvict: onEvict,
	}
}

// Attach 注册一条新连接。若该会话已有活跃连接，旧连接被关闭，
// 其未完成的请求以 connection-superseded 立即失败。
func (r *Registry) Attach(sessionID string, t Transport) (*ClientConnection, bool) {
	r.mu.Lock()
	prev, superseded := r.conns[sessionID]
	if superseded {
		delete(r.conns, sessionID)
	}
	r.mu.Unlock()

	// 先让旧连接的在途请求失败，再发布新连接，
	// 否则落在新连接上的请求会被一并误判为被取代
	if superseded {
		logger.WarnF("[%s] Session superseded by a new connection from %s", sessionID, t.RemoteAddr())
		if r.onEvict != nil {
			r.onEvict(sessionID, protocol.CauseConnectionSuperseded)
		}
		if err := prev.Transport.Close(protocol.CloseSuperseded, "session superseded"); err != nil {
			logger.DebugF("[%s] Error occured while closing superseded connection, details: %v", sessionID, err)
		}
	}

	conn := &ClientConnection{
		SessionID:  sessionID,
		Transport:  t,
		AttachedAt: time.Now(),
	}

	r.mu.Lock()
	r.conns[sessionID] = conn
	count := len(r.conns)
	r.mu.Unlock()

	logger.InfoF("[%s] Client connected from %s, %d client(s) online", sessionID, t.RemoteAddr(), count)
	return conn, superseded
}

// Detach 移除连接并使该会话所有未完成请求以 connection-lost 失败。
// 仅当当前注册的传输与 t 一致时才移除，被取代的旧连接不会误删新连接。
func (r *Registry) Detach(sessionID string, t Transport) bool {
	r.mu.Lock()
	current, ok := r.conns[sessionID]
	if !ok || current.Transport != t {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, sessionID)
	count := len(r.conns)
	r.mu.Unlock()

	if r.onEvict != nil {
		r.onEvict(sessionID, protocol.CauseConnectionLost)
	}
	logger.InfoF("[%s] Client disconnected, %d client(s) online", sessionID, count)
	return true
}

func (r *Registry) Lookup(sessionID string) (*ClientConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[sessionID]
	return conn, ok
}

// ListLiveSessions 返回排序后的活跃会话 ID 列表
func (r *Registry) ListLiveSessions() []string {
	r.mu.RLock()
	sessions := make([]string, 0, len(r.conns))
	for sessionID := range r.conns {
		sessions = append(sessions, sessionID)
	}
	r.mu.RUnlock()

	sort.Strings(sessions)
	return sessions
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll 关闭所有连接，服务器停机时调用
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	conns := make([]*ClientConnection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*ClientConnection)
	r.mu.Unlock()

	for _, conn := range conns {
		if r.onEvict != nil {
			r.onEvict(conn.SessionID, protocol.CauseConnectionLost)
		}
		_ = conn.Transport.Close(code, reason)
	}
}
