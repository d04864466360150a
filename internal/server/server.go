// Package server 实现了面向桌面客户端的 WebSocket 服务器
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/auth"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/database"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/relay"
)

type Options struct {
	Host                string
	Port                int
	HealthCheckInterval time.Duration
	InactiveTimeout     time.Duration
}

type Server struct {
	opts          Options
	authenticator *auth.Authenticator
	relay         *relay.Relay
	store         database.SessionStore
	upgrader      websocket.Upgrader
	httpServer    *http.Server

	mu                  sync.Mutex
	running             bool
	activity            map[string]time.Time
	heartbeats          map[string]int
	totalConnections    int64
	totalDisconnections int64
	totalMessages       int64

	stopHealth chan struct{}
	healthOnce sync.Once
}

func NewServer(opts Options, authenticator *auth.Authenticator, r *relay.Relay, store database.SessionStore) *Server {
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = 60 * time.Second
	}
	if opts.InactiveTimeout <= 0 {
		opts.InactiveTimeout = 120 * time.Second
	}
	return &Server{
		opts:          opts,
		authenticator: authenticator,
		relay:         r,
		store:         store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 桌面客户端不是浏览器，不做 Origin 校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		activity:   make(map[string]time.Time),
		heartbeats: make(map[string]int),
		stopHealth: make(chan struct{}),
	}
}

// Handler 返回 WebSocket 入口的 http.Handler，测试中可直接挂载
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

// StartServer 启动 WebSocket 服务器并阻塞
func (s *Server) StartServer() {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.FatalF("WebSocket server start error: %v", err)
		return
	}
	logger.InfoF("WebSocket server listen on %s", ln.Addr().String())
	logger.InfoF("Desktop client URL: ws://<server-ip>:%d/ws/client?session_id=<id>&token=<token>", s.opts.Port)

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	go s.healthCheckLoop()

	s.httpServer = &http.Server{Handler: s.Handler()}
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.ErrorF("WebSocket server error: %v", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnF("Fail to upgrade connection from %s, details: %v", r.RemoteAddr, err)
		return
	}

	h := &connectionHandler{
		server:    s,
		conn:      conn,
		transport: newWSTransport(conn),
		path:      r.URL.Path,
		sessionID: r.URL.Query().Get("session_id"),
		token:     r.URL.Query().Get("token"),
	}
	h.handleConnection()
}

// ShutdownCallback 注册到 event.Cleaner 的停机回调
type ShutdownCallback struct {
	server *Server
}

func NewShutdownCallback(s *Server) *ShutdownCallback {
	return &ShutdownCallback{server: s}
}

func (sc *ShutdownCallback) Invoke(ctx context.Context) error {
	return sc.server.Shutdown(ctx)
}

// Shutdown 通知所有客户端后关闭全部连接并停止服务器
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.healthOnce.Do(func() { close(s.stopHealth) })

	reg := s.relay.Registry()
	for _, sessionID := range reg.ListLiveSessions() {
		if conn, ok := reg.Lookup(sessionID); ok {
			_ = conn.Transport.SendJSON(protocol.NoticeFrame{
				Type:    protocol.TypeServerClosing,
				Message: "Server shutting down",
			})
		}
	}
	reg.CloseAll(protocol.CloseGoingAway, "server shutting down")
	s.relay.Close()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
