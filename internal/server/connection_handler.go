package server

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/auth"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
)

type connectionHandler struct {
	server    *Server
	conn      *websocket.Conn
	transport *wsTransport
	path      string
	sessionID string
	token     string
}

// handshake 校验路径与凭证，拒绝时带明确的关闭原因，绝不静默断开
func (c *connectionHandler) handshake() error {
	if c.path != "/ws/client" && c.path != "/" {
		logger.WarnF("Connection rejected: invalid path %q from %s", c.path, c.transport.RemoteAddr())
		_ = c.transport.Close(protocol.ClosePolicyViolation, "invalid path: "+c.path)
		return errors.New("invalid path")
	}

	if err := c.server.authenticator.Authenticate(c.sessionID, c.token); err != nil {
		logger.WarnF("[%s] Handshake rejected from %s, details: %v", c.sessionID, c.transport.RemoteAddr(), err)
		reason := protocol.CauseAuthRejected
		if errors.Is(err, auth.ErrMissingCredentials) {
			reason = "missing session_id or token"
		}
		_ = c.transport.Close(protocol.ClosePolicyViolation, reason)
		return err
	}

	return nil
}

func (c *connectionHandler) handleConnection() {
	if err := c.handshake(); err != nil {
		return
	}

	s := c.server
	s.relay.Registry().Attach(c.sessionID, c.transport)
	s.recordAttach(c.sessionID)

	if s.store != nil {
		if err := s.store.RecordAttach(c.sessionID, c.transport.RemoteAddr()); err != nil {
			logger.ErrorF("[%s] Fail to persist session attach, details: %v", c.sessionID, err)
		}
	}

	// 发送连接确认，附带服务端的健康检查参数
	ack := protocol.ConnectionStatusFrame{
		Type:                protocol.TypeConnectionStatus,
		Status:              "connected",
		SessionID:           c.sessionID,
		ServerTime:          float64(time.Now().UnixMilli()) / 1000,
		HealthCheckInterval: s.opts.HealthCheckInterval.Seconds(),
		InactiveTimeout:     s.opts.InactiveTimeout.Seconds(),
	}
	if err := c.transport.SendJSON(ack); err != nil {
		logger.WarnF("[%s] Fail to send connection ack, details: %v", c.sessionID, err)
	}

	defer func() {
		if s.relay.Registry().Detach(c.sessionID, c.transport) {
			s.recordDetach(c.sessionID)
			if s.store != nil {
				if err := s.store.RecordDetach(c.sessionID); err != nil {
					logger.DebugF("[%s] Fail to persist session detach, details: %v", c.sessionID, err)
				}
			}
		}
		if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			logger.DebugF("[%s] Error occured while closing connection, details: %v", c.sessionID, err)
		}
	}()

	c.readLoop()
}

func (c *connectionHandler) readLoop() {
	s := c.server

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.InactiveTimeout + 10*time.Second))

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		s.touch(c.sessionID)

		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			// 一条坏消息不影响同一连接后续的消息
			logger.WarnF("[%s] Dropping malformed message (%d bytes), details: %v", c.sessionID, len(raw), err)
			continue
		}

		logger.DebugF("[%s] Receive %s message", c.sessionID, env.Type)

		switch env.Type {
		case protocol.TypeHeartbeat:
			count := s.bumpHeartbeat(c.sessionID)
			ackFrame := protocol.HeartbeatAckFrame{
				Type:           protocol.TypeHeartbeatAck,
				Timestamp:      float64(time.Now().UnixMilli()) / 1000,
				HeartbeatCount: count,
			}
			if err := c.transport.SendJSON(ackFrame); err != nil {
				logger.WarnF("[%s] Fail to send heartbeat ack, details: %v", c.sessionID, err)
			}
		default:
			s.relay.HandleMessage(c.sessionID, env, c.transport)
		}
	}
}

func (c *connectionHandler) handleReadError(err error) {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure:
		logger.InfoF("[%s] Client close connection", c.sessionID)
	case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseGoingAway:
		logger.InfoF("[%s] Client going away", c.sessionID)
	case errors.As(err, &closeErr):
		logger.WarnF("[%s] Client disconnected, code=%d, reason=%s", c.sessionID, closeErr.Code, closeErr.Text)
	default:
		logger.WarnF("[%s] Error occured while reading message, details: %v", c.sessionID, err)
	}
}
