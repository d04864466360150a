package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/registry"
)

var ErrNoSuchSession = errors.New(protocol.CauseNoSuchSession)

// Send 将命令帧发送给指定会话，会话不在线时立即失败
func (r *Relay) Send(sessionID string, frame protocol.CommandFrame) error {
	conn, ok := r.reg.Lookup(sessionID)
	if !ok {
		return ErrNoSuchSession
	}
	if err := conn.Transport.SendJSON(frame); err != nil {
		return fmt.Errorf("failed to send %s command to %s: %w", frame.Command, sessionID, err)
	}
	return nil
}

// HandleMessage 处理来自客户端的业务消息，由 server 的读循环调用。
// 无法解析的消息只记录日志后丢弃，不影响同一连接上的其他在途请求。
func (r *Relay) HandleMessage(sessionID string, env *protocol.Envelope, t registry.Transport) {
	switch env.Type {
	case protocol.TypeScreenshotResponse:
		r.resolveScreenshotReply(sessionID, env.Data)
	case protocol.TypeCommandResult:
		if env.Command == protocol.CommandScreenshot {
			r.resolveScreenshotReply(sessionID, env.Data)
			return
		}
		logger.DebugF("[%s] Result for unsupported command %s", sessionID, env.Command)
	case protocol.TypeDesktopState:
		r.handleDesktopState(sessionID, env.Data, t)
	default:
		logger.DebugF("[%s] Unknown message type %s", sessionID, env.Type)
	}
}

func (r *Relay) resolveScreenshotReply(sessionID string, data json.RawMessage) {
	var reply protocol.ScreenshotReply
	if err := json.Unmarshal(data, &reply); err != nil {
		logger.WarnF("[%s] Dropping malformed screenshot reply, details: %v", sessionID, err)
		return
	}
	if reply.RequestID == "" {
		logger.WarnF("[%s] Dropping screenshot reply without request_id", sessionID)
		return
	}

	result := protocol.CommandResult{
		RequestID: reply.RequestID,
		SessionID: sessionID,
		Success:   reply.Success,
		Width:     reply.Width,
		Height:    reply.Height,
	}

	if reply.Success {
		if reply.ImageBase64 != "" {
			location, err := r.saveScreenshot(reply.RequestID, reply.ImageBase64)
			if err != nil {
				logger.ErrorF("[%s] Fail to save screenshot, details: %v", sessionID, err)
			} else {
				result.Location = location
			}
		}
	} else {
		// 客户端执行了命令但截图本身失败，作为正常的失败结果返回
		result.ErrorMessage = reply.ErrorMessage
		if result.ErrorMessage == "" {
			result.ErrorMessage = protocol.CauseCaptureFailed
		}
	}

	if !r.table.Resolve(reply.RequestID, result) {
		logger.DebugF("[%s] Straggler reply for request %s ignored", sessionID, reply.RequestID)
	}
}

func (r *Relay) handleDesktopState(sessionID string, data json.RawMessage, t registry.Transport) {
	var state protocol.DesktopState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.WarnF("[%s] Dropping malformed desktop state, details: %v", sessionID, err)
		return
	}
	if state.Timestamp == "" {
		state.Timestamp = time.Now().Format(time.RFC3339)
	}
	state.ReceivedAt = time.Now()
	r.states.Update(sessionID, state)
	logger.DebugF("[%s] Desktop state updated, window=%s", sessionID, state.ActiveWindowTitle)

	if t != nil {
		ack := protocol.DesktopStateAckFrame{
			Type:      protocol.TypeDesktopStateAck,
			Timestamp: state.Timestamp,
		}
		if err := t.SendJSON(ack); err != nil {
			logger.WarnF("[%s] Fail to send desktop state ack, details: %v", sessionID, err)
		}
	}
}
