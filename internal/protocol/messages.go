// Package protocol 定义了服务器与桌面客户端之间的消息格式
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// 消息类型，与桌面客户端保持一致
const (
	TypeHeartbeat          = "heartbeat"
	TypeHeartbeatAck       = "heartbeat_ack"
	TypeConnectionStatus   = "connection_status"
	TypeConnectionTimeout  = "connection_timeout"
	TypeServerClosing      = "server_closing"
	TypeCommand            = "command"
	TypeCommandResult      = "command_result"
	TypeScreenshotResponse = "screenshot_response"
	TypeDesktopState       = "desktop_state"
	TypeDesktopStateAck    = "desktop_state_ack"
)

const CommandScreenshot = "screenshot"

// WebSocket 关闭码
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseSuperseded      = 4001
)

// 失败原因，作为 error_message 返回给调用方
const (
	CauseAuthRejected         = "auth-rejected"
	CauseNoClientsConnected   = "no-clients-connected"
	CauseNoSuchSession        = "no-such-session"
	CauseConnectionSuperseded = "connection-superseded"
	CauseConnectionLost       = "connection-lost"
	CauseTimeout              = "timeout"
	CauseMalformedMessage     = "malformed-message"
	CauseCaptureFailed        = "capture-failed"
)

var ErrMissingType = errors.New("message has no type field")

// Envelope 入站消息的外层信封，Data 延迟解析
type Envelope struct {
	Type    string          `json:"type"`
	Command string          `json:"command,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// CommandFrame 服务器下发给客户端的命令
type CommandFrame struct {
	Type      string        `json:"type"`
	Command   string        `json:"command"`
	RequestID string        `json:"request_id"`
	Params    CommandParams `json:"params"`
}

type CommandParams struct {
	Type string `json:"type"`
}

func NewScreenshotCommand(requestID string) CommandFrame {
	return CommandFrame{
		Type:      TypeCommand,
		Command:   CommandScreenshot,
		RequestID: requestID,
		Params:    CommandParams{Type: "full"},
	}
}

// ScreenshotReply 客户端返回的截图结果
type ScreenshotReply struct {
	RequestID    string `json:"request_id"`
	Success      bool   `json:"success"`
	ImageBase64  string `json:"image_base64,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// CommandResult 一次请求的最终结果，每个请求恰好产生一次
type CommandResult struct {
	RequestID    string `json:"request_id"`
	SessionID    string `json:"session_id"`
	Success      bool   `json:"success"`
	Location     string `json:"location,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func FailureResult(requestID, sessionID, cause string) CommandResult {
	return CommandResult{
		RequestID:    requestID,
		SessionID:    sessionID,
		Success:      false,
		ErrorMessage: cause,
	}
}

// DesktopState 客户端上报的桌面状态
type DesktopState struct {
	Timestamp           string    `json:"timestamp"`
	ActiveWindowTitle   string    `json:"active_window_title,omitempty"`
	ActiveWindowProcess string    `json:"active_window_process,omitempty"`
	ActiveWindowPID     int       `json:"active_window_pid,omitempty"`
	RunningApps         []string  `json:"running_apps,omitempty"`
	WindowChanged       bool      `json:"window_changed,omitempty"`
	PreviousWindowTitle string    `json:"previous_window_title,omitempty"`
	ReceivedAt          time.Time `json:"-"`
}

// ConnectionStatusFrame 连接确认消息，附带服务端的超时参数
type ConnectionStatusFrame struct {
	Type                string  `json:"type"`
	Status              string  `json:"status"`
	SessionID           string  `json:"session_id"`
	ServerTime          float64 `json:"server_time"`
	HealthCheckInterval float64 `json:"health_check_interval"`
	InactiveTimeout     float64 `json:"inactive_timeout"`
}

type HeartbeatAckFrame struct {
	Type           string  `json:"type"`
	Timestamp      float64 `json:"timestamp"`
	HeartbeatCount int     `json:"heartbeat_count"`
}

type DesktopStateAckFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type NoticeFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
