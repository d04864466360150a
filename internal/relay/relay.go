// Package relay 实现了截图命令的下发与异步响应的关联，
// 对调用方呈现为一次阻塞式调用
package relay

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/pending"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/registry"
)

type Options struct {
	DefaultSession string
	RequestTimeout time.Duration
	SweepInterval  time.Duration
	ScreenshotDir  string
}

// Relay 聚合连接注册表与在途请求表，是调用方唯一的入口。
// 所有连接状态与请求状态的变更都经由这两个组件完成。
type Relay struct {
	reg   *registry.Registry
	table *pending.Table
	opts  Options

	states *stateCache

	stopSweeper func()
}

func New(opts Options) *Relay {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}
	if opts.ScreenshotDir == "" {
		opts.ScreenshotDir = "temp/remote_screenshots"
	}

	r := &Relay{
		table:  pending.NewTable(),
		opts:   opts,
		states: newStateCache(),
	}
	r.reg = registry.NewRegistry(r.onEvict)
	r.stopSweeper = r.table.StartSweeper(opts.SweepInterval)
	return r
}

// onEvict 连接失效时使该会话的在途请求立即失败，而不是等到超时
func (r *Relay) onEvict(sessionID, cause string) {
	r.table.FailAll(sessionID, cause)
	if cause == protocol.CauseConnectionLost {
		r.states.Remove(sessionID)
	}
}

func (r *Relay) Registry() *registry.Registry {
	return r.reg
}

func (r *Relay) Close() {
	r.stopSweeper()
}

// ListConnectedSessions 返回当前在线的会话 ID，调用方可据此提前短路
func (r *Relay) ListConnectedSessions() []string {
	return r.reg.ListLiveSessions()
}

// RequestScreenshot 请求指定会话截图并阻塞等待结果。
// sessionID 为空时选择默认目标：配置的默认会话在线则用之，
// 否则取会话 ID 排序后的第一个。阻塞的只是调用方自身，
// 其他会话以及同一会话的并发请求互不影响。
func (r *Relay) RequestScreenshot(sessionID string, timeout time.Duration) protocol.CommandResult {
	if timeout <= 0 {
		timeout = r.opts.RequestTimeout
	}

	target := sessionID
	if target == "" {
		live := r.reg.ListLiveSessions()
		if len(live) == 0 {
			return protocol.FailureResult("", "", protocol.CauseNoClientsConnected)
		}
		target = live[0]
		if r.opts.DefaultSession != "" {
			for _, s := range live {
				if s == r.opts.DefaultSession {
					target = s
					break
				}
			}
		}
	}

	if _, ok := r.reg.Lookup(target); !ok {
		return protocol.FailureResult("", target, protocol.CauseNoSuchSession)
	}

	requestID := uuid.NewString()
	deadline := time.Now().Add(timeout)
	waiter := r.table.Register(requestID, target, deadline)

	if err := r.Send(target, protocol.NewScreenshotCommand(requestID)); err != nil {
		// 发送失败的请求不留下表项。会话仍在线但写入失败时，
		// 失败原因是连接丢失而不是会话不存在
		cause := protocol.CauseConnectionLost
		if errors.Is(err, ErrNoSuchSession) {
			cause = protocol.CauseNoSuchSession
		}
		r.table.Fail(requestID, cause)
		result := <-waiter.Done()
		logger.WarnF("[%s] Fail to send screenshot command, details: %v", target, err)
		return result
	}

	logger.InfoF("[%s] Screenshot command sent, request_id=%s, timeout=%v", target, requestID, timeout)

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case result := <-waiter.Done():
		return result
	case <-timer.C:
		// 迟到的响应可能与定时器竞争，以表中先决议者为准
		if r.table.Fail(requestID, protocol.CauseTimeout) {
			logger.WarnF("[%s] Screenshot request timed out, request_id=%s", target, requestID)
		}
		return <-waiter.Done()
	}
}

// PendingCount 当前在途请求数量，用于统计接口
func (r *Relay) PendingCount() int {
	return r.table.Len()
}
