// Package pending 实现了在途请求与异步响应的关联表
package pending

import (
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
)

// Waiter 一次请求的等待句柄，Done 通道恰好收到一个结果
type Waiter struct {
	RequestID string
	SessionID string
	Deadline  time.Time
	ch        chan protocol.CommandResult
}

func (w *Waiter) Done() <-chan protocol.CommandResult {
	return w.ch
}

type entry struct {
	sessionID string
	deadline  time.Time
	ch        chan protocol.CommandResult
}

// Table 以请求 ID 为键保存所有在途请求。
// 响应可能乱序、重复或在超时后迟到，表项在首次决议时即被移除，
// 因此任何后续的决议尝试都是无害的空操作。
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Register 登记一个在途请求并返回其等待句柄
func (t *Table) Register(requestID, sessionID string, deadline time.Time) *Waiter {
	ch := make(chan protocol.CommandResult, 1)

	t.mu.Lock()
	t.entries[requestID] = &entry{
		sessionID: sessionID,
		deadline:  deadline,
		ch:        ch,
	}
	t.mu.Unlock()

	return &Waiter{
		RequestID: requestID,
		SessionID: sessionID,
		Deadline:  deadline,
		ch:        ch,
	}
}

// Resolve 以结果决议一个在途请求。
// 请求未登记或已被决议时返回 false，不产生任何影响。
func (t *Table) Resolve(requestID string, result protocol.CommandResult) bool {
	t.mu.Lock()
	e, ok := t.entries[requestID]
	if ok {
		delete(t.entries, requestID)
	}
	t.mu.Unlock()

	if !ok {
		logger.DebugF("Ignoring resolution for unknown or settled request %s", requestID)
		return false
	}

	e.ch <- result
	return true
}

// Fail 以失败原因决议一个在途请求
func (t *Table) Fail(requestID, cause string) bool {
	t.mu.Lock()
	e, ok := t.entries[requestID]
	if ok {
		delete(t.entries, requestID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	e.ch <- protocol.FailureResult(requestID, e.sessionID, cause)
	return true
}

// FailAll 使某个会话的所有在途请求立即失败，连接断开或被取代时调用
func (t *Table) FailAll(sessionID, cause string) int {
	type settled struct {
		requestID string
		e         *entry
	}

	t.mu.Lock()
	var victims []settled
	for requestID, e := range t.entries {
		if e.sessionID == sessionID {
			victims = append(victims, settled{requestID, e})
			delete(t.entries, requestID)
		}
	}
	t.mu.Unlock()

	for _, v := range victims {
		v.e.ch <- protocol.FailureResult(v.requestID, sessionID, cause)
	}

	if len(victims) > 0 {
		logger.InfoF("[%s] Failed %d pending request(s) with cause %s", sessionID, len(victims), cause)
	}
	return len(victims)
}

// Expire 使所有已过期的在途请求以 timeout 失败。
// 等待方自身也持有截止时间定时器，这里是防止表项泄漏的兜底清扫。
func (t *Table) Expire(now time.Time) int {
	type settled struct {
		requestID string
		e         *entry
	}

	t.mu.Lock()
	var victims []settled
	for requestID, e := range t.entries {
		if now.After(e.deadline) {
			victims = append(victims, settled{requestID, e})
			delete(t.entries, requestID)
		}
	}
	t.mu.Unlock()

	for _, v := range victims {
		v.e.ch <- protocol.FailureResult(v.requestID, v.e.sessionID, protocol.CauseTimeout)
	}
	return len(victims)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// StartSweeper 启动周期清扫，返回停止函数
func (t *Table) StartSweeper(interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				if n := t.Expire(now); n > 0 {
					logger.DebugF("Sweeper expired %d pending request(s)", n)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
