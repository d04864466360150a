package relay

import (
	"sync"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
)

// stateCache 保存每个会话最近一次上报的桌面状态
type stateCache struct {
	mu     sync.RWMutex
	states map[string]protocol.DesktopState
}

func newStateCache() *stateCache {
	return &stateCache{states: make(map[string]protocol.DesktopState)}
}

func (c *stateCache) Update(sessionID string, state protocol.DesktopState) {
	c.mu.Lock()
	c.states[sessionID] = state
	c.mu.Unlock()
}

func (c *stateCache) Get(sessionID string) (protocol.DesktopState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.states[sessionID]
	return state, ok
}

func (c *stateCache) Remove(sessionID string) {
	c.mu.Lock()
	delete(c.states, sessionID)
	c.mu.Unlock()
}

// DesktopState 返回某会话最近上报的桌面状态
func (r *Relay) DesktopState(sessionID string) (protocol.DesktopState, bool) {
	return r.states.Get(sessionID)
}
