package server

import (
	"time"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/protocol"
)

// healthCheckLoop 周期检查所有连接的活跃时间，清理超时的死连接
func (s *Server) healthCheckLoop() {
	ticker := time.NewTicker(s.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopHealth:
			return
		case now := <-ticker.C:
			s.sweepDeadConnections(now)
		}
	}
}

func (s *Server) sweepDeadConnections(now time.Time) {
	s.mu.Lock()
	var dead []string
	for sessionID, lastActivity := range s.activity {
		if now.Sub(lastActivity) > s.opts.InactiveTimeout {
			dead = append(dead, sessionID)
		}
	}
	s.mu.Unlock()

	reg := s.relay.Registry()
	for _, sessionID := range dead {
		conn, ok := reg.Lookup(sessionID)
		if !ok {
			s.forgetSession(sessionID)
			continue
		}
		logger.WarnF("[%s] Client inactive for more than %v, evicting", sessionID, s.opts.InactiveTimeout)
		_ = conn.Transport.SendJSON(protocol.NoticeFrame{
			Type:    protocol.TypeConnectionTimeout,
			Message: "Connection timed out due to inactivity",
		})
		_ = conn.Transport.Close(protocol.CloseNormal, "connection timeout")
		if reg.Detach(sessionID, conn.Transport) {
			s.recordDetach(sessionID)
		}
	}

	if count := reg.Count(); count > 0 || len(dead) > 0 {
		logger.DebugF("Health check finished: %d active, %d evicted", count, len(dead))
	}
}

func (s *Server) recordAttach(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[sessionID] = time.Now()
	s.heartbeats[sessionID] = 0
	s.totalConnections++
}

func (s *Server) recordDetach(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activity, sessionID)
	delete(s.heartbeats, sessionID)
	s.totalDisconnections++
}

func (s *Server) forgetSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activity, sessionID)
	delete(s.heartbeats, sessionID)
}

func (s *Server) touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[sessionID] = time.Now()
	s.totalMessages++
}

func (s *Server) bumpHeartbeat(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[sessionID]++
	return s.heartbeats[sessionID]
}
