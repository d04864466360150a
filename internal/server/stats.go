package server

import "time"

type SessionStats struct {
	InactiveSeconds float64 `json:"inactive_seconds"`
	HeartbeatCount  int     `json:"heartbeat_count"`
}

type Stats struct {
	Running             bool                    `json:"is_running"`
	ActiveConnections   int                     `json:"active_connections"`
	TotalConnections    int64                   `json:"total_connections"`
	TotalDisconnections int64                   `json:"total_disconnections"`
	TotalMessages       int64                   `json:"total_messages"`
	PendingRequests     int                     `json:"pending_requests"`
	Connections         map[string]SessionStats `json:"connection_details"`
}

// Stats 返回服务器统计信息的快照
func (s *Server) Stats() Stats {
	now := time.Now()

	s.mu.Lock()
	details := make(map[string]SessionStats, len(s.activity))
	for sessionID, lastActivity := range s.activity {
		details[sessionID] = SessionStats{
			InactiveSeconds: now.Sub(lastActivity).Seconds(),
			HeartbeatCount:  s.heartbeats[sessionID],
		}
	}
	stats := Stats{
		Running:             s.running,
		TotalConnections:    s.totalConnections,
		TotalDisconnections: s.totalDisconnections,
		TotalMessages:       s.totalMessages,
		Connections:         details,
	}
	s.mu.Unlock()

	stats.ActiveConnections = s.relay.Registry().Count()
	stats.PendingRequests = s.relay.PendingCount()
	return stats
}
