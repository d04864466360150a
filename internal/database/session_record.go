package database

import "time"

const SessionCollectionName = "sessions"

// SessionRecord 会话的持久化记录，跨重连与服务重启保留
type SessionRecord struct {
	SessionID      string    `bson:"session_id"`
	FirstSeen      time.Time `bson:"first_seen"`
	LastSeen       time.Time `bson:"last_seen"`
	AttachCount    int64     `bson:"attach_count"`
	LastRemoteAddr string    `bson:"last_remote_addr"`
}

type SessionStore interface {
	Get(sessionID string) (*SessionRecord, error)
	RecordAttach(sessionID, remoteAddr string) error
	RecordDetach(sessionID string) error
	List() ([]*SessionRecord, error)
	Delete(sessionID string) error
}

func NewSessionRecord(sessionID string) *SessionRecord {
	now := time.Now()
	return &SessionRecord{
		SessionID: sessionID,
		FirstSeen: now,
		LastSeen:  now,
	}
}
