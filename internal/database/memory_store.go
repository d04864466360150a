package database

import (
	"errors"
	"sync"
	"time"
)

var ErrSessionNotFound = errors.New("session record does not exist")

// MemorySessionStore 数据库未启用时的内存实现
type MemorySessionStore struct {
	mu      sync.RWMutex
	records map[string]*SessionRecord
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{records: make(map[string]*SessionRecord)}
}

func (ms *MemorySessionStore) Get(sessionID string) (*SessionRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	record, ok := ms.records[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *record
	return &copied, nil
}

func (ms *MemorySessionStore) RecordAttach(sessionID, remoteAddr string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	record, ok := ms.records[sessionID]
	if !ok {
		record = NewSessionRecord(sessionID)
		ms.records[sessionID] = record
	}
	record.AttachCount++
	record.LastSeen = time.Now()
	record.LastRemoteAddr = remoteAddr
	return nil
}

func (ms *MemorySessionStore) RecordDetach(sessionID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	record, ok := ms.records[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	record.LastSeen = time.Now()
	return nil
}

func (ms *MemorySessionStore) List() ([]*SessionRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	records := make([]*SessionRecord, 0, len(ms.records))
	for _, record := range ms.records {
		copied := *record
		records = append(records, &copied)
	}
	return records, nil
}

func (ms *MemorySessionStore) Delete(sessionID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.records, sessionID)
	return nil
}
