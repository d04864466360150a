package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
)

// DBSessionStore SessionStore 的 MongoDB 实现，
// 所有操作走包级的 Sessions 集合与 OperationTimeout
type DBSessionStore struct{}

var (
	DbStore             *DBSessionStore
	SessionIdEmptyError = errors.New("session_id is empty")
)

func NewDatabaseStore() *DBSessionStore {
	if DbStore == nil {
		DbStore = &DBSessionStore{}
	}
	return DbStore
}

func (ds *DBSessionStore) Get(sessionID string) (*SessionRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
	defer cancel()

	if sessionID == "" {
		return nil, SessionIdEmptyError
	}

	filter := bson.D{{Key: "session_id", Value: sessionID}}
	var record SessionRecord

	startTime := time.Now()
	err := Sessions.FindOne(ctx, filter).Decode(&record)
	logger.DebugF("session record query cost: %v", time.Since(startTime))

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("document does not exist: %w", err)
		}
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	return &record, nil
}

func (ds *DBSessionStore) RecordAttach(sessionID, remoteAddr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
	defer cancel()

	if sessionID == "" {
		return SessionIdEmptyError
	}

	now := time.Now()
	filter := bson.D{{Key: "session_id", Value: sessionID}}
	update := bson.D{
		{Key: "$setOnInsert", Value: bson.D{{Key: "first_seen", Value: now}}},
		{Key: "$set", Value: bson.D{
			{Key: "last_seen", Value: now},
			{Key: "last_remote_addr", Value: remoteAddr},
		}},
		{Key: "$inc", Value: bson.D{{Key: "attach_count", Value: int64(1)}}},
	}
	opts := options.Update().SetUpsert(true)

	result, err := Sessions.UpdateOne(ctx, filter, update, opts)

	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("unique key conflicts: %w", err)
		}
		return fmt.Errorf("database operation failed: %w", err)
	}

	logger.InfoF("Session attach recorded: session_id=%s, matched=%d, upserted=%v",
		sessionID,
		result.MatchedCount,
		result.UpsertedID != nil,
	)

	return nil
}

func (ds *DBSessionStore) RecordDetach(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
	defer cancel()

	if sessionID == "" {
		return SessionIdEmptyError
	}

	filter := bson.D{{Key: "session_id", Value: sessionID}}
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "last_seen", Value: time.Now()}}},
	}

	result, err := Sessions.UpdateOne(ctx, filter, update)

	if err != nil {
		return fmt.Errorf("database operation failed: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrSessionNotFound
	}

	return nil
}

func (ds *DBSessionStore) List() ([]*SessionRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
	defer cancel()

	cursor, err := Sessions.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var records []*SessionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	return records, nil
}

func (ds *DBSessionStore) Delete(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
	defer cancel()

	if sessionID == "" {
		return SessionIdEmptyError
	}

	filter := bson.D{{Key: "session_id", Value: sessionID}}
	result, err := Sessions.DeleteOne(ctx, filter)

	if err != nil {
		return fmt.Errorf("database operation failed: %w", err)
	}

	logger.InfoF("Session record deleted: session_id=%s, deleted=%d", sessionID, result.DeletedCount)

	return nil
}
