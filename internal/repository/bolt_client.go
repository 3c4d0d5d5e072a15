package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"voice-agent/internal/domain"
)

var conversationsBucket = []byte("conversations")

// BoltStore keeps each conversation record as one JSON value in a local bbolt
// file, keyed by conversation id. It survives restarts.
type BoltStore struct {
	db           *bolt.DB
	systemPrompt string
}

// OpenBoltStore opens (or creates) the bbolt file at path.
func OpenBoltStore(path, systemPrompt string) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: store path must not be empty")
	}
	if err := validateSystemPrompt(systemPrompt); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create store dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("repository: open bolt %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: create bucket: %w", err)
	}
	return &BoltStore{db: db, systemPrompt: systemPrompt}, nil
}

// Get returns the record stored under conversationID.
func (s *BoltStore) Get(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConversationRecord{}, false, err
	}
	var (
		rec   domain.ConversationRecord
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, found, err = readRecord(tx, conversationID)
		return err
	})
	if err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Get: %w", err)
	}
	return rec, found, nil
}

// Upsert appends one message inside a single read-modify-write transaction, so
// a failed write leaves the previously committed record untouched.
func (s *BoltStore) Upsert(ctx context.Context, conversationID string, role domain.Role, content string) error {
	if err := validateUpsert(conversationID, role); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		rec, found, err := readRecord(tx, conversationID)
		if err != nil {
			return err
		}
		rec.ConversationID = conversationID
		rec.Messages = append(rec.Messages, domain.UpsertBatch(found, s.systemPrompt, domain.Message{Role: role, Content: content})...)

		enc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		return tx.Bucket(conversationsBucket).Put([]byte(conversationID), enc)
	})
	if err != nil {
		return fmt.Errorf("repository: Upsert: %w", err)
	}
	return nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func readRecord(tx *bolt.Tx, conversationID string) (domain.ConversationRecord, bool, error) {
	b := tx.Bucket(conversationsBucket)
	if b == nil {
		return domain.ConversationRecord{}, false, errors.New("bucket missing")
	}
	raw := b.Get([]byte(conversationID))
	if raw == nil {
		return domain.ConversationRecord{}, false, nil
	}
	var rec domain.ConversationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("decode record %q: %w", conversationID, err)
	}
	return rec, true, nil
}
