package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"skillbot/internal/domain"
)

const keyPrefix = "workflow:"

// Key returns the storage key of a conversation's session.
func Key(conversationID string) string { return keyPrefix + conversationID }

// Store persists sessions in a StorageAdapter, one per conversation.
type Store struct {
	storage domain.StorageAdapter
}

func NewStore(storage domain.StorageAdapter) *Store {
	return &Store{storage: storage}
}

// Load returns the conversation's session, or nil when there is none.
func (s *Store) Load(ctx context.Context, conversationID string) (*Session, error) {
	data, found, err := s.storage.Get(ctx, Key(conversationID))
	if err != nil {
		return nil, domain.Persistence("load workflow session", err)
	}
	if !found {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, domain.Persistence("decode workflow session", err)
	}
	return &sess, nil
}

// Save writes the session, replacing any other session of its conversation.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return domain.Persistence("encode workflow session", err)
	}
	if err := s.storage.Put(ctx, Key(sess.ConversationID), data); err != nil {
		return domain.Persistence("save workflow session", err)
	}
	return nil
}

// Delete removes the conversation's session.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if err := s.storage.Delete(ctx, Key(conversationID)); err != nil {
		return domain.Persistence("delete workflow session", err)
	}
	return nil
}

// Stale returns the conversation ids of sessions not touched since cutoff.
// It needs a storage adapter that implements domain.Scanner.
func (s *Store) Stale(ctx context.Context, cutoff time.Time) ([]string, error) {
	scanner, ok := s.storage.(domain.Scanner)
	if !ok {
		return nil, fmt.Errorf("storage adapter cannot scan keys")
	}
	var ids []string
	err := scanner.Scan(ctx, keyPrefix, func(key string, _ []byte, updatedAt time.Time) bool {
		if updatedAt.Before(cutoff) {
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}
		return true
	})
	if err != nil {
		return nil, domain.Persistence("scan workflow sessions", err)
	}
	return ids, nil
}
