package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"skillbot/internal/domain"
)

const (
	conversationPrefix = "conversation:"
	defaultTitle       = "New conversation"
	titleKey           = "title"
)

// ConversationKey returns the storage key of a conversation's state.
func ConversationKey(id string) string { return conversationPrefix + id }

// ConversationStore loads and saves ConversationState through the storage adapter.
type ConversationStore struct {
	storage domain.StorageAdapter
	logger  *slog.Logger
	mu      sync.Mutex
	now     func() time.Time
}

func NewConversationStore(storage domain.StorageAdapter, logger *slog.Logger) *ConversationStore {
	return &ConversationStore{storage: storage, logger: logger, now: time.Now}
}

// Load returns the stored state, or nil when the conversation has none.
func (s *ConversationStore) Load(ctx context.Context, id string) (*domain.ConversationState, error) {
	data, found, err := s.storage.Get(ctx, ConversationKey(id))
	if err != nil {
		return nil, domain.Persistence("load conversation", err)
	}
	if !found {
		return nil, nil
	}
	var state domain.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, domain.Persistence("decode conversation", err)
	}
	return &state, nil
}

// Save writes the full state under its conversation key.
func (s *ConversationStore) Save(ctx context.Context, id string, state *domain.ConversationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return domain.Persistence("encode conversation", err)
	}
	if err := s.storage.Put(ctx, ConversationKey(id), data); err != nil {
		return domain.Persistence("save conversation", err)
	}
	return nil
}

// Delete removes the conversation's state.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	if err := s.storage.Delete(ctx, ConversationKey(id)); err != nil {
		return domain.Persistence("delete conversation", err)
	}
	return nil
}

// GetOrCreate returns the stored state, creating and persisting a fresh one
// when none exists. created reports whether a new state was written.
func (s *ConversationStore) GetOrCreate(ctx context.Context, id, userID string) (state *domain.ConversationState, created bool, err error) {
	state, err = s.Load(ctx, id)
	if err != nil || state != nil {
		return state, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check under the lock.
	state, err = s.Load(ctx, id)
	if err != nil || state != nil {
		return state, false, err
	}

	state = &domain.ConversationState{
		SessionID:   uuid.NewString(),
		UserID:      userID,
		Messages:    []domain.Message{},
		Context:     map[string]any{titleKey: defaultTitle},
		LastUpdated: s.now(),
	}
	if err := s.Save(ctx, id, state); err != nil {
		return nil, false, err
	}
	s.logger.Info("created new conversation", "conversation", id, "session", state.SessionID, "user", userID)
	return state, true, nil
}

// Title returns the conversation title kept in the state context.
func Title(state *domain.ConversationState) string {
	if state == nil {
		return defaultTitle
	}
	if t, ok := state.Context[titleKey].(string); ok && t != "" {
		return t
	}
	return defaultTitle
}

// updateTitle names the conversation after its first user message.
func updateTitle(state *domain.ConversationState, firstUserMsg string) {
	if Title(state) != defaultTitle {
		return
	}
	if state.Context == nil {
		state.Context = make(map[string]any)
	}
	state.Context[titleKey] = generateTitle(firstUserMsg)
}

func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return defaultTitle
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	if len(msg) > 60 {
		cut := strings.LastIndex(msg[:60], " ")
		if cut < 20 {
			cut = 60
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
