// Package session persists conversation histories keyed by conversation ID,
// with an in-memory W-TinyLFU cache in front of the store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maypok86/otter/v2"

	chat "github.com/eugener/palantir/internal"
)

const (
	defaultCacheSize = 10_000
	defaultCacheTTL  = 10 * time.Minute
)

// Store is the persistence interface consumed by Manager.
type Store interface {
	GetSession(ctx context.Context, conversationID string) ([]byte, error)
	PutSession(ctx context.Context, conversationID string, data []byte) error
}

// Manager loads and saves sessions. Sessions are owned by exactly one request
// at a time; the cache holds decoded values to skip the JSON round-trip on
// consecutive turns of the same conversation.
type Manager struct {
	store Store
	cache *otter.Cache[string, chat.Session]
}

// NewManager creates a Manager. Zero cacheSize/cacheTTL use defaults.
func NewManager(store Store, cacheSize int, cacheTTL time.Duration) (*Manager, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	c, err := otter.New(&otter.Options[string, chat.Session]{
		MaximumSize:      cacheSize,
		ExpiryCalculator: otter.ExpiryWriting[string, chat.Session](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	return &Manager{store: store, cache: c}, nil
}

// Load returns the session for conversationID. A missing record yields a
// fresh empty session. Persisted data that fails to parse is discarded and
// replaced with a fresh session rather than failing the turn.
func (m *Manager) Load(ctx context.Context, conversationID string) (chat.Session, error) {
	if sess, ok := m.cache.GetIfPresent(conversationID); ok {
		return sess, nil
	}

	data, err := m.store.GetSession(ctx, conversationID)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Session{ConversationID: conversationID}, nil
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("session: load %s: %w", conversationID, err)
	}

	var sess chat.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		err = fmt.Errorf("%w: %v", chat.ErrMalformedSession, err)
		slog.LogAttrs(ctx, slog.LevelWarn, "discarding malformed session",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
		return chat.Session{ConversationID: conversationID}, nil
	}
	sess.ConversationID = conversationID
	return sess, nil
}

// Save persists the session and refreshes the cache entry.
func (m *Manager) Save(ctx context.Context, sess chat.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", sess.ConversationID, err)
	}
	if err := m.store.PutSession(ctx, sess.ConversationID, data); err != nil {
		return fmt.Errorf("session: save %s: %w", sess.ConversationID, err)
	}
	m.cache.Set(sess.ConversationID, sess)
	return nil
}

// Invalidate drops the cached copy of a conversation.
func (m *Manager) Invalidate(conversationID string) {
	m.cache.Invalidate(conversationID)
}
