// Package testutil provides configurable test fakes for service interfaces.
package testutil

import (
	"context"
	"sync"

	chat "github.com/eugener/palantir/internal"
)

// WordCounter counts whitespace-separated words as tokens. Deterministic and
// cheap; tests that need exact token arithmetic use it instead of a real
// encoding.
type WordCounter struct{}

// Count returns the number of whitespace-separated fields in text.
func (WordCounter) Count(text string) int {
	n, inWord := 0, false
	for _, r := range text {
		switch {
		case r == ' ' || r == '\n' || r == '\t':
			inWord = false
		case !inWord:
			n++
			inWord = true
		}
	}
	return n
}

// FakeIdentifier resolves every caller to a fixed identity.
type FakeIdentifier struct {
	Identity *chat.Identity
	Err      error
}

// Identify returns the configured identity or error.
func (f *FakeIdentifier) Identify(context.Context, string, string) (*chat.Identity, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Identity != nil {
		return f.Identity, nil
	}
	return &chat.Identity{UserID: "test-device", Authenticated: false}, nil
}

// FakeCompleter is a configurable chat.Completer.
type FakeCompleter struct {
	CompleteFn func(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error)
	StreamFn   func(ctx context.Context, req *chat.CompletionRequest) (<-chan chat.StreamChunk, error)
}

// Complete delegates to CompleteFn or returns a default response.
func (f *FakeCompleter) Complete(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error) {
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, req)
	}
	return &chat.CompletionResponse{Content: "hello", CompletionTokens: 1}, nil
}

// CompleteStream delegates to StreamFn or streams a default reply.
func (f *FakeCompleter) CompleteStream(ctx context.Context, req *chat.CompletionRequest) (<-chan chat.StreamChunk, error) {
	if f.StreamFn != nil {
		return f.StreamFn(ctx, req)
	}
	out := make(chan chat.StreamChunk, 2)
	out <- chat.StreamChunk{Content: "hello"}
	out <- chat.StreamChunk{Done: true, CompletionTokens: 1}
	close(out)
	return out, nil
}

// MemorySessions is an in-memory session store keyed by conversation ID.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]chat.Session
}

// NewMemorySessions creates an empty MemorySessions.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: map[string]chat.Session{}}
}

// Load returns the stored session or an empty one.
func (m *MemorySessions) Load(_ context.Context, conversationID string) (chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[conversationID]; ok {
		return s, nil
	}
	return chat.Session{ConversationID: conversationID}, nil
}

// Save stores the session.
func (m *MemorySessions) Save(_ context.Context, sess chat.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ConversationID] = sess
	return nil
}

// Get returns the stored session and whether it exists.
func (m *MemorySessions) Get(conversationID string) (chat.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conversationID]
	return s, ok
}
