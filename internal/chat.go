// Package chat defines domain types and interfaces for the Palantir
// conversational layer. This package has no project imports -- it is the
// dependency root.
package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// --- Messages and sessions ---

// Role identifies the author of a message.
type Role string

// Message roles. The completion service accepts exactly these three.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation. TokenCount is computed once,
// when the message is created, and never recomputed afterward.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
}

// Session is the ordered message history of one conversation. Sessions have
// value semantics: Append returns a new Session and never mutates the
// receiver, so a truncated session is always a distinct value from its input.
type Session struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// Append returns a new Session with m added at the end.
func (s Session) Append(m Message) Session {
	msgs := make([]Message, 0, len(s.Messages)+1)
	msgs = append(msgs, s.Messages...)
	msgs = append(msgs, m)
	return Session{ConversationID: s.ConversationID, Messages: msgs}
}

// TotalTokens sums the stored token counts of all messages.
func (s Session) TotalTokens() int {
	total := 0
	for _, m := range s.Messages {
		total += m.TokenCount
	}
	return total
}

// Last returns the most recent message, or a zero Message for an empty session.
func (s Session) Last() Message {
	if len(s.Messages) == 0 {
		return Message{}
	}
	return s.Messages[len(s.Messages)-1]
}

// --- Quota ---

// QuotaRecord is the per-user usage ledger entry. CumulativeTokenCount is
// monotonically non-decreasing between resets and exactly zero at a reset
// boundary. A missing record means no usage yet: full budget available.
type QuotaRecord struct {
	UserID               string    `json:"user_id"`
	CumulativeTokenCount int64     `json:"cumulative_token_count"`
	LastResetAt          time.Time `json:"last_reset_at"`
	Authenticated        bool      `json:"authenticated"`
}

// DenialReason distinguishes the two ways a quota check can fail.
type DenialReason string

const (
	// DenialDailyLimit: the caller is authenticated and out of budget until
	// the next reset boundary. Signing in cannot raise the limit further.
	DenialDailyLimit DenialReason = "daily-limit"
	// DenialLoginRequired: the caller is anonymous and signing in would
	// unlock the larger authenticated tier.
	DenialLoginRequired DenialReason = "login-required"
)

// Denial is the structured payload returned to callers when a turn is
// rejected by the quota ledger.
type Denial struct {
	Reason  DenialReason `json:"reason"`
	Message string       `json:"message"`
}

// --- Identity ---

// Identity is the resolved caller. The quota ledger consumes only the
// canonical user ID and the authenticated flag, never the credential itself.
type Identity struct {
	UserID        string `json:"user_id"`
	Authenticated bool   `json:"authenticated"`
}

// Identifier resolves a presented credential to an Identity.
type Identifier interface {
	Identify(ctx context.Context, credential, deviceID string) (*Identity, error)
}

// --- Completion service ---

// SamplingParams are passed through to the completion service unchanged.
type SamplingParams struct {
	Temperature      float64 `json:"temperature"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
	MaxTokens        int     `json:"max_tokens"`
}

// CompletionRequest is the upstream request shape. Messages must already fit
// the model's context window; the completer does not truncate.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Sampling     SamplingParams
	CallerID     string
}

// CompletionResponse carries the generated reply and the service's own
// accounting of how many tokens the completion consumed.
type CompletionResponse struct {
	Content          string
	CompletionTokens int
}

// StreamChunk is one element of a streamed completion. CompletionTokens is
// non-zero only on the final usage-bearing chunk.
type StreamChunk struct {
	Content          string
	CompletionTokens int
	Done             bool
	Err              error
}

// Completer is the external completion service collaborator.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	CompleteStream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)
}

// --- Usage events ---

// TurnEvent is the audit record for one completed turn.
type TurnEvent struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	ConversationID   string    `json:"conversation_id"`
	RequestID        string    `json:"request_id"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	DroppedMessages  int       `json:"dropped_messages"`
	LatencyMs        int       `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the identify middleware via mutation of
// the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the resolved caller identity from ctx, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta when
// present, falling back to a new allocation (e.g. in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// HashToken returns the hex-encoded SHA-256 hash of a raw access token.
// Only hashes are ever persisted or used as cache keys.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
