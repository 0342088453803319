// Package storage defines persistence interfaces for the conversational layer.
package storage

import (
	"context"
	"time"

	chat "github.com/eugener/palantir/internal"
)

// QuotaStore manages per-user quota records. Implementations must make
// AddUsage an atomic counter-add: two concurrent turns for the same user may
// not lose an update.
type QuotaStore interface {
	// GetQuota returns the record for userID, or chat.ErrNotFound.
	GetQuota(ctx context.Context, userID string) (*chat.QuotaRecord, error)
	// PutQuota inserts or replaces a record.
	PutQuota(ctx context.Context, rec *chat.QuotaRecord) error
	// AddUsage atomically adds tokens to the user's cumulative count,
	// creating the record with the given reset anchor on first use.
	AddUsage(ctx context.Context, userID string, tokens int64, authenticated bool, resetAt time.Time) error
	// ResetQuota zeroes the user's count and anchors LastResetAt at boundary.
	ResetQuota(ctx context.Context, userID string, boundary time.Time) error
	// ResetQuotasBefore zeroes every record whose LastResetAt is strictly
	// before boundary, returning how many were reset.
	ResetQuotasBefore(ctx context.Context, boundary time.Time) (int64, error)
}

// SessionStore persists raw session payloads keyed by conversation ID.
// Payloads are opaque bytes; decoding and malformed-data recovery belong to
// the session manager.
type SessionStore interface {
	GetSession(ctx context.Context, conversationID string) ([]byte, error)
	PutSession(ctx context.Context, conversationID string, data []byte) error
}

// AccountStore resolves access tokens to canonical user IDs.
type AccountStore interface {
	// GetAccountByToken returns the user ID for a token hash, or chat.ErrNotFound.
	GetAccountByToken(ctx context.Context, tokenHash string) (string, error)
	// CreateAccount registers a token hash for a user.
	CreateAccount(ctx context.Context, userID, tokenHash string) error
}

// TurnEventStore persists turn audit events.
type TurnEventStore interface {
	InsertTurnEvents(ctx context.Context, events []chat.TurnEvent) error
}

// Store combines all storage interfaces.
type Store interface {
	QuotaStore
	SessionStore
	AccountStore
	TurnEventStore
	Ping(ctx context.Context) error
	Close() error
}
