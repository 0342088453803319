// Package auth resolves presented credentials to canonical user identities.
// Access tokens are looked up by hash in the store and cached in a W-TinyLFU
// cache; callers without a token fall back to an anonymous identity keyed by
// their device ID. The quota ledger only ever sees the resulting
// (user ID, authenticated) pair.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/storage"
)

const (
	cacheTTL    = 30 * time.Second // short enough to pick up token revocations promptly
	cacheMaxLen = 10_000
)

// TokenAuth implements chat.Identifier over an account store.
type TokenAuth struct {
	store storage.AccountStore
	cache *otter.Cache[string, string] // token hash -> user ID
}

// New returns a TokenAuth backed by store.
func New(store storage.AccountStore) (*TokenAuth, error) {
	c, err := otter.New(&otter.Options[string, string]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, string](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &TokenAuth{store: store, cache: c}, nil
}

// Identify resolves a credential to an identity. A known access token yields
// the account's canonical user ID with Authenticated=true. An absent or
// unknown token falls back to the anonymous identity keyed by deviceID; with
// neither credential nor device ID the caller cannot be identified at all.
func (a *TokenAuth) Identify(ctx context.Context, credential, deviceID string) (*chat.Identity, error) {
	if credential != "" {
		hash := chat.HashToken(credential)

		if userID, ok := a.cache.GetIfPresent(hash); ok {
			return &chat.Identity{UserID: userID, Authenticated: true}, nil
		}

		userID, err := a.store.GetAccountByToken(ctx, hash)
		switch {
		case err == nil:
			a.cache.Set(hash, userID)
			return &chat.Identity{UserID: userID, Authenticated: true}, nil
		case errors.Is(err, chat.ErrNotFound):
			// Unknown token: treat as anonymous rather than failing the turn.
		default:
			return nil, fmt.Errorf("auth: token lookup: %w", err)
		}
	}

	if deviceID == "" {
		return nil, chat.ErrUnauthorized
	}
	return &chat.Identity{UserID: deviceID, Authenticated: false}, nil
}
