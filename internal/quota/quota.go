// Package quota enforces tiered daily token budgets per user.
//
// The ledger is deliberately thin over the store: the cumulative counter add
// is atomic inside the persistence layer, and the read-reset-check cycle in
// Authorize is serialized per user with a keyed mutex, so two concurrent
// turns for the same user cannot both reset or double-spend past the
// overflow allowance. Turns for different users never contend.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/storage"
)

// Limits is the quota configuration, constructed once at startup and passed
// in; nothing here re-reads global settings per request.
type Limits struct {
	// Anonymous is the daily token allowance for unauthenticated users.
	// Strictly smaller than Authenticated.
	Anonymous int64
	// Authenticated is the daily token allowance for signed-in users.
	Authenticated int64
	// Overflow tolerates the drift between our tokenizer's pre-flight count
	// and the completion service's own usage report, so a user right at the
	// boundary is not spuriously rejected. It bounds total exposure to
	// tier + overflow.
	Overflow int64
	// Location anchors the daily reset at local midnight in this timezone.
	Location *time.Location
}

// Decision is the typed result of an authorization check. Denial is a value,
// not an error, so callers cannot accidentally skip handling it.
type Decision struct {
	Authorized bool
	// Remaining is the budget left before the overflow allowance, after any
	// lazy reset. May be negative when usage has run into the overflow band.
	Remaining int64
	// Reason is set only when Authorized is false.
	Reason chat.DenialReason
}

// Ledger tracks cumulative daily token usage per user against tiered limits.
type Ledger struct {
	store  storage.QuotaStore
	limits Limits
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-user serialization of Authorize
}

// NewLedger creates a Ledger. now may be nil, defaulting to time.Now.
func NewLedger(store storage.QuotaStore, limits Limits, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	if limits.Location == nil {
		limits.Location = time.UTC
	}
	return &Ledger{
		store:  store,
		limits: limits,
		now:    now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Authorize reports whether a request of requested tokens may proceed for the
// user. It lazily resets the record when a daily boundary has passed, then
// checks requested against remaining budget plus the overflow allowance.
func (l *Ledger) Authorize(ctx context.Context, userID string, authenticated bool, requested int64) (Decision, error) {
	unlock := l.lockUser(userID)
	defer unlock()

	rec, err := l.loadResetting(ctx, userID, authenticated)
	if err != nil {
		return Decision{}, err
	}

	remaining := l.tierLimit(authenticated) - rec.CumulativeTokenCount
	if requested <= remaining+l.limits.Overflow {
		return Decision{Authorized: true, Remaining: remaining}, nil
	}

	reason := chat.DenialDailyLimit
	if !authenticated {
		reason = chat.DenialLoginRequired
	}
	return Decision{Remaining: remaining, Reason: reason}, nil
}

// RecordUsage adds tokens to the user's cumulative count, creating the record
// on first use. Input and output tokens are recorded as two separate calls by
// the gate; each call is an atomic add in the store.
func (l *Ledger) RecordUsage(ctx context.Context, userID string, authenticated bool, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	if err := l.store.AddUsage(ctx, userID, tokens, authenticated, l.lastBoundary(l.now())); err != nil {
		return fmt.Errorf("quota: record usage: %w", err)
	}
	return nil
}

// Remaining returns the user's remaining budget after any lazy reset.
func (l *Ledger) Remaining(ctx context.Context, userID string, authenticated bool) (int64, error) {
	unlock := l.lockUser(userID)
	defer unlock()

	rec, err := l.loadResetting(ctx, userID, authenticated)
	if err != nil {
		return 0, err
	}
	return l.tierLimit(authenticated) - rec.CumulativeTokenCount, nil
}

// ResetElapsed zeroes every persisted record whose last reset is strictly
// before the most recent daily boundary. Authorize resets lazily on access;
// this keeps records for idle users honest and is run periodically by the
// reset sweeper.
func (l *Ledger) ResetElapsed(ctx context.Context) (int64, error) {
	return l.store.ResetQuotasBefore(ctx, l.lastBoundary(l.now()))
}

// loadResetting fetches the user's record, applying the daily reset when the
// boundary has passed. A missing record is synthesized fresh, anchored at the
// current boundary, without being persisted: absence means full budget.
func (l *Ledger) loadResetting(ctx context.Context, userID string, authenticated bool) (*chat.QuotaRecord, error) {
	boundary := l.lastBoundary(l.now())

	rec, err := l.store.GetQuota(ctx, userID)
	if err == chat.ErrNotFound {
		return &chat.QuotaRecord{
			UserID:        userID,
			LastResetAt:   boundary,
			Authenticated: authenticated,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quota: load record: %w", err)
	}

	// Boundary-exact: a record anchored exactly at the boundary is current;
	// only strictly earlier anchors are reset.
	if rec.LastResetAt.Before(boundary) {
		if err := l.store.ResetQuota(ctx, userID, boundary); err != nil {
			return nil, fmt.Errorf("quota: reset record: %w", err)
		}
		rec.CumulativeTokenCount = 0
		rec.LastResetAt = boundary
	}
	return rec, nil
}

// lastBoundary returns the most recent local midnight in the configured
// reference timezone. Calendar-anchored, not a rolling 24h window.
func (l *Ledger) lastBoundary(now time.Time) time.Time {
	t := now.In(l.limits.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, l.limits.Location)
}

func (l *Ledger) tierLimit(authenticated bool) int64 {
	if authenticated {
		return l.limits.Authenticated
	}
	return l.limits.Anonymous
}

// lockUser acquires the per-user mutex, creating it on first use. The map
// only grows; entries are a mutex per distinct user seen by this process.
func (l *Ledger) lockUser(userID string) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
