package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	chat "github.com/eugener/palantir/internal"
)

// GetQuota returns the quota record for userID, or chat.ErrNotFound.
func (s *Store) GetQuota(ctx context.Context, userID string) (*chat.QuotaRecord, error) {
	var rec chat.QuotaRecord
	var resetAt string
	var authed int
	err := s.read.QueryRowContext(ctx,
		`SELECT user_id, cumulative_token_count, last_reset_at, authenticated
		 FROM quota_records WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.CumulativeTokenCount, &resetAt, &authed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Authenticated = authed != 0
	rec.LastResetAt, err = time.Parse(time.RFC3339Nano, resetAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutQuota inserts or replaces a quota record.
func (s *Store) PutQuota(ctx context.Context, rec *chat.QuotaRecord) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO quota_records (user_id, cumulative_token_count, last_reset_at, authenticated)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   cumulative_token_count = excluded.cumulative_token_count,
		   last_reset_at = excluded.last_reset_at,
		   authenticated = excluded.authenticated`,
		rec.UserID, rec.CumulativeTokenCount, rec.LastResetAt.UTC().Format(time.RFC3339Nano),
		boolToInt(rec.Authenticated),
	)
	return err
}

// AddUsage atomically adds tokens to the user's cumulative count. The counter
// add happens inside the database, not as a read-modify-write, so concurrent
// turns for the same user cannot lose an update. New records are anchored at
// resetAt.
func (s *Store) AddUsage(ctx context.Context, userID string, tokens int64, authenticated bool, resetAt time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO quota_records (user_id, cumulative_token_count, last_reset_at, authenticated)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   cumulative_token_count = cumulative_token_count + excluded.cumulative_token_count,
		   authenticated = excluded.authenticated`,
		userID, tokens, resetAt.UTC().Format(time.RFC3339Nano), boolToInt(authenticated),
	)
	return err
}

// ResetQuota zeroes a user's count and anchors LastResetAt at boundary.
func (s *Store) ResetQuota(ctx context.Context, userID string, boundary time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE quota_records
		 SET cumulative_token_count = 0, last_reset_at = ?
		 WHERE user_id = ?`,
		boundary.UTC().Format(time.RFC3339Nano), userID,
	)
	return err
}

// ResetQuotasBefore zeroes every record last reset strictly before boundary.
// Reset anchors are whole-second midnight instants, so the stored RFC 3339
// UTC strings compare correctly.
func (s *Store) ResetQuotasBefore(ctx context.Context, boundary time.Time) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`UPDATE quota_records
		 SET cumulative_token_count = 0, last_reset_at = ?
		 WHERE last_reset_at < ?`,
		boundary.UTC().Format(time.RFC3339Nano), boundary.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
