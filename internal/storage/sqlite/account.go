package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	chat "github.com/eugener/palantir/internal"
)

// GetAccountByToken returns the user ID registered for a token hash, or
// chat.ErrNotFound.
func (s *Store) GetAccountByToken(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.read.QueryRowContext(ctx,
		`SELECT user_id FROM auth_accounts WHERE token_hash = ?`, tokenHash,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", chat.ErrNotFound
	}
	return userID, err
}

// CreateAccount registers a token hash for a user.
func (s *Store) CreateAccount(ctx context.Context, userID, tokenHash string) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO auth_accounts (token_hash, user_id, created_at) VALUES (?, ?, ?)`,
		tokenHash, userID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}
