package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	chat "github.com/eugener/palantir/internal"
)

// GetSession returns the raw session payload for conversationID, or
// chat.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, conversationID string) ([]byte, error) {
	var data []byte
	err := s.read.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE conversation_id = ?`, conversationID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	return data, err
}

// PutSession inserts or replaces a session payload.
func (s *Store) PutSession(ctx context.Context, conversationID string, data []byte) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO sessions (conversation_id, data, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
		   data = excluded.data, updated_at = excluded.updated_at`,
		conversationID, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}
