package sqlite

import (
	"context"
	"strings"
	"time"

	chat "github.com/eugener/palantir/internal"
)

// InsertTurnEvents batch-inserts turn audit events. A single multi-row INSERT
// avoids N round-trips for large batches.
func (s *Store) InsertTurnEvents(ctx context.Context, events []chat.TurnEvent) error {
	if len(events) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	const cols = 9
	placeholders := make([]string, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.ID, e.UserID, e.ConversationID, e.RequestID,
			e.PromptTokens, e.CompletionTokens, e.DroppedMessages, e.LatencyMs,
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
	}

	query := `INSERT INTO turn_events
		(id, user_id, conversation_id, request_id,
		 prompt_tokens, completion_tokens, dropped_messages, latency_ms, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}
