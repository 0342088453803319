// Package tokencount counts tokens using the exact vocabulary of the target
// completion model via tiktoken. The count gates every request against the
// context window, so a heuristic is not good enough here: an undercount would
// silently break the window-fit guarantee downstream.
package tokencount

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	chat "github.com/eugener/palantir/internal"
)

// Counter counts tokens with a model-specific encoding. It is pure and safe
// for concurrent use.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// New resolves the encoding for model. Unknown models fall back to
// cl100k_base. An encoder that cannot be initialized at all is unrecoverable;
// callers treat the error as fatal at startup.
func New(model string) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("tokencount: init encoding: %w", err)
		}
	}
	return &Counter{enc: enc}, nil
}

// Count returns the exact token count for text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountSession sums the stored per-message counts. It never re-encodes:
// counts are computed once at message creation.
func (c *Counter) CountSession(s chat.Session) int {
	return s.TotalTokens()
}
