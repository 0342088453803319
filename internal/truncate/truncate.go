// Package truncate fits a session into the completion model's context window
// by evicting the oldest messages, and by shrinking the sole remaining
// message when eviction alone cannot make room.
package truncate

import (
	"unicode/utf8"

	chat "github.com/eugener/palantir/internal"
)

// charsPerToken converts an excess-token estimate to a character offset when
// shrinking a single long message. Empirical for GPT-family vocabularies;
// each strip is followed by an exact recount, so the value only affects how
// fast the loop converges, not correctness.
const charsPerToken = 4.15

// Counter recounts text after a shrink step.
type Counter interface {
	Count(text string) int
}

// Engine truncates sessions to fit a fixed context window. The window is the
// model's hard limit minus a safety margin, set once from config.
type Engine struct {
	counter Counter
	window  int
}

// New returns an Engine for the given window size.
func New(counter Counter, window int) *Engine {
	return &Engine{counter: counter, window: window}
}

// Window returns the configured context window size.
func (e *Engine) Window() int { return e.window }

// Fit returns a session satisfying TotalTokens() + overhead <= window, along
// with the number of whole messages dropped. The oldest messages go first;
// the last remaining message is shrunk rather than dropped, so a non-empty
// input never yields an empty session. Fit always terminates and never fails.
func (e *Engine) Fit(sess chat.Session, overhead int) (chat.Session, int) {
	msgs := sess.Messages
	used := sess.TotalTokens()
	dropped := 0

	for used+overhead > e.window && len(msgs) > 1 {
		used -= msgs[0].TokenCount
		msgs = msgs[1:]
		dropped++
	}

	if len(msgs) == 1 && msgs[0].TokenCount+overhead > e.window {
		msgs = []chat.Message{e.shrink(msgs[0], e.window-overhead)}
	}

	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return chat.Session{ConversationID: sess.ConversationID, Messages: out}, dropped
}

// shrink strips leading characters from m until its token count fits budget.
// Each iteration estimates the excess in characters, strips at least one rune,
// and recounts exactly, so the loop terminates even when the estimate is off.
// The result is never empty: when the budget is unsatisfiable the message is
// reduced to its maximally-shrunk tail.
func (e *Engine) shrink(m chat.Message, budget int) chat.Message {
	if budget < 1 {
		budget = 1
	}
	content := m.Content
	count := m.TokenCount

	for count > budget && len(content) > 1 {
		cut := int(float64(count-budget) * charsPerToken)
		if cut < 1 {
			cut = 1
		}
		if cut >= len(content) {
			cut = len(content) - 1
		}
		// Do not split a multi-byte rune.
		for cut < len(content) && !utf8.RuneStart(content[cut]) {
			cut++
		}
		content = content[cut:]
		count = e.counter.Count(content)
	}

	return chat.Message{Role: m.Role, Content: content, TokenCount: count}
}
