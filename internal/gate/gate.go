// Package gate orchestrates one conversation turn: sanitize the new user
// message, truncate the session to the context window, check the quota
// ledger, dispatch to the completion service, record usage, and return the
// updated session.
//
// The ledger is only ever touched after a successful upstream response, so a
// timeout or cancellation mid-dispatch wastes an upstream call but never
// corrupts the quota accounting.
package gate

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/quota"
	"github.com/eugener/palantir/internal/telemetry"
	"github.com/eugener/palantir/internal/truncate"
)

// Counter counts tokens for new message content.
type Counter interface {
	Count(text string) int
}

// Ledger is the quota collaborator.
type Ledger interface {
	Authorize(ctx context.Context, userID string, authenticated bool, requested int64) (quota.Decision, error)
	RecordUsage(ctx context.Context, userID string, authenticated bool, tokens int64) error
}

// Sessions loads and saves conversation histories.
type Sessions interface {
	Load(ctx context.Context, conversationID string) (chat.Session, error)
	Save(ctx context.Context, sess chat.Session) error
}

// UsageRecorder accepts turn audit events asynchronously.
type UsageRecorder interface {
	Record(chat.TurnEvent)
}

// Turn is one caller request: the new user content plus everything the
// completion service needs.
type Turn struct {
	Identity       chat.Identity
	ConversationID string
	Content        string
	SystemPrompt   string
	Sampling       chat.SamplingParams
}

// Result is the outcome of a turn. Exactly one of Denial or Reply is
// meaningful: a denied turn carries no reply and leaves the session
// unchanged in the store.
type Result struct {
	Session         chat.Session
	Reply           chat.Message
	Denial          *chat.Denial
	DroppedMessages int
}

// Gate wires the conversational pipeline together.
type Gate struct {
	counter   Counter
	engine    *truncate.Engine
	ledger    Ledger
	completer chat.Completer
	sessions  Sessions
	usage     UsageRecorder      // nil = no audit events
	metrics   *telemetry.Metrics // nil = no metrics
	tracer    trace.Tracer
}

// New creates a Gate. usage and metrics may be nil.
func New(counter Counter, engine *truncate.Engine, ledger Ledger, completer chat.Completer,
	sessions Sessions, usage UsageRecorder, metrics *telemetry.Metrics) *Gate {
	return &Gate{
		counter:   counter,
		engine:    engine,
		ledger:    ledger,
		completer: completer,
		sessions:  sessions,
		usage:     usage,
		metrics:   metrics,
		tracer:    telemetry.Tracer("gate"),
	}
}

// Converse runs one full turn. A quota denial is returned inside the Result,
// not as an error; errors mean the turn failed (upstream, storage) and the
// ledger was left untouched for this turn.
func (g *Gate) Converse(ctx context.Context, turn Turn) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "gate.converse",
		trace.WithAttributes(
			attribute.String("conversation_id", turn.ConversationID),
			attribute.Bool("authenticated", turn.Identity.Authenticated),
		))
	defer span.End()

	prep, err := g.prepare(ctx, turn)
	if err != nil {
		g.countTurn("error")
		return nil, err
	}
	if prep.denial != nil {
		g.countTurn("denied")
		return &Result{Denial: prep.denial}, nil
	}

	start := time.Now()
	uctx, uspan := g.tracer.Start(ctx, "gate.dispatch")
	resp, err := g.completer.Complete(uctx, prep.request())
	uspan.End()
	if g.metrics != nil {
		g.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		g.countTurn("error")
		return nil, err
	}

	sess, reply, err := g.finalize(ctx, turn, prep, resp.Content, resp.CompletionTokens, start)
	if err != nil {
		g.countTurn("error")
		return nil, err
	}
	g.countTurn("ok")
	return &Result{Session: sess, Reply: reply, DroppedMessages: prep.dropped}, nil
}

// prepared carries the turn through the sanitize/truncate/authorize stages.
type prepared struct {
	turn         Turn
	sess         chat.Session
	promptTokens int
	dropped      int
	denial       *chat.Denial
}

func (p *prepared) request() *chat.CompletionRequest {
	return &chat.CompletionRequest{
		SystemPrompt: p.turn.SystemPrompt,
		Messages:     p.sess.Messages,
		Sampling:     p.turn.Sampling,
		CallerID:     p.turn.Identity.UserID,
	}
}

// prepare runs the pre-dispatch stages: sanitize, tokenize, truncate, and
// authorize. It never contacts the completion service.
func (g *Gate) prepare(ctx context.Context, turn Turn) (*prepared, error) {
	content := sanitize(turn.Content)
	msg := chat.Message{
		Role:       chat.RoleUser,
		Content:    content,
		TokenCount: g.counter.Count(content),
	}

	sess, err := g.sessions.Load(ctx, turn.ConversationID)
	if err != nil {
		return nil, err
	}
	sess = sess.Append(msg)

	overhead := g.counter.Count(turn.SystemPrompt) + turn.Sampling.MaxTokens
	sess, dropped := g.engine.Fit(sess, overhead)
	if g.metrics != nil && dropped > 0 {
		g.metrics.DroppedMessages.Add(float64(dropped))
	}
	if g.metrics != nil && dropped == 0 && len(sess.Messages) == 1 && sess.Messages[0].Content != content {
		g.metrics.ShrunkMessages.Inc()
	}

	promptTokens := sess.TotalTokens()
	dec, err := g.ledger.Authorize(ctx, turn.Identity.UserID, turn.Identity.Authenticated, int64(promptTokens))
	if err != nil {
		return nil, fmt.Errorf("gate: authorize: %w", err)
	}
	if !dec.Authorized {
		if g.metrics != nil {
			g.metrics.DenialsTotal.WithLabelValues(string(dec.Reason)).Inc()
		}
		return &prepared{denial: &chat.Denial{
			Reason:  dec.Reason,
			Message: denialMessage(dec.Reason),
		}}, nil
	}

	return &prepared{turn: turn, sess: sess, promptTokens: promptTokens, dropped: dropped}, nil
}

// finalize appends the assistant reply, records usage against the ledger
// (prompt and completion as two separate updates), persists the session, and
// queues the audit event.
func (g *Gate) finalize(ctx context.Context, turn Turn, prep *prepared,
	content string, completionTokens int, start time.Time) (chat.Session, chat.Message, error) {

	if completionTokens == 0 {
		// The service did not report usage; fall back to our own count.
		completionTokens = g.counter.Count(content)
	}
	reply := chat.Message{
		Role:       chat.RoleAssistant,
		Content:    content,
		TokenCount: completionTokens,
	}

	userID, authed := turn.Identity.UserID, turn.Identity.Authenticated
	if err := g.ledger.RecordUsage(ctx, userID, authed, int64(prep.promptTokens)); err != nil {
		return chat.Session{}, chat.Message{}, err
	}
	if err := g.ledger.RecordUsage(ctx, userID, authed, int64(completionTokens)); err != nil {
		return chat.Session{}, chat.Message{}, err
	}
	if g.metrics != nil {
		g.metrics.TokensProcessed.WithLabelValues("prompt").Add(float64(prep.promptTokens))
		g.metrics.TokensProcessed.WithLabelValues("completion").Add(float64(completionTokens))
	}

	sess := prep.sess.Append(reply)
	if err := g.sessions.Save(ctx, sess); err != nil {
		return chat.Session{}, chat.Message{}, err
	}

	if g.usage != nil {
		g.usage.Record(chat.TurnEvent{
			UserID:           userID,
			ConversationID:   turn.ConversationID,
			RequestID:        chat.RequestIDFromContext(ctx),
			PromptTokens:     prep.promptTokens,
			CompletionTokens: completionTokens,
			DroppedMessages:  prep.dropped,
			LatencyMs:        int(time.Since(start).Milliseconds()),
			CreatedAt:        time.Now(),
		})
	}
	return sess, reply, nil
}

func (g *Gate) countTurn(outcome string) {
	if g.metrics != nil {
		g.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	}
}

func denialMessage(reason chat.DenialReason) string {
	if reason == chat.DenialLoginRequired {
		return "Daily free limit reached. Sign in to unlock a larger daily allowance."
	}
	return "Daily token limit reached. Your allowance resets at midnight."
}
