package gate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	chat "github.com/eugener/palantir/internal"
)

// StreamResult is the outcome of a streaming turn. Denied turns carry a nil
// channel; authorized turns stream chunks and finish with a Done chunk once
// usage has been recorded and the session persisted.
type StreamResult struct {
	Chunks          <-chan chat.StreamChunk
	Denial          *chat.Denial
	DroppedMessages int
}

// ConverseStream runs one turn against the streaming completion endpoint.
// Chunks are forwarded as they arrive; bookkeeping (ledger, session save,
// audit event) happens after the upstream stream completes, so a consumer
// that stops reading early simply loses the tail of the reply.
func (g *Gate) ConverseStream(ctx context.Context, turn Turn) (*StreamResult, error) {
	ctx, span := g.tracer.Start(ctx, "gate.converse_stream")
	defer span.End()

	prep, err := g.prepare(ctx, turn)
	if err != nil {
		g.countTurn("error")
		return nil, err
	}
	if prep.denial != nil {
		g.countTurn("denied")
		return &StreamResult{Denial: prep.denial}, nil
	}

	start := time.Now()
	upstream, err := g.completer.CompleteStream(ctx, prep.request())
	if err != nil {
		g.countTurn("error")
		return nil, err
	}

	out := make(chan chat.StreamChunk)
	go g.pump(ctx, turn, prep, upstream, out, start)
	return &StreamResult{Chunks: out, DroppedMessages: prep.dropped}, nil
}

func (g *Gate) pump(ctx context.Context, turn Turn, prep *prepared,
	upstream <-chan chat.StreamChunk, out chan<- chat.StreamChunk, start time.Time) {
	defer close(out)

	var sb strings.Builder
	for chunk := range upstream {
		switch {
		case chunk.Err != nil:
			g.countTurn("error")
			out <- chunk
			return
		case chunk.Done:
			// Finish bookkeeping even if the caller disconnected mid-stream;
			// the tokens were consumed upstream either way.
			fctx := context.WithoutCancel(ctx)
			if _, _, err := g.finalize(fctx, turn, prep, sb.String(), chunk.CompletionTokens, start); err != nil {
				slog.LogAttrs(fctx, slog.LevelError, "stream finalize failed",
					slog.String("conversation_id", turn.ConversationID),
					slog.String("error", err.Error()))
				g.countTurn("error")
				out <- chat.StreamChunk{Err: err}
				return
			}
			g.countTurn("ok")
			out <- chunk
			return
		default:
			sb.WriteString(chunk.Content)
			out <- chunk
		}
	}
}
