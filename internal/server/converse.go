package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/gate"
)

const maxBodySize = 1 << 20 // 1 MiB

type converseRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type converseResponse struct {
	ConversationID  string       `json:"conversation_id"`
	Reply           chat.Message `json:"reply"`
	DroppedMessages int          `json:"dropped_messages,omitempty"`
}

type denialResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type quotaResponse struct {
	Remaining     int64 `json:"remaining"`
	Authenticated bool  `json:"authenticated"`
}

func (s *server) parseTurn(w http.ResponseWriter, r *http.Request) (gate.Turn, bool) {
	identity := chat.IdentityFromContext(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse("missing identity"))
		return gate.Turn{}, false
	}

	var req converseRequest
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return gate.Turn{}, false
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("content is required"))
		return gate.Turn{}, false
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.Must(uuid.NewV7()).String()
	}

	return gate.Turn{
		Identity:       *identity,
		ConversationID: req.ConversationID,
		Content:        req.Content,
		SystemPrompt:   s.deps.SystemPrompt,
		Sampling:       s.deps.Sampling,
	}, true
}

func (s *server) handleConverse(w http.ResponseWriter, r *http.Request) {
	turn, ok := s.parseTurn(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Gate.Converse(r.Context(), turn)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(errorMessage(err)))
		return
	}
	if res.Denial != nil {
		writeJSON(w, http.StatusTooManyRequests, denialResponse{
			Reason:  string(res.Denial.Reason),
			Message: res.Denial.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, converseResponse{
		ConversationID:  turn.ConversationID,
		Reply:           res.Reply,
		DroppedMessages: res.DroppedMessages,
	})
}

func (s *server) handleConverseStream(w http.ResponseWriter, r *http.Request) {
	turn, ok := s.parseTurn(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Gate.ConverseStream(r.Context(), turn)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(errorMessage(err)))
		return
	}
	if res.Denial != nil {
		writeJSON(w, http.StatusTooManyRequests, denialResponse{
			Reason:  string(res.Denial.Reason),
			Message: res.Denial.Message,
		})
		return
	}

	h := w.Header()
	h["Content-Type"] = []string{"text/event-stream"}
	h["Cache-Control"] = []string{"no-cache"}
	h["Connection"] = []string{"keep-alive"}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for chunk := range res.Chunks {
		if chunk.Err != nil {
			// Headers are gone; all we can do is terminate the stream.
			writeSSE(w, flusher, sseEvent{Error: errorMessage(chunk.Err)})
			return
		}
		if chunk.Done {
			writeSSE(w, flusher, sseEvent{Done: true, ConversationID: turn.ConversationID})
			return
		}
		writeSSE(w, flusher, sseEvent{Content: chunk.Content})
	}
}

type sseEvent struct {
	Content        string `json:"content,omitempty"`
	Done           bool   `json:"done,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev sseEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode stream event", "error", err)
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *server) handleQuota(w http.ResponseWriter, r *http.Request) {
	identity := chat.IdentityFromContext(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse("missing identity"))
		return
	}

	remaining, err := s.deps.Quota.Remaining(r.Context(), identity.UserID, identity.Authenticated)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(errorMessage(err)))
		return
	}

	writeJSON(w, http.StatusOK, quotaResponse{
		Remaining:     remaining,
		Authenticated: identity.Authenticated,
	})
}
