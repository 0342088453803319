package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chat "github.com/eugener/palantir/internal"
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrUpstreamExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage maps internal errors to caller-safe text; upstream bodies and
// storage details stay out of responses.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, chat.ErrUpstreamExhausted):
		return "completion service is over capacity, try again shortly"
	case errors.Is(err, chat.ErrUpstream):
		return "completion service error"
	default:
		return "internal server error"
	}
}

// jsonCT is pre-allocated so direct map assignment skips the per-call
// []string alloc of Header.Set.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
