// Package server implements the HTTP transport layer for the conversation service.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	chat "github.com/eugener/palantir/internal"
	"github.com/eugener/palantir/internal/gate"
	"github.com/eugener/palantir/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// QuotaReader exposes the caller's remaining daily balance.
type QuotaReader interface {
	Remaining(ctx context.Context, userID string, authenticated bool) (int64, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Identifier     chat.Identifier
	Gate           *gate.Gate
	Quota          QuotaReader
	SystemPrompt   string
	Sampling       chat.SamplingParams
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	r.Use(s.measure)

	// System endpoints (no identity)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Get("/metrics", deps.MetricsHandler.ServeHTTP)
	}

	// Conversation API. Identity is resolved per request; anonymous callers
	// are admitted with a device ID.
	r.Group(func(r chi.Router) {
		r.Use(s.identify)
		r.Post("/v1/converse", s.handleConverse)
		r.Post("/v1/converse/stream", s.handleConverseStream)
		r.Get("/v1/quota", s.handleQuota)
	})

	return r
}

type server struct {
	deps Deps
}
