// Package server implements the Dytto HTTP API.
//
// Handlers are thin adapters over the service packages: they decode,
// call one service method and encode the result in the standard envelope.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dytto-app/dytto/internal/ratelimit"
	"github.com/dytto-app/dytto/internal/service/insights"
	"github.com/dytto-app/dytto/internal/service/journal"
	"github.com/dytto-app/dytto/internal/service/leveling"
	"github.com/dytto-app/dytto/internal/service/quests"
	"github.com/dytto-app/dytto/internal/service/tree"
	"github.com/dytto-app/dytto/internal/storage"
)

// Server is the Dytto HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter is optional; nil disables rate limiting.
type ServerConfig struct {
	Repo     *storage.Repository
	Journal  *journal.Service
	Quests   *quests.Service
	Insights *insights.Aggregator
	Tree     *tree.Service
	Levels   *leveling.Table
	Logger   *slog.Logger
	Limiter  ratelimit.Limiter

	// Achievements are shown next to levels by GET /v1/levels.
	Achievements map[int]string

	// Reported by GET /health.
	Backend  string
	Analysis string
	Version  string

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg)

	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.Config{
		Key:       ratelimit.IPKeyFunc,
		RequestID: func(r *http.Request) string { return RequestIDFromContext(r.Context()) },
		Logger:    cfg.Logger,
	})
	limited := func(fn http.HandlerFunc) http.Handler { return rl(fn) }

	mux := http.NewServeMux()

	// Relationships.
	mux.Handle("POST /v1/relationships", limited(h.HandleCreateRelationship))
	mux.Handle("GET /v1/relationships", limited(h.HandleListRelationships))
	mux.Handle("GET /v1/relationships/{id}", limited(h.HandleGetRelationship))
	mux.Handle("GET /v1/relationships/{id}/level-events", limited(h.HandleListLevelEvents))

	// Interactions.
	mux.Handle("POST /v1/interactions", limited(h.HandleRecordInteraction))
	mux.Handle("POST /v1/interactions/{id}/resume", limited(h.HandleResumeInteraction))
	mux.Handle("GET /v1/relationships/{id}/interactions", limited(h.HandleListInteractions))

	// Quests.
	mux.Handle("GET /v1/relationships/{id}/quests", limited(h.HandleListQuests))
	mux.Handle("POST /v1/relationships/{id}/quests", limited(h.HandleGenerateQuest))

	// Growth trees.
	mux.Handle("GET /v1/relationships/{id}/tree", limited(h.HandleRelationshipTree))
	mux.Handle("GET /v1/relationships/{id}/tree/next", limited(h.HandleTreeNext))
	mux.Handle("GET /v1/tree", limited(h.HandleGlobalTree))

	// Insights.
	mux.Handle("GET /v1/relationships/{id}/insights", limited(h.HandleRelationshipInsights))
	mux.Handle("GET /v1/insights", limited(h.HandleGlobalInsights))

	// Reference data and health (no rate limit).
	mux.HandleFunc("GET /v1/levels", h.HandleLevels)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → observe → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = observeMiddleware(cfg.Logger, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
