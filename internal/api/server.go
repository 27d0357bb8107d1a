package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/surveyor/internal/assistant"
	"github.com/MikeSquared-Agency/surveyor/internal/backfill"
	"github.com/MikeSquared-Agency/surveyor/internal/guard"
	"github.com/MikeSquared-Agency/surveyor/internal/memory"
	"github.com/MikeSquared-Agency/surveyor/internal/prompt"
	"github.com/MikeSquared-Agency/surveyor/internal/retriever"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the HTTP surface drives. Store and Connected may be nil.
type Deps struct {
	Assistant   *assistant.Assistant
	Retriever   *retriever.Retriever
	Memory      *memory.Manager
	Builder     *prompt.Builder
	Backfill    *backfill.Runner
	Store       Pinger
	Connected   func() bool
	GuardLimits guard.Limits
	Logger      *slog.Logger

	// MaxBodyBytes caps document ingestion bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes matches the upload ceiling of the extraction service.
const DefaultMaxBodyBytes int64 = 50 << 20

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, apiToken string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Builder == nil {
		deps.Builder = prompt.NewBuilder(prompt.DefaultLimits())
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: deps.Logger,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Use(GuardMiddleware(deps.GuardLimits, deps.Logger))

		r.Get("/surveyor/status", s.status)
		r.With(middleware.RequestSize(deps.MaxBodyBytes)).Post("/documents/{id}/ingest", s.ingestDocument)
		r.Delete("/documents/{id}", s.deleteDocument)
		r.Post("/retrieve", s.retrieve)
		r.Post("/context/{session}", s.boundedContext)
		r.Post("/prompt", s.buildPrompt)
		r.Post("/chat", s.chat)
		r.Post("/backfill/embeddings", s.backfillEmbeddings)
	})

	return s
}

// Handler exposes the router, mainly for tests and embedding in other servers.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"agent":    "surveyor",
		"database": "memory",
		"events":   "disabled",
	}
	if s.deps.Store != nil {
		body["database"] = "ok"
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			body["database"] = "unreachable"
		}
	}
	if s.deps.Connected != nil {
		body["events"] = "disconnected"
		if s.deps.Connected() {
			body["events"] = "connected"
		}
	}
	body["limits"] = map[string]any{
		"prompt": s.deps.Builder.Limits(),
		"guard":  s.deps.GuardLimits,
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
