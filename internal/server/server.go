// Package server provides the HTTP query API for dispict.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/dispict/internal/config"
	"github.com/hyperjump/dispict/internal/search"
	"github.com/hyperjump/dispict/internal/storage"
	"go.uber.org/zap"
)

// Server is the HTTP server for the dispict API.
type Server struct {
	engine *search.Engine
	ledger storage.Ledger
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server. ledger may be nil; run endpoints then return 501.
func NewServer(engine *search.Engine, ledger storage.Ledger, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine: engine,
		ledger: ledger,
		config: cfg,
		logger: logger,
	}
}

// Router builds the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.With(allowAnyOrigin).Get("/suggestions", s.handleSuggestions)
		r.With(allowAnyOrigin).Post("/suggestions", s.handleSuggestions)
		r.Get("/artworks", s.handleFindArtworks)
		r.Get("/artworks/{id}", s.handleGetArtwork)
		r.Get("/status", s.handleStatus)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}/failures", s.handleListFailures)
		r.Post("/reload", s.handleReload)
	})
	r.With(allowAnyOrigin).Get("/suggestions", s.handleSuggestionsCompat)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}
