// Package api exposes the capture queue over HTTP: REST endpoints for the
// queue and sequence controls, and a WebSocket stream of sequencer updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unklstewy/skycapture/internal/auth"
	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/internal/db"
	"github.com/unklstewy/skycapture/pkg/config"
)

// Sequencer is the part of capture.Sequencer the API drives.
type Sequencer interface {
	Start() error
	Stop()
	Abort()
	Pause()

	AddJob(job *capture.SequenceJob) (int, error)
	RemoveJob(id int) error
	MoveJob(id, pos int) error
	ResetJobs() error
	ClearQueue() error
	LoadSequence(path string) error
	SaveSequence(path string) error

	SetTargetName(name string)
	SetGuideDeviation(enabled bool, maxArcsec float64)
	SetInSequenceFocus(enabled bool, hfrLimit float64)
	SetMeridianFlip(enabled bool, hourAngle float64)
	SetIgnoreHistory(ignore bool)

	Snapshot() capture.Snapshot
}

// Options configure a Server. Sessions and Frames are optional; without
// them the history routes answer 404.
type Options struct {
	Config    config.ServerConfig
	Sequencer Sequencer
	Auth      *auth.Service
	Hub       *Hub
	Sessions  *db.SessionRepository
	Frames    *db.FrameRepository
	Logger    *slog.Logger
}

// Server is the HTTP control surface.
type Server struct {
	router   chi.Router
	cfg      config.ServerConfig
	seq      Sequencer
	authSvc  *auth.Service
	hub      *Hub
	sessions *db.SessionRepository
	frames   *db.FrameRepository
	logger   *slog.Logger
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authSvc := opts.Auth
	if authSvc == nil {
		authSvc = auth.NewService(config.AuthConfig{})
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		router:   chi.NewRouter(),
		cfg:      opts.Config,
		seq:      opts.Sequencer,
		authSvc:  authSvc,
		hub:      hub,
		sessions: opts.Sessions,
		frames:   opts.Frames,
		logger:   logger.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the update hub, for registration as a capture.Notifier.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", s.hub.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))

			// Public routes
			r.Post("/auth/login", s.handleLogin)
			r.Get("/status", s.handleStatus)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Get("/history/sessions", s.handleListSessions)
			r.Get("/history/sessions/{id}/frames", s.handleSessionFrames)
			r.Get("/history/integration/{target}", s.handleIntegration)

			// Operator routes
			r.Group(func(r chi.Router) {
				r.Use(s.authSvc.RequireRole(auth.RoleOperator))

				r.Post("/jobs", s.handleAddJob)
				r.Delete("/jobs", s.handleClearQueue)
				r.Post("/jobs/reset", s.handleResetJobs)
				r.Delete("/jobs/{id}", s.handleRemoveJob)
				r.Post("/jobs/{id}/move", s.handleMoveJob)

				r.Post("/sequence/start", s.handleStart)
				r.Post("/sequence/stop", s.handleStop)
				r.Post("/sequence/abort", s.handleAbort)
				r.Post("/sequence/pause", s.handlePause)
				r.Post("/sequence/load", s.handleLoadSequence)
				r.Post("/sequence/save", s.handleSaveSequence)

				r.Put("/settings/guiding", s.handleGuidingSettings)
				r.Put("/settings/focus", s.handleFocusSettings)
				r.Put("/settings/meridian-flip", s.handleMeridianFlipSettings)
				r.Put("/settings/target", s.handleTargetSettings)
				r.Put("/settings/history", s.handleHistorySettings)
			})
		})
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	host := s.cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := s.cfg.Port
	if port == "" {
		port = "8080"
	}
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", "addr", httpServer.Addr, "auth", s.authSvc.Enabled())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("control API stopped")
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

// statusFor maps sequencer errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrNoSuchJob):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, capture.ErrInvalidJob), errors.Is(err, capture.ErrInvalidSequenceFile):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrQueueEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
