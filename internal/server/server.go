// Package server provides the status API of the portfolio manager.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-manager/internal/database"
	"github.com/aristath/portfolio-manager/internal/modules/journal"
	"github.com/aristath/portfolio-manager/internal/modules/state"
	"github.com/aristath/portfolio-manager/internal/services"
)

// StateReader loads the persisted risk state
type StateReader interface {
	Load() state.State
}

// RunHistory reads journaled runs
type RunHistory interface {
	Get(ctx context.Context, id string) (*journal.Run, error)
	Recent(ctx context.Context, limit int) ([]journal.Run, error)
	Last(ctx context.Context) (*journal.Run, error)
}

// Runner triggers a pipeline run
type Runner interface {
	Run(ctx context.Context, dryRun bool) (*services.RunReport, error)
}

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	Host    string // empty binds every interface
	Port    int
	DevMode bool
	// APIToken guards POST /api/run when set. Live triggers require it.
	APIToken string
	// AllowLive enables live manual runs; otherwise triggers are dry only.
	AllowLive      bool
	AllowedOrigins []string
	DataDir        string
	State          StateReader
	Journal        RunHistory
	Runner         Runner
	Databases      []*database.DB
	// RunTimeout bounds manually triggered runs. 0 means no limit.
	RunTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       Config
	startedAt time.Time

	// triggerMu guards triggered; one manual run at a time
	triggerMu sync.Mutex
	triggered bool
	// runs tracks manual runs so Shutdown can wait for them
	runs sync.WaitGroup
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg,
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/system", s.handleSystem)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleRuns)
			r.Get("/latest", s.handleLatestRun)
			r.Get("/{id}", s.handleRun)
		})

		r.With(s.requireToken).Post("/run", s.handleTriggerRun)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// requireToken rejects requests without the configured bearer token
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected run trigger without valid token")
			s.writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Bool("live_triggers", s.liveEnabled()).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and waits for manual runs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// liveEnabled reports whether manual live runs are accepted
func (s *Server) liveEnabled() bool {
	return s.cfg.AllowLive && s.cfg.APIToken != ""
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}
