package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/kozaktomas/face-registry/internal/web/handlers"
	"github.com/kozaktomas/face-registry/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config         *config.Config
	engine         *identity.Engine
	router         *chi.Mux
	httpServer     *http.Server
	jobManager     *handlers.JobManager
	sessionManager *middleware.SessionManager
}

// NewServer creates a new web server. The identity engine must already be
// wired to the same repositories the handlers read from.
func NewServer(cfg *config.Config, engine *identity.Engine, port int, host string, sessionSecret string, sessionRepo middleware.SessionRepository) (*Server, error) {
	r := chi.NewRouter()

	// Create job manager for async operations
	jobManager := handlers.NewJobManager()

	// Create session manager with optional persistence
	sessionManager := middleware.NewSessionManager(sessionSecret, sessionRepo)

	s := &Server{
		config:         cfg,
		engine:         engine,
		router:         r,
		jobManager:     jobManager,
		sessionManager: sessionManager,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS())

	// Set up routes
	if err := s.setupRoutes(sessionManager); err != nil {
		return nil, err
	}

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// repositories bundles the storage interfaces the handlers work with.
type repositories struct {
	detections database.DetectionReader
	persons    database.PersonWriter
	identities database.IdentityReader
	proposals  database.ProposalReader
}

// loadRepositories resolves the handler repositories from the registered
// storage backend once at startup.
func loadRepositories(ctx context.Context) (*repositories, error) {
	detections, err := database.GetDetectionReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("detection repository: %w", err)
	}
	persons, err := database.GetPersonWriter(ctx)
	if err != nil {
		return nil, fmt.Errorf("person repository: %w", err)
	}
	identities, err := database.GetIdentityReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity repository: %w", err)
	}
	proposals, err := database.GetProposalReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("proposal repository: %w", err)
	}
	return &repositories{
		detections: detections,
		persons:    persons,
		identities: identities,
		proposals:  proposals,
	}, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")

	// Stop the session cleanup goroutine
	if s.sessionManager != nil {
		s.sessionManager.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
