package web

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-registry/internal/web/handlers"
	"github.com/kozaktomas/face-registry/internal/web/middleware"
	"github.com/kozaktomas/face-registry/internal/web/static"
)

func (s *Server) setupRoutes(sessionManager *middleware.SessionManager) error {
	repos, err := loadRepositories(context.Background())
	if err != nil {
		return err
	}

	// Create handlers
	authHandler := handlers.NewAuthHandler(s.config, sessionManager)
	personsHandler := handlers.NewPersonsHandler(s.engine, repos.persons, repos.identities, repos.detections)
	classifyHandler := handlers.NewClassifyHandler(s.engine)
	detectionsHandler := handlers.NewDetectionsHandler(repos.detections, repos.identities)
	proposalsHandler := handlers.NewProposalsHandler(s.engine, repos.proposals, repos.detections)
	statsHandler := handlers.NewStatsHandler(repos.detections, repos.persons, repos.identities, repos.proposals)
	rebuildHandler := handlers.NewRebuildHandler(s.engine, s.jobManager, statsHandler)
	configHandler := handlers.NewConfigHandler(s.config, s.engine)
	assistHandler := handlers.NewAssistHandler(s.config, repos.proposals, repos.detections)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Auth routes (no PhotoPrism client needed for login)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		// All other routes require authentication and get a PhotoPrism client injected
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionManager))
			r.Use(middleware.WithPhotoPrismClient(s.config))

			// Persons
			r.Get("/persons", personsHandler.List)
			r.Get("/persons/{id}", personsHandler.Get)
			r.Put("/persons/{id}", personsHandler.Update)
			r.Post("/persons/merge", personsHandler.Merge)
			r.Get("/persons/{id}/detections", personsHandler.Detections)

			// Classification and manual assignment
			r.Post("/classify", classifyHandler.Classify)
			r.Post("/assign", classifyHandler.Assign)
			r.Delete("/assign/{detectionID}", classifyHandler.Unassign)

			// Detections
			r.Post("/detections/{id}/similar", detectionsHandler.Similar)

			// Group proposals
			r.Get("/proposals", proposalsHandler.List)
			r.Get("/proposals/{id}", proposalsHandler.Get)
			r.Post("/proposals/{id}/accept", proposalsHandler.Accept)
			r.Post("/proposals/{id}/reject", proposalsHandler.Reject)

			// Rebuild (long-running operation)
			r.Post("/rebuild", rebuildHandler.Start)
			r.Get("/rebuild/{jobId}", rebuildHandler.Status)
			r.Get("/rebuild/{jobId}/events", rebuildHandler.Events)
			r.Delete("/rebuild/{jobId}", rebuildHandler.Cancel)

			// Stats
			r.Get("/stats", statsHandler.Get)

			// Config
			r.Get("/config", configHandler.Get)

			// Label assistant
			r.Post("/suggest-label", assistHandler.SuggestLabel)
		})
	})

	// Serve static files for frontend (SPA)
	s.router.Get("/*", s.serveSPA)

	return nil
}

// serveSPA serves the single-page application
func (s *Server) serveSPA(w http.ResponseWriter, r *http.Request) {
	// Check if we have embedded frontend assets
	if static.HasDist() {
		// Try to serve the requested file
		fs := static.GetFileSystem()
		path := r.URL.Path
		if path == "/" {
			path = "/index.html"
		}

		// Try to open the file
		f, err := fs.Open(path)
		if err == nil {
			defer f.Close()

			// Get file info for content type detection
			stat, err := f.Stat()
			if err == nil && !stat.IsDir() {
				// Set content type based on extension
				contentType := "application/octet-stream"
				switch {
				case strings.HasSuffix(path, ".html"):
					contentType = "text/html; charset=utf-8"
				case strings.HasSuffix(path, ".css"):
					contentType = "text/css; charset=utf-8"
				case strings.HasSuffix(path, ".js"):
					contentType = "application/javascript; charset=utf-8"
				case strings.HasSuffix(path, ".json"):
					contentType = "application/json"
				case strings.HasSuffix(path, ".svg"):
					contentType = "image/svg+xml"
				case strings.HasSuffix(path, ".png"):
					contentType = "image/png"
				case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
					contentType = "image/jpeg"
				case strings.HasSuffix(path, ".ico"):
					contentType = "image/x-icon"
				case strings.HasSuffix(path, ".woff2"):
					contentType = "font/woff2"
				case strings.HasSuffix(path, ".woff"):
					contentType = "font/woff"
				}

				w.Header().Set("Content-Type", contentType)

				// Add cache headers for static assets
				if strings.HasPrefix(path, "/assets/") {
					w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
				}

				w.WriteHeader(http.StatusOK)
				io.Copy(w, f)
				return
			}
		}

		// For SPA routing, serve index.html for non-asset paths
		if !strings.HasPrefix(path, "/assets/") {
			indexFile, err := fs.Open("/index.html")
			if err == nil {
				defer indexFile.Close()
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				io.Copy(w, indexFile)
				return
			}
		}
	}

	// Fallback: return placeholder page if no frontend is built
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Face Registry</title>
    <style>
        body { font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #1a1a2e; color: #eee; }
        .container { text-align: center; }
        h1 { color: #00d9ff; }
        p { color: #aaa; }
        a { color: #00d9ff; }
        code { background: #2a2a3e; padding: 2px 8px; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Face Registry Web UI</h1>
        <p>Frontend assets are missing from this build.</p>
        <p>API is available at <a href="/api/v1/health">/api/v1/health</a></p>
    </div>
</body>
</html>`))
}
