package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/postgres"
	"github.com/kozaktomas/face-registry/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Registry web server.
The web server provides a browser-based interface for reviewing cluster
proposals, managing persons and inspecting face detections.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (defaults to random)")
}

// initDetectionHNSW builds or loads the detection HNSW index for fast similarity search.
func initDetectionHNSW(ctx context.Context, detectionRepo *postgres.DetectionRepository, indexPath string) {
	if indexPath != "" {
		fmt.Printf("Loading detection HNSW index from %s...\n", indexPath)
	} else {
		fmt.Printf("Building in-memory HNSW index for face matching...\n")
	}
	if err := detectionRepo.EnableHNSW(ctx, indexPath); err != nil {
		fmt.Printf("Warning: Failed to build detection HNSW index: %v\n", err)
		fmt.Printf("Face matching will use PostgreSQL queries (slower)\n")
	} else if indexPath != "" {
		fmt.Printf("Detection HNSW index ready with %d faces (persisted to %s)\n", detectionRepo.HNSWCount(), indexPath)
	} else {
		fmt.Printf("Detection HNSW index built with %d faces (in-memory only)\n", detectionRepo.HNSWCount())
	}
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")
	sessionSecret := mustGetString(cmd, "session-secret")

	if sessionSecret == "" {
		sessionSecret = os.Getenv("WEB_SESSION_SECRET")
	}
	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host, sessionSecret
}

// saveHNSWIndex saves the detection HNSW index to disk during shutdown.
func saveHNSWIndex() {
	if rebuilder := database.GetDetectionHNSWRebuilder(); rebuilder != nil {
		if err := rebuilder.SaveHNSWIndex(); err != nil {
			fmt.Printf("Warning: failed to save detection HNSW index: %v\n", err)
		} else {
			fmt.Println("Detection HNSW index saved to disk")
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	repos, err := openRegistry(cfg, false)
	if err != nil {
		return err
	}
	fmt.Printf("Using PostgreSQL backend\n")

	ctx := context.Background()
	initDetectionHNSW(ctx, repos.detections, cfg.Database.HNSWIndexPath)

	engine := repos.buildEngine(cfg)
	fmt.Printf("Identity engine ready (dim=%d, auto>=%.2f, suggest>=%.2f)\n",
		engine.Dim(), engine.Config().AutoAssign, engine.Config().Suggest)

	port, host, sessionSecret := resolveServeHostPort(cmd)

	server, err := web.NewServer(cfg, engine, port, host, sessionSecret, repos.sessions)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveHNSWIndex()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Registry web UI on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
