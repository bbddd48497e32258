package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/detector"
	"github.com/kozaktomas/face-registry/internal/ingest"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Extract face embeddings from the PhotoPrism library",
	Long: `Page through the PhotoPrism library, run face detection on every photo
that has not been processed yet and store the resulting embeddings.
Photos already ingested are skipped unless --force is given.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Int("limit", 0, "Max photos to process (0 = no limit)")
	ingestCmd.Flags().Int("concurrency", 5, "Number of parallel photo workers")
	ingestCmd.Flags().Bool("force", false, "Reprocess photos that were already ingested")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	repos, err := openRegistry(cfg, false)
	if err != nil {
		return err
	}

	pp, err := connectPhotoPrism(cfg)
	if err != nil {
		return err
	}
	defer pp.Logout()
	fmt.Printf("Connected to PhotoPrism at %s\n", cfg.PhotoPrism.URL)
	fmt.Printf("Using face detector at %s (model %s, dim %d)\n", cfg.Detector.URL, cfg.Detector.Model, cfg.Detector.Dim)

	det := detector.NewClient(cfg.Detector.URL, cfg.Detector.Model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, finishing photos in flight...")
		cancel()
	}()

	result, err := ingest.New(pp, det, repos.detections).Run(ctx, ingest.Options{
		Limit:       mustGetInt(cmd, "limit"),
		Concurrency: mustGetInt(cmd, "concurrency"),
		Force:       mustGetBool(cmd, "force"),
	})
	if err != nil {
		if result == nil || !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ingest failed: %w", err)
		}
		fmt.Printf("\nIngest interrupted, partial results:\n")
	} else {
		fmt.Printf("\nIngest complete:\n")
	}
	fmt.Printf("  Photos listed:    %d\n", result.PhotosTotal)
	fmt.Printf("  Already ingested: %d\n", result.PhotosSkipped)
	fmt.Printf("  Processed:        %d\n", result.PhotosProcessed)
	fmt.Printf("  Failed:           %d\n", result.PhotosFailed)
	fmt.Printf("  Faces stored:     %d\n", result.FacesStored)
	fmt.Printf("  Markers matched:  %d\n", result.MarkersMatched)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %v\n", e)
		}
	}

	total, err := repos.detections.Count(ctx)
	if err == nil {
		fmt.Printf("\nDetections in registry: %d\n", total)
	}
	return nil
}
