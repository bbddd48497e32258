package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database/mariadb"
	"github.com/kozaktomas/face-registry/internal/writeback"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Write confirmed identities back to PhotoPrism",
	Long: `Push confirmed person assignments back to PhotoPrism: create markers
for faces PhotoPrism missed and set marker subjects to the assigned
person names. With --push-embeddings or --push-centroids the detector
embeddings and person centroids are written straight into the MariaDB
database of PhotoPrism, which requires PHOTOPRISM_DATABASE_URL.`,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().Bool("dry-run", false, "Plan actions without writing anything")
	applyCmd.Flags().Int("limit", 0, "Max photos to touch (0 = no limit)")
	applyCmd.Flags().Bool("push-embeddings", false, "Replace PhotoPrism marker embeddings with detector ones")
	applyCmd.Flags().Bool("push-centroids", false, "Write person centroids into PhotoPrism face clusters")
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	dryRun := mustGetBool(cmd, "dry-run")
	pushEmbeddings := mustGetBool(cmd, "push-embeddings")
	pushCentroids := mustGetBool(cmd, "push-centroids")

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

	var maria *mariadb.Pool
	if pushEmbeddings || pushCentroids {
		if cfg.PhotoPrism.DatabaseURL == "" {
			return errors.New("PHOTOPRISM_DATABASE_URL environment variable is required for --push-embeddings and --push-centroids")
		}
		maria, err = mariadb.NewPool(cfg.PhotoPrism.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to PhotoPrism MariaDB: %w", err)
		}
		defer maria.Close()
		fmt.Println("Connected to PhotoPrism MariaDB")
	}

	if dryRun {
		fmt.Println("Dry run: nothing will be written")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, finishing the current photo...")
		cancel()
	}()

	result, err := writeback.New(pp, maria, repos.detections, repos.persons, repos.identities).Run(ctx, writeback.Options{
		DryRun:         dryRun,
		Limit:          mustGetInt(cmd, "limit"),
		PushEmbeddings: pushEmbeddings,
		PushCentroids:  pushCentroids,
	})
	if err != nil {
		if result == nil || !errors.Is(err, context.Canceled) {
			return fmt.Errorf("apply failed: %w", err)
		}
		fmt.Printf("\nApply interrupted, partial results:\n")
	} else if dryRun {
		fmt.Printf("\nApply dry run complete, would have done:\n")
	} else {
		fmt.Printf("\nApply complete:\n")
	}

	fmt.Printf("  Photos examined:   %d\n", result.PhotosExamined)
	fmt.Printf("  Markers created:   %d\n", result.MarkersCreated)
	fmt.Printf("  Subjects assigned: %d\n", result.SubjectsAssigned)
	fmt.Printf("  Already done:      %d\n", result.AlreadyDone)
	fmt.Printf("  Conflicts:         %d\n", result.Conflicts)
	if pushEmbeddings {
		fmt.Printf("  Embeddings pushed: %d\n", result.EmbeddingsPushed)
	}
	if pushCentroids {
		fmt.Printf("  Centroids pushed:  %d\n", result.CentroidsPushed)
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, e := range result.Errors {
			if i == 10 {
				fmt.Printf("  ... and %d more\n", len(result.Errors)-10)
				break
			}
			fmt.Printf("  - %v\n", e)
		}
	}
	return nil
}
