package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Cluster unidentified faces into review proposals",
	Long: `Group unidentified detections into cluster proposals by pairwise
similarity. Each proposal collects faces that likely belong to the same
person and waits for review; accept or reject them in the web UI or
with the proposals subcommands.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)

	rebuildCmd.Flags().Float64("threshold", 0, "Min pairwise similarity for a cluster edge (0 = configured default)")
	rebuildCmd.Flags().Int("max-group-size", 0, "Skip clusters larger than this (0 = configured default)")
	rebuildCmd.Flags().Int("batch-limit", 0, "Max detections to load (0 = configured default)")
	rebuildCmd.Flags().Bool("include-assigned", false, "Also cluster detections that already have an identity")
	rebuildCmd.Flags().Bool("force", false, "Recreate groups that were already proposed or rejected")
}

// phaseLabel maps rebuild progress phases to progress bar descriptions.
func phaseLabel(phase string) string {
	switch phase {
	case "pairwise":
		return "Comparing faces"
	case "building":
		return "Building proposals"
	case "saving":
		return "Storing proposals"
	default:
		return "Rebuilding"
	}
}

func runRebuild(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", threshold)
	}

	repos, err := openRegistry(cfg, false)
	if err != nil {
		return err
	}
	engine := repos.buildEngine(cfg)

	effective := threshold
	if effective == 0 {
		effective = engine.Config().Cluster
	}
	fmt.Printf("Clustering with pairwise threshold %.2f\n", effective)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, abandoning the rebuild pass...")
		cancel()
	}()

	var bar *progressbar.ProgressBar
	var barPhase string
	onProgress := func(p identity.ProgressInfo) {
		if p.Total == 0 {
			return
		}
		if bar == nil || barPhase != p.Phase {
			if bar != nil {
				bar.Finish()
				fmt.Println()
			}
			barPhase = p.Phase
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription(phaseLabel(p.Phase)),
				progressbar.OptionShowCount(),
				progressbar.OptionFullWidth(),
			)
		}
		bar.Set(p.Current)
	}

	result, err := engine.RebuildProposals(ctx, identity.RebuildOptions{
		Threshold:       threshold,
		MaxGroupSize:    mustGetInt(cmd, "max-group-size"),
		BatchLimit:      mustGetInt(cmd, "batch-limit"),
		IncludeAssigned: mustGetBool(cmd, "include-assigned"),
		Force:           mustGetBool(cmd, "force"),
		OnProgress:      onProgress,
	})
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("Rebuild cancelled, no proposals were written")
			return nil
		}
		return fmt.Errorf("rebuild failed: %w", err)
	}

	fmt.Printf("\nRebuild complete:\n")
	fmt.Printf("  Detections examined: %d\n", result.Examined)
	fmt.Printf("  Proposals created:   %d\n", result.Created)
	fmt.Printf("  Skipped duplicates:  %d\n", result.SkippedDuplicates)
	fmt.Printf("  Skipped oversize:    %d\n", result.SkippedOversize)

	for i, p := range result.Proposals {
		if i == 20 {
			fmt.Printf("  ... and %d more\n", len(result.Proposals)-20)
			break
		}
		fmt.Printf("  %s: %d faces, similarity %.3f..%.3f, suggested %q\n",
			p.ID, len(p.Members), p.ScoreMin, p.ScoreMax, p.SuggestedLabel)
	}

	if result.Created > 0 {
		fmt.Println("\nReview the proposals in the web UI (face-registry serve)")
	}
	return nil
}
