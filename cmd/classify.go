package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Match unidentified faces against known persons",
	Long: `Run the identity matcher over every unidentified detection. Faces
close enough to a confirmed person are assigned automatically; near
misses stay unassigned and show up as suggestions in the web UI.`,
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().Int("limit", 0, "Max detections to classify (0 = no limit)")
	classifyCmd.Flags().Bool("dry-run", false, "Score detections without writing assignments")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	repos, err := openRegistry(cfg, false)
	if err != nil {
		return err
	}
	engine := repos.buildEngine(cfg)
	dryRun := mustGetBool(cmd, "dry-run")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, stopping after the current detection...")
		cancel()
	}()

	detections, err := repos.detections.ListUnassigned(ctx, mustGetInt(cmd, "limit"))
	if err != nil {
		return fmt.Errorf("listing unassigned detections: %w", err)
	}
	if len(detections) == 0 {
		fmt.Println("No unidentified detections to classify")
		return nil
	}

	fmt.Printf("Classifying %d unidentified detections\n", len(detections))
	if dryRun {
		fmt.Println("Dry run: no assignments will be written")
	}

	bar := progressbar.NewOptions(len(detections),
		progressbar.OptionSetDescription("Classifying faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	counts := map[identity.Decision]int{}
	assignedPer := map[string]int{}
	var failures []error

	for _, det := range detections {
		if ctx.Err() != nil {
			break
		}

		var result *identity.ClassifyResult
		if dryRun {
			result, err = engine.ClassifyEmbedding(ctx, det.Embedding)
		} else {
			result, err = engine.Classify(ctx, det.ID, false)
		}
		bar.Add(1)
		if err != nil {
			failures = append(failures, fmt.Errorf("detection %d: %w", det.ID, err))
			continue
		}

		counts[result.Decision]++
		if result.Decision == identity.DecisionAutoAssigned && len(result.Candidates) > 0 {
			assignedPer[result.Candidates[0].DisplayName]++
		}
	}
	fmt.Println()

	if ctx.Err() != nil {
		fmt.Println("Classification interrupted, partial results:")
	}
	fmt.Printf("  Auto-assigned: %d\n", counts[identity.DecisionAutoAssigned])
	fmt.Printf("  Suggestions:   %d\n", counts[identity.DecisionSuggestion])
	fmt.Printf("  Conflicts:     %d\n", counts[identity.DecisionConflict])
	fmt.Printf("  Unassigned:    %d\n", counts[identity.DecisionUnassigned])

	if len(assignedPer) > 0 {
		names := make([]string, 0, len(assignedPer))
		for name := range assignedPer {
			names = append(names, name)
		}
		sort.Strings(names)
		if dryRun {
			fmt.Println("\nWould assign per person:")
		} else {
			fmt.Println("\nAssignments per person:")
		}
		for _, name := range names {
			fmt.Printf("  %-30s %d\n", name, assignedPer[name])
		}
	}

	if counts[identity.DecisionSuggestion]+counts[identity.DecisionConflict] > 0 {
		fmt.Println("\nReview suggestions and conflicts in the web UI (face-registry serve)")
	}

	if len(failures) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(failures))
		for i, e := range failures {
			if i == 10 {
				fmt.Printf("  ... and %d more\n", len(failures)-10)
				break
			}
			fmt.Printf("  - %v\n", e)
		}
	}
	return nil
}
