package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry counters",
	Long:  `Print the number of stored detections, identified faces, persons and proposals.`,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	repos, err := openRegistry(cfg, true)
	if err != nil {
		return err
	}

	ctx := context.Background()

	detections, err := repos.detections.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count detections: %w", err)
	}
	photos, err := repos.detections.CountPhotos(ctx)
	if err != nil {
		return fmt.Errorf("failed to count photos: %w", err)
	}
	unassigned, err := repos.detections.CountUnassigned(ctx)
	if err != nil {
		return fmt.Errorf("failed to count unassigned detections: %w", err)
	}
	identified, err := repos.identities.CountIdentities(ctx)
	if err != nil {
		return fmt.Errorf("failed to count identities: %w", err)
	}
	persons, err := repos.persons.CountPersons(ctx)
	if err != nil {
		return fmt.Errorf("failed to count persons: %w", err)
	}
	proposals, err := repos.proposals.CountProposals(ctx)
	if err != nil {
		return fmt.Errorf("failed to count proposals: %w", err)
	}

	fmt.Printf("Photos with faces: %d\n", photos)
	fmt.Printf("Face detections:   %d\n", detections)
	fmt.Printf("  identified:      %d\n", identified)
	fmt.Printf("  unassigned:      %d\n", unassigned)
	fmt.Printf("Persons:           %d\n", persons)
	fmt.Println("Proposals:")
	for _, status := range []string{database.ProposalPending, database.ProposalAccepted, database.ProposalRejected} {
		fmt.Printf("  %-9s        %d\n", status+":", proposals[status])
	}
	return nil
}
