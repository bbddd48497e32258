package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/spf13/cobra"
)

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List and decide cluster proposals",
	Long: `List the cluster proposals produced by the rebuild pass. Use
subcommands to inspect, accept or reject them.`,
	RunE: runProposalsList,
}

var proposalsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show the members of a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalsShow,
}

var proposalsAcceptCmd = &cobra.Command{
	Use:   "accept [id]",
	Short: "Accept a proposal and assign its faces to a person",
	Long: `Accept a pending proposal. The faces go to the person given by --person
or --name; without either the stored suggestion is used and an unknown
name creates the person.`,
	Args: cobra.ExactArgs(1),
	RunE: runProposalsAccept,
}

var proposalsRejectCmd = &cobra.Command{
	Use:   "reject [id]",
	Short: "Reject a proposal",
	Long: `Reject a pending proposal. The same group of faces will not be proposed
again unless the rebuild pass runs with --force.`,
	Args: cobra.ExactArgs(1),
	RunE: runProposalsReject,
}

func init() {
	rootCmd.AddCommand(proposalsCmd)
	proposalsCmd.AddCommand(proposalsShowCmd)
	proposalsCmd.AddCommand(proposalsAcceptCmd)
	proposalsCmd.AddCommand(proposalsRejectCmd)

	// List flags
	proposalsCmd.Flags().String("status", database.ProposalPending, "Filter by status: pending, accepted, rejected (empty = all)")
	proposalsCmd.Flags().Int("limit", 50, "Maximum number of proposals to list")
	proposalsCmd.Flags().Int("offset", 0, "Number of proposals to skip")

	// Accept flags
	proposalsAcceptCmd.Flags().String("person", "", "Assign to an existing person by ID")
	proposalsAcceptCmd.Flags().String("name", "", "Assign to a person by display name (created when unknown)")
}

func runProposalsList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	repos, err := openRegistry(cfg, true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	proposals, err := repos.proposals.ListProposals(ctx, mustGetString(cmd, "status"), mustGetInt(cmd, "limit"), mustGetInt(cmd, "offset"))
	if err != nil {
		return fmt.Errorf("failed to list proposals: %w", err)
	}

	if len(proposals) == 0 {
		fmt.Println("No proposals found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tFACES\tSIMILARITY\tSUGGESTED\tCREATED")
	fmt.Fprintln(w, "--\t------\t-----\t----------\t---------\t-------")

	for _, p := range proposals {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.3f..%.3f\t%s\t%s\n",
			p.ID, p.Status, len(p.Members), p.ScoreMin, p.ScoreMax, p.SuggestedLabel, p.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d proposals\n", len(proposals))
	return nil
}

func runProposalsShow(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	repos, err := openRegistry(cfg, true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	proposal, err := repos.proposals.GetProposal(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load proposal: %w", err)
	}
	if proposal == nil {
		return fmt.Errorf("proposal %s not found", args[0])
	}

	fmt.Printf("Proposal %s\n", proposal.ID)
	fmt.Printf("  Status:     %s\n", proposal.Status)
	fmt.Printf("  Similarity: %.3f..%.3f (mean %.3f)\n", proposal.ScoreMin, proposal.ScoreMax, proposal.ScoreMean)
	if proposal.SuggestedLabel != "" {
		fmt.Printf("  Suggested:  %s\n", proposal.SuggestedLabel)
	}
	fmt.Printf("  Created:    %s\n", proposal.CreatedAt.Format("2006-01-02 15:04:05"))
	if proposal.DecidedAt != nil {
		fmt.Printf("  Decided:    %s\n", proposal.DecidedAt.Format("2006-01-02 15:04:05"))
	}

	ids := make([]int64, len(proposal.Members))
	for i, m := range proposal.Members {
		ids[i] = m.DetectionID
	}
	detections, err := repos.detections.GetBatch(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load member detections: %w", err)
	}
	photoOf := make(map[int64]string, len(detections))
	for _, det := range detections {
		photoOf[det.ID] = det.PhotoUID
	}

	fmt.Printf("\nMembers (%d):\n", len(proposal.Members))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  DETECTION\tSIMILARITY\tPHOTO")
	for _, m := range proposal.Members {
		fmt.Fprintf(w, "  %d\t%.3f\t%s\n", m.DetectionID, m.Similarity, cfg.PhotoPrism.PhotoURL(photoOf[m.DetectionID]))
	}
	w.Flush()
	return nil
}

func runProposalsAccept(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	repos, err := openRegistry(cfg, true)
	if err != nil {
		return err
	}
	engine := repos.buildEngine(cfg)

	result, err := engine.AcceptProposal(context.Background(), args[0], identity.PersonRef{
		PersonID:    mustGetString(cmd, "person"),
		DisplayName: mustGetString(cmd, "name"),
	})
	if err != nil {
		return fmt.Errorf("failed to accept proposal: %w", err)
	}

	if result.CreatedPerson {
		fmt.Printf("Created person %q (%s)\n", result.Person.DisplayName, result.Person.ID)
	}
	fmt.Printf("Accepted: %d faces assigned to %q\n", result.Assigned, result.Person.DisplayName)
	return nil
}

func runProposalsReject(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	repos, err := openRegistry(cfg, true)
	if err != nil {
		return err
	}
	engine := repos.buildEngine(cfg)

	proposal, err := engine.RejectProposal(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to reject proposal: %w", err)
	}

	fmt.Printf("Rejected proposal %s (%d faces stay unassigned)\n", proposal.ID, len(proposal.Members))
	return nil
}
