package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/spf13/cobra"
)

var personsCmd = &cobra.Command{
	Use:   "persons",
	Short: "List and manage person identities",
	Long:  `List the person identities in the registry. Use subcommands to rename, confirm or merge persons.`,
	RunE:  runPersonsList,
}

var personsRenameCmd = &cobra.Command{
	Use:     "rename [id] [new name]",
	Short:   "Change the display name of a person",
	Example: `  face-registry persons rename 1fa3c4d2-0b6e-4f3a-9c1d-2e5b7a8c9d0e "Anna Novak"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runPersonsRename,
}

var personsConfirmCmd = &cobra.Command{
	Use:   "confirm [id...]",
	Short: "Confirm persons so the matcher assigns new faces to them",
	Long: `Mark one or more persons as confirmed. Only confirmed persons take part
in matching; auto-assignment is enabled as well unless --no-auto-assign
is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPersonsConfirm,
}

var personsMergeCmd = &cobra.Command{
	Use:   "merge [source id] [target id]",
	Short: "Merge one person into another",
	Long: `Merge the source person into the target person. All identities move to
the target, its centroid is recomputed and the source remains only as a
tombstone pointing at the target.`,
	Args: cobra.ExactArgs(2),
	RunE: runPersonsMerge,
}

func init() {
	rootCmd.AddCommand(personsCmd)
	personsCmd.AddCommand(personsRenameCmd)
	personsCmd.AddCommand(personsConfirmCmd)
	personsCmd.AddCommand(personsMergeCmd)

	// List flags
	personsCmd.Flags().Bool("all", false, "Include persons that were merged away")

	// Confirm flags
	personsConfirmCmd.Flags().Bool("no-auto-assign", false, "Leave automatic assignment disabled")

	// Merge flags
	personsMergeCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func runPersonsList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	repos, err := openRegistry(cfg, true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	persons, err := repos.persons.ListPersons(ctx, mustGetBool(cmd, "all"))
	if err != nil {
		return fmt.Errorf("failed to list persons: %w", err)
	}

	if len(persons) == 0 {
		fmt.Println("No persons found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFACES\tCONFIRMED\tAUTO\tMERGED INTO")
	fmt.Fprintln(w, "--\t----\t-----\t---------\t----\t-----------")

	for _, p := range persons {
		confirmed := ""
		if p.Confirmed {
			confirmed = "yes"
		}
		auto := ""
		if p.AutoAssignEnabled {
			auto = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", p.ID, p.DisplayName, p.EmbeddingCount, confirmed, auto, p.MergedInto)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d persons\n", len(persons))
	return nil
}

func runPersonsRename(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	id := args[0]
	name := strings.TrimSpace(args[1])
	if name == "" {
		return fmt.Errorf("new name must not be empty")
	}

	repos, err := openRegistry(cfg, true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	person, err := repos.persons.GetPerson(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load person: %w", err)
	}
	if person == nil {
		return fmt.Errorf("person %s not found", id)
	}

	if err := repos.persons.UpdatePersonName(ctx, id, name); err != nil {
		return fmt.Errorf("failed to rename person: %w", err)
	}

	fmt.Printf("Renamed %q to %q\n", person.DisplayName, name)
	return nil
}

func runPersonsConfirm(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	autoAssign := !mustGetBool(cmd, "no-auto-assign")

	repos, err := openRegistry(cfg, true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, id := range args {
		person, err := repos.persons.GetPerson(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load person %s: %w", id, err)
		}
		if person == nil {
			fmt.Printf("  - WARNING: Unknown person %s (skipping)\n", id)
			continue
		}
		if person.MergedInto != "" {
			fmt.Printf("  - WARNING: Person %s was merged into %s (skipping)\n", id, person.MergedInto)
			continue
		}

		if err := repos.persons.UpdatePersonFlags(ctx, id, true, autoAssign); err != nil {
			return fmt.Errorf("failed to confirm person %s: %w", id, err)
		}
		fmt.Printf("Confirmed %q (auto-assign: %v)\n", person.DisplayName, autoAssign)
	}
	return nil
}

func runPersonsMerge(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	skipConfirm := mustGetBool(cmd, "yes")
	sourceID, targetID := args[0], args[1]

	repos, err := openRegistry(cfg, true)
	if err != nil {
		return err
	}
	engine := repos.buildEngine(cfg)

	ctx := context.Background()
	source, err := repos.persons.GetPerson(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("failed to load source person: %w", err)
	}
	if source == nil {
		return fmt.Errorf("person %s not found", sourceID)
	}
	target, err := repos.persons.GetPerson(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to load target person: %w", err)
	}
	if target == nil {
		return fmt.Errorf("person %s not found", targetID)
	}

	if !skipConfirm {
		fmt.Printf("Merge %q (%d faces) into %q (%d faces)? [y/N]: ",
			source.DisplayName, source.EmbeddingCount, target.DisplayName, target.EmbeddingCount)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	merged, err := engine.MergePersons(ctx, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("failed to merge persons: %w", err)
	}

	fmt.Printf("Merged %q into %q, now %d faces\n", source.DisplayName, merged.DisplayName, merged.EmbeddingCount)
	return nil
}
