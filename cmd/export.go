package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/latex"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a PDF contact sheet of identified faces",
	Long: `Render a contact sheet PDF with the best face crops of every confirmed
person, one section per person. Requires pdflatex on the PATH.`,
	Example: `  face-registry export --output family.pdf
  face-registry export --person 1fa3c4d2-0b6e-4f3a-9c1d-2e5b7a8c9d0e --max-faces 12`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringSlice("person", nil, "Export only these person IDs (default: every confirmed person)")
	exportCmd.Flags().Int("max-faces", 0, "Faces per person, best matches first (0 = 30)")
	exportCmd.Flags().String("title", "", "Sheet title in the running header")
	exportCmd.Flags().String("output", "contact-sheet.pdf", "Output PDF path")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	output := mustGetString(cmd, "output")

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

	fmt.Println("Rendering contact sheet...")
	generator := latex.NewGenerator(pp, repos.persons, repos.identities, repos.detections)
	pdf, report, err := generator.Generate(context.Background(), latex.Options{
		PersonIDs: mustGetStringSlice(cmd, "person"),
		MaxFaces:  mustGetInt(cmd, "max-faces"),
		Title:     mustGetString(cmd, "title"),
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if err := os.WriteFile(output, pdf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	fmt.Printf("\nWrote %s (%d KiB)\n", output, len(pdf)/1024)
	fmt.Printf("  Pages:   %d\n", report.PageCount)
	fmt.Printf("  Persons: %d\n", report.PersonCount)
	fmt.Printf("  Faces:   %d\n", report.FaceCount)

	if len(report.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(report.Warnings))
		for _, warning := range report.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
	}
	return nil
}
