package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var captureDir string

var rootCmd = &cobra.Command{
	Use:   "face-registry",
	Short: "Face identity matching and clustering for a PhotoPrism library",
	Long: `Face Registry ingests face embeddings from a PhotoPrism instance,
matches new faces against known persons, clusters the unidentified
remainder into review proposals, and writes confirmed identities back
to PhotoPrism.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&captureDir, "capture", "", "Directory to save API responses for testing")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
