package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "filescope",
	Short: "Face-recognition driven photo organization engine",
	Long: `FileScope scans photo collections, detects faces, matches them against
known identities and organizes the files into per-person folders. It also
finds duplicate files and exposes the engine over HTTP for the desktop UI.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
