package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/match"
	"github.com/filescope/filescope/internal/organize"
)

var organizeCmd = &cobra.Command{
	Use:   "organize [path]",
	Short: "Scan photos and sort them into per-person folders",
	Long: `Scan a folder of photos, match the detected faces against the identity
index and move or copy each photo into a folder named after the matched
person. Photos without a recognized face land in the unsorted bucket.`,
	Args: cobra.ExactArgs(1),
	RunE: runOrganize,
}

func init() {
	rootCmd.AddCommand(organizeCmd)

	organizeCmd.Flags().String("dest", "", "Destination root folder (required)")
	organizeCmd.Flags().Bool("move", false, "Move files instead of copying")
	organizeCmd.Flags().Bool("overwrite", false, "Overwrite existing files instead of suffixing")
	organizeCmd.Flags().Bool("dry-run", false, "Preview placements without touching files")
	organizeCmd.Flags().Bool("recursive", true, "Scan subdirectories")
	organizeCmd.Flags().Bool("background", false, "Throttled concurrency for background processing")
	organizeCmd.Flags().Int("concurrency", 0, "Number of parallel workers (0 = from config)")
	_ = organizeCmd.MarkFlagRequired("dest")
}

func runOrganize(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dest := mustGetString(cmd, "dest")
	if mustGetBool(cmd, "move") {
		cfg.Organize.Move = true
	}
	if mustGetBool(cmd, "overwrite") {
		cfg.Organize.Overwrite = true
	}

	result, err := scanFiles(cmd, cfg, args[0])
	if err != nil {
		return err
	}

	var assignments []match.Result
	for _, fr := range result.Files {
		if fr.Err != nil {
			continue
		}
		best, _ := fr.Best()
		assignments = append(assignments, best)
	}
	if len(assignments) == 0 {
		return fmt.Errorf("nothing to organize, all %d files failed", result.Processed)
	}

	organizer := organize.New(dest, cfg.Organize)

	if mustGetBool(cmd, "dry-run") {
		fmt.Printf("Dry run, %d photos would be organized under %s:\n", len(assignments), dest)
		for _, a := range assignments {
			fmt.Printf("  %s -> %s\n", a.Path, organizer.DestinationDir(a.Candidate))
		}
		return nil
	}

	verb := "Copying"
	if cfg.Organize.Move {
		verb = "Moving"
	}
	fmt.Printf("%s %d photos into %s\n", verb, len(assignments), dest)

	report := organizer.Apply(context.Background(), assignments)

	fmt.Printf("Organized %d photos\n", len(report.Operations))
	if len(result.Errors) > 0 {
		fmt.Printf("%d photos failed during scanning:\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  %v\n", e)
		}
	}
	if len(report.Errors) > 0 {
		fmt.Printf("%d photos failed during organizing:\n", len(report.Errors))
		for _, e := range report.Errors {
			fmt.Printf("  %v\n", e)
		}
	}
	return nil
}
