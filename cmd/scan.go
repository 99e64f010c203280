package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/imaging"
	"github.com/filescope/filescope/internal/match"
	"github.com/filescope/filescope/internal/pipeline"
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Detect and match faces in a photo collection",
	Long: `Scan a folder of photos, detect faces and match them against the
identity index. Prints a per-file report; nothing is moved or copied.
Use the organize command to act on the results.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Bool("recursive", true, "Scan subdirectories")
	scanCmd.Flags().Bool("background", false, "Throttled concurrency for background processing")
	scanCmd.Flags().Int("concurrency", 0, "Number of parallel workers (0 = from config)")
	scanCmd.Flags().Bool("json", false, "Print results as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	result, err := scanFiles(cmd, cfg, args[0])
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printScanReport(result)
	return nil
}

// scanFiles runs the pipeline over a folder with signal handling and a
// progress bar. Shared by scan and organize.
func scanFiles(cmd *cobra.Command, cfg *config.Config, root string) (*pipeline.Result, error) {
	files, err := imaging.Enumerate(root, cfg.Pipeline.Extensions, mustGetBool(cmd, "recursive"))
	if err != nil {
		return nil, fmt.Errorf("enumerating %s: %w", root, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files found under %s", root)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal...")
		cancel()
	}()

	store, _, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	matcher := match.NewMatcher(store, cfg.Match.AcceptDistance, cfg.Match.TieEpsilon)
	runner := pipeline.New(newProvider(cfg), matcher, cfg)

	concurrency := mustGetInt(cmd, "concurrency")
	background := mustGetBool(cmd, "background")

	workers := concurrency
	if workers <= 0 {
		workers = cfg.Concurrency(background)
	}
	fmt.Printf("Scanning %d photos (%d workers)\n", len(files), workers)

	bar := newBar(len(files), "Processing photos")
	result, err := runner.Run(ctx, files, pipeline.Options{
		Background:  background,
		Concurrency: concurrency,
		OnProgress: func(info pipeline.ProgressInfo) {
			bar.Add(1)
		},
	})
	fmt.Println() // New line after progress bar
	if err != nil {
		return nil, err
	}
	return result, nil
}

func printScanReport(result *pipeline.Result) {
	for _, fr := range result.Files {
		if fr.Err != nil {
			fmt.Printf("  %s: ERROR %v\n", fr.Path, fr.Err)
			continue
		}
		if len(fr.Faces) == 0 {
			fmt.Printf("  %s: no faces\n", fr.Path)
			continue
		}
		for _, face := range fr.Faces {
			m := face.Match
			if m.Known() {
				fmt.Printf("  %s: face %d -> %s (similarity %.2f)\n", fr.Path, face.Detection.FaceIndex, m.Candidate, m.Similarity)
			} else {
				fmt.Printf("  %s: face %d -> %s\n", fr.Path, face.Detection.FaceIndex, match.Unknown)
			}
		}
	}

	fmt.Printf("\nProcessed %d photos, %d matched", result.Processed, result.Matched)
	if len(result.Errors) > 0 {
		fmt.Printf(", %d errors", len(result.Errors))
	}
	fmt.Println()
}
