package cmd

import (
	"context"
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

var clusterCmd = &cobra.Command{
	Use:   "cluster [path]",
	Short: "Group faces into provisional identities",
	Long: `Extract face embeddings from a folder of photos and group faces whose
mutual distance stays below the clustering threshold into provisional
identities. Useful to bootstrap the identity index from an unlabeled
collection; labeling the resulting groups is up to you.`,
	Args: cobra.ExactArgs(1),
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)

	clusterCmd.Flags().Float64("threshold", 0, "Clustering distance threshold (0 = from config)")
	clusterCmd.Flags().Bool("recursive", true, "Scan subdirectories")
	clusterCmd.Flags().Int("concurrency", 0, "Number of parallel workers (0 = from config)")
}

func runCluster(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = cfg.Match.ClusterDistance
	}

	files, err := imaging.Enumerate(args[0], cfg.Pipeline.Extensions, mustGetBool(cmd, "recursive"))
	if err != nil {
		return fmt.Errorf("enumerating %s: %w", args[0], err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no image files found under %s", args[0])
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

	runner := pipeline.New(newProvider(cfg), nil, cfg)

	fmt.Printf("Extracting faces from %d photos\n", len(files))
	bar := newBar(len(files), "Extracting faces")
	faces, errs := runner.Extract(ctx, files, pipeline.Options{
		Concurrency: mustGetInt(cmd, "concurrency"),
		OnProgress: func(info pipeline.ProgressInfo) {
			bar.Add(1)
		},
	})
	fmt.Println()

	if len(faces) == 0 {
		fmt.Println("No faces found")
		return nil
	}

	embeddings := make([][]float32, len(faces))
	for i, f := range faces {
		embeddings[i] = f.Embedding
	}
	clusters := match.ClusterEmbeddings(embeddings, threshold)

	fmt.Printf("Found %d faces in %d provisional identities (threshold %.2f):\n", len(faces), len(clusters), threshold)
	for _, c := range clusters {
		fmt.Printf("\n%s (%d faces)\n", c.Label, len(c.Members))
		for _, m := range c.Members {
			fmt.Printf("  %s (face %d)\n", faces[m].Path, faces[m].FaceIndex)
		}
	}

	if len(errs) > 0 {
		fmt.Printf("\n%d photos failed:\n", len(errs))
		for _, e := range errs {
			fmt.Printf("  %v\n", e)
		}
	}
	return nil
}
