package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/dupes"
)

var dupesCmd = &cobra.Command{
	Use:   "dupes [path]",
	Short: "Find duplicate files in a folder",
	Long: `Find duplicate files under a folder. The quick scan matches files by
normalized name, catching copy-pattern suffixes like "photo (1).jpg" or
"photo - Copy.jpg". The deep scan groups files by content hash and finds
exact duplicates regardless of name. The similar scan compares perceptual
image hashes and also catches resized or re-encoded copies.`,
	Args: cobra.ExactArgs(1),
	RunE: runDupes,
}

func init() {
	rootCmd.AddCommand(dupesCmd)

	dupesCmd.Flags().Bool("deep", false, "Compare file contents instead of names")
	dupesCmd.Flags().Bool("similar", false, "Compare perceptual image hashes")
	dupesCmd.Flags().String("algorithm", "sha256", "Hash algorithm for the deep scan (md5, sha1, sha256)")
	dupesCmd.Flags().Bool("match-size", false, "Require equal file size in the quick scan")
	dupesCmd.Flags().Int("hamming", 0, "Max Hamming distance for the similar scan (0 = default)")
}

func runDupes(cmd *cobra.Command, args []string) error {
	root := args[0]
	ctx := cmd.Context()

	var groups []dupes.Group
	var err error
	switch {
	case mustGetBool(cmd, "similar"):
		cfg, cfgErr := config.Load()
		if cfgErr != nil {
			return cfgErr
		}
		fmt.Printf("Fingerprinting images under %s\n", root)
		groups, err = dupes.SimilarScan(ctx, root, dupes.SimilarOptions{
			Extensions: cfg.Pipeline.Extensions,
			Threshold:  mustGetInt(cmd, "hamming"),
		})
	case mustGetBool(cmd, "deep"):
		fmt.Printf("Hashing files under %s\n", root)
		groups, err = dupes.DeepScan(ctx, root, mustGetString(cmd, "algorithm"))
	default:
		groups, err = dupes.QuickScan(ctx, root, dupes.QuickOptions{
			MatchSize: mustGetBool(cmd, "match-size"),
		})
	}
	if err != nil {
		return err
	}

	if len(groups) == 0 {
		fmt.Println("No duplicates found")
		return nil
	}

	for _, g := range groups {
		fmt.Printf("\n%s (%d files, %s wasted)\n", g.Key, len(g.Files), formatBytes(g.WastedSpace()))
		for _, f := range g.Files {
			fmt.Printf("  %s (%s)\n", f.Path, formatBytes(f.Size))
		}
	}

	fmt.Printf("\n%d duplicate groups, %s wasted in total\n", len(groups), formatBytes(dupes.TotalWasted(groups)))
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
