package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/identity"
	"github.com/filescope/filescope/internal/imaging"
	"github.com/filescope/filescope/internal/vision"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the identity index",
}

var identityAddCmd = &cobra.Command{
	Use:   "add [label] [image]",
	Short: "Register a reference face for a person",
	Long: `Detect faces in a reference photo and register the embedding of one of
them under the given label. Adding several reference photos for the same
label improves matching.`,
	Args: cobra.ExactArgs(2),
	RunE: runIdentityAdd,
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered identities",
	RunE:  runIdentityList,
}

var identityRemoveCmd = &cobra.Command{
	Use:   "remove [label]",
	Short: "Remove an identity and all its reference embeddings",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityRemove,
}

var identityRebuildCmd = &cobra.Command{
	Use:   "rebuild [refs-dir]",
	Short: "Rebuild the identity index from a folder of reference photos",
	Long: `Rebuild the identity index from scratch. The refs directory is expected
to hold one subfolder per person, named after the person, containing their
reference photos. Use --force to discard an existing index that fails to
load.`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentityRebuild,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityAddCmd)
	identityCmd.AddCommand(identityListCmd)
	identityCmd.AddCommand(identityRemoveCmd)
	identityCmd.AddCommand(identityRebuildCmd)

	identityAddCmd.Flags().Int("face", 0, "Which face to register when the photo has several (by confidence rank)")
	identityRebuildCmd.Flags().Bool("force", false, "Discard an existing index that fails to load")
}

func runIdentityAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	label, imagePath := args[0], args[1]
	ctx := cmd.Context()

	store, save, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	embedding, err := embedReference(ctx, newProvider(cfg), cfg, imagePath, mustGetInt(cmd, "face"))
	if err != nil {
		return err
	}

	if err := store.Upsert(ctx, label, embedding); err != nil {
		return fmt.Errorf("registering %s: %w", label, err)
	}
	if err := save(); err != nil {
		return err
	}

	fmt.Printf("Registered reference face for %s from %s\n", label, imagePath)
	return nil
}

func runIdentityList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, _, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	identities, err := store.Identities(ctx)
	if err != nil {
		return err
	}
	if len(identities) == 0 {
		fmt.Println("No identities registered")
		return nil
	}

	fmt.Printf("%d identities:\n", len(identities))
	for _, id := range identities {
		fmt.Printf("  %-30s %d reference faces\n", id.Label, id.References)
	}
	return nil
}

func runIdentityRemove(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, save, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Remove(ctx, args[0]); err != nil {
		return err
	}
	if err := save(); err != nil {
		return err
	}

	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runIdentityRebuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Index.Path == "" {
		return fmt.Errorf("rebuild requires a file-backed index, set the index path in the config")
	}

	if _, err := identity.LoadIndex(cfg.Index.Path); err != nil && !mustGetBool(cmd, "force") {
		return fmt.Errorf("existing index failed to load (use --force to discard it): %w", err)
	}

	ctx := cmd.Context()
	provider := newProvider(cfg)
	x := identity.NewIndex()

	entries, err := os.ReadDir(args[0])
	if err != nil {
		return fmt.Errorf("reading refs directory: %w", err)
	}

	registered := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label := entry.Name()

		photos, err := imaging.Enumerate(filepath.Join(args[0], label), cfg.Pipeline.Extensions, false)
		if err != nil {
			return err
		}
		for _, photo := range photos {
			embedding, err := embedReference(ctx, provider, cfg, photo, 0)
			if err != nil {
				fmt.Printf("  skipping %s: %v\n", photo, err)
				continue
			}
			if err := x.Upsert(ctx, label, embedding); err != nil {
				return fmt.Errorf("registering %s: %w", label, err)
			}
			registered++
		}
	}

	if registered == 0 {
		return fmt.Errorf("no reference faces found under %s", args[0])
	}

	if err := x.Save(cfg.Index.Path); err != nil {
		return err
	}

	fmt.Printf("Rebuilt index with %d reference faces across %d identities\n", registered, x.Count())
	return nil
}

// embedReference computes the embedding of one face in a reference photo.
// faceRank selects among multiple faces by detection confidence, 0 being the
// most confident one.
func embedReference(ctx context.Context, provider vision.Provider, cfg *config.Config, path string, faceRank int) ([]float32, error) {
	rec, _, raw, err := imaging.Load(path)
	if err != nil {
		return nil, err
	}

	dets, err := provider.DetectFaces(ctx, rec.Width, rec.Height, raw)
	if err != nil {
		return nil, err
	}
	dets = vision.FilterByScore(dets, cfg.Match.DetectionThreshold)
	if len(dets) == 0 {
		return nil, fmt.Errorf("no faces found in %s", path)
	}
	if faceRank < 0 || faceRank >= len(dets) {
		return nil, fmt.Errorf("face index %d out of range, image has %d faces", faceRank, len(dets))
	}

	return provider.EmbedFace(ctx, rec.Width, rec.Height, raw, dets[faceRank])
}
