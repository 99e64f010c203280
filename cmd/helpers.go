package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/identity"
	"github.com/filescope/filescope/internal/identity/postgres"
	"github.com/filescope/filescope/internal/vision"
)

// openStore opens the identity store configured for this installation: the
// PostgreSQL store when a database URL is set, otherwise the file-backed
// in-memory index. save persists the store after mutations (a no-op for
// PostgreSQL), close releases resources.
func openStore(ctx context.Context, cfg *config.Config) (store identity.Store, save func() error, closeStore func() error, err error) {
	if cfg.Database.URL != "" {
		pg, err := postgres.NewStore(ctx, &cfg.Database, cfg.Embedding.Dim)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening identity store: %w", err)
		}
		return pg, func() error { return nil }, pg.Close, nil
	}

	if cfg.Index.Path == "" {
		x := identity.NewIndex()
		noop := func() error { return nil }
		return x, noop, noop, nil
	}

	x, err := identity.LoadIndex(cfg.Index.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	save = func() error { return x.Save(cfg.Index.Path) }
	return x, save, func() error { return nil }, nil
}

func newProvider(cfg *config.Config) *vision.Client {
	return vision.NewClient(cfg.Embedding.URL)
}

// newBar creates a progress bar in the house style.
func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
