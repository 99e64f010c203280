// Package postgres provides a PostgreSQL/pgvector-backed identity store for
// deployments that share one index across machines. It implements the same
// contract as the in-memory index, with cosine distance evaluated by
// pgvector's <=> operator.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/identity"
)

// Store is a PostgreSQL-backed identity store.
type Store struct {
	db  *sql.DB
	dim int
}

// NewStore opens a connection pool and ensures the schema exists.
func NewStore(ctx context.Context, cfg *config.DatabaseConfig, dim int) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, dim: dim}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS identity_refs (
			id BIGSERIAL PRIMARY KEY,
			label TEXT NOT NULL,
			label_key TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_identity_refs_label_key ON identity_refs (label_key)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating identity store: %w", err)
		}
	}
	return nil
}

// Upsert adds a reference embedding under the label.
func (s *Store) Upsert(ctx context.Context, label string, embedding []float32) error {
	if label == "" {
		return errors.New("identity label must not be empty")
	}
	if len(embedding) != s.dim {
		return fmt.Errorf("embedding dimension %d does not match store dimension %d", len(embedding), s.dim)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_refs (label, label_key, embedding) VALUES ($1, $2, $3)`,
		label, identity.NormalizeLabel(label), pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("upserting identity reference: %w", err)
	}
	return nil
}

// Remove deletes an identity and all of its reference embeddings.
func (s *Store) Remove(ctx context.Context, label string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM identity_refs WHERE label_key = $1`,
		identity.NormalizeLabel(label),
	)
	if err != nil {
		return fmt.Errorf("removing identity: %w", err)
	}
	return nil
}

// NearestNeighbors returns up to k closest reference embeddings, ascending
// by cosine distance.
func (s *Store) NearestNeighbors(ctx context.Context, query []float32, k int) ([]identity.Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("query dimension %d does not match store dimension %d", len(query), s.dim)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT label,
		       embedding <=> $1 AS distance,
		       COUNT(*) OVER (PARTITION BY label_key) AS refs
		FROM identity_refs
		ORDER BY distance
		LIMIT $2
	`, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("querying nearest neighbors: %w", err)
	}
	defer rows.Close()

	var neighbors []identity.Neighbor
	for rows.Next() {
		var n identity.Neighbor
		if err := rows.Scan(&n.Label, &n.Distance, &n.References); err != nil {
			return nil, fmt.Errorf("scanning neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating neighbors: %w", err)
	}
	return neighbors, nil
}

// Identities lists all known identities sorted by label.
func (s *Store) Identities(ctx context.Context) ([]identity.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT MIN(label), COUNT(*)
		FROM identity_refs
		GROUP BY label_key
		ORDER BY MIN(label)
	`)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	var out []identity.Identity
	for rows.Next() {
		var id identity.Identity
		if err := rows.Scan(&id.Label, &id.References); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identities: %w", err)
	}
	return out, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}
