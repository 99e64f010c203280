// Package identity implements the identity index: a mapping from person
// labels to reference face embeddings with nearest-neighbor lookup.
package identity

import (
	"context"
	"fmt"
)

// Neighbor is one nearest-neighbor result. References carries the number of
// reference embeddings the identity holds, used for tie-breaking.
type Neighbor struct {
	Label      string
	Distance   float64
	References int
}

// Identity summarizes one known person.
type Identity struct {
	Label      string `json:"label"`
	References int    `json:"references"`
}

// Store is the identity index contract. All implementations use cosine
// distance; mixing metrics within one store is a bug, not an option.
type Store interface {
	// Upsert adds a reference embedding under the label, creating the
	// identity if needed.
	Upsert(ctx context.Context, label string, embedding []float32) error

	// Remove deletes an identity and all of its reference embeddings.
	Remove(ctx context.Context, label string) error

	// NearestNeighbors returns up to k closest reference embeddings,
	// ordered ascending by distance.
	NearestNeighbors(ctx context.Context, query []float32, k int) ([]Neighbor, error)

	// Identities lists all known identities.
	Identities(ctx context.Context) ([]Identity, error)
}

// IndexError reports a corrupt or incompatible persisted index. It is fatal
// to matching only; the index can always be rebuilt from reference images.
type IndexError struct {
	Path   string
	Reason string
	Err    error
}

func (e *IndexError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity index %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("identity index %s: %s", e.Path, e.Reason)
}

func (e *IndexError) Unwrap() error { return e.Err }
