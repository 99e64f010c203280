// Package match assigns identities to face embeddings by querying the
// identity index, and groups unlabeled embeddings into provisional
// identities when no index exists yet.
package match

import (
	"context"
	"fmt"

	"github.com/filescope/filescope/internal/identity"
)

// Unknown is the candidate value for faces no identity accepted.
const Unknown = "unknown"

// Result binds a face to its best identity candidate. Scores are comparable
// within one matcher run only.
type Result struct {
	Path       string  `json:"path"`
	FaceIndex  int     `json:"face_index"`
	Candidate  string  `json:"candidate"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// Known reports whether the result is bound to a known identity.
func (r Result) Known() bool {
	return r.Candidate != "" && r.Candidate != Unknown
}

// Matcher matches query embeddings against an identity store.
type Matcher struct {
	store          identity.Store
	acceptDistance float64
	tieEpsilon     float64
}

// NewMatcher creates a matcher. acceptDistance is the maximum cosine
// distance for a match; candidates within tieEpsilon of the best distance
// are tie-broken by reference count.
func NewMatcher(store identity.Store, acceptDistance, tieEpsilon float64) *Matcher {
	return &Matcher{
		store:          store,
		acceptDistance: acceptDistance,
		tieEpsilon:     tieEpsilon,
	}
}

// candidateFetch is how many neighbors a match pulls; enough to see every
// identity that could win a tie-break.
const candidateFetch = 10

// Match returns the identity candidate for a query embedding, or Unknown
// when the closest reference is beyond the acceptance threshold.
func (m *Matcher) Match(ctx context.Context, embedding []float32) (Result, error) {
	neighbors, err := m.store.NearestNeighbors(ctx, embedding, candidateFetch)
	if err != nil {
		return Result{}, fmt.Errorf("nearest neighbor lookup: %w", err)
	}

	if len(neighbors) == 0 || neighbors[0].Distance >= m.acceptDistance {
		dist := 2.0
		if len(neighbors) > 0 {
			dist = neighbors[0].Distance
		}
		return Result{
			Candidate:  Unknown,
			Distance:   dist,
			Similarity: identity.Similarity(dist),
		}, nil
	}

	// Within epsilon of the best distance, prefer the identity with more
	// reference embeddings: the more established one. Candidates must be
	// acceptable matches in their own right.
	best := neighbors[0]
	seen := map[string]bool{best.Label: true}
	for _, n := range neighbors[1:] {
		if n.Distance > best.Distance+m.tieEpsilon || n.Distance >= m.acceptDistance {
			break
		}
		if seen[n.Label] {
			continue
		}
		seen[n.Label] = true
		if n.References > best.References {
			best = n
		}
	}

	return Result{
		Candidate:  best.Label,
		Distance:   best.Distance,
		Similarity: identity.Similarity(best.Distance),
	}, nil
}
