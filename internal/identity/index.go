package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWMaxNeighbors is the M parameter of the HNSW graph.
const HNSWMaxNeighbors = 16

// Index is the in-memory identity index backed by an HNSW graph over all
// reference embeddings. Lookups take a read lock and may run concurrently;
// upserts and removals are serialized behind the write lock so neighbor
// results never observe a half-applied mutation.
type Index struct {
	mu      sync.RWMutex
	dim     int
	graph   *hnsw.Graph[int64]
	nextID  int64
	nodes   map[int64]nodeRef  // node id -> reference; removal deletes here, graph keeps the node
	refs    map[string][]int64 // normalized label -> node ids
	display map[string]string  // normalized label -> label as entered
	removed int                // tombstoned graph nodes, used to over-fetch searches
}

type nodeRef struct {
	key       string // normalized label
	embedding []float32
}

// NewIndex creates an empty identity index.
func NewIndex() *Index {
	return &Index{
		nodes:   make(map[int64]nodeRef),
		refs:    make(map[string][]int64),
		display: make(map[string]string),
	}
}

func (x *Index) newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Upsert adds a reference embedding under the label. The first embedding
// fixes the index dimension; later embeddings must match it.
func (x *Index) Upsert(_ context.Context, label string, embedding []float32) error {
	if label == "" {
		return fmt.Errorf("identity label must not be empty")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("embedding must not be empty")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dim == 0 {
		x.dim = len(embedding)
	} else if len(embedding) != x.dim {
		return fmt.Errorf("embedding dimension %d does not match index dimension %d", len(embedding), x.dim)
	}

	if x.graph == nil {
		x.graph = x.newGraph()
	}

	key := NormalizeLabel(label)
	id := x.nextID
	x.nextID++

	x.graph.Add(hnsw.MakeNode(id, embedding))
	x.nodes[id] = nodeRef{key: key, embedding: embedding}
	x.refs[key] = append(x.refs[key], id)
	x.display[key] = label
	return nil
}

// Remove deletes an identity and all of its reference embeddings. Removing
// an unknown label is a no-op.
func (x *Index) Remove(_ context.Context, label string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	key := NormalizeLabel(label)
	ids, ok := x.refs[key]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(x.nodes, id)
	}
	// The HNSW graph has no true deletion; tombstoned nodes are filtered
	// out of search results via the nodes map.
	x.removed += len(ids)
	delete(x.refs, key)
	delete(x.display, key)
	return nil
}

// NearestNeighbors returns up to k closest reference embeddings, ascending
// by cosine distance.
func (x *Index) NearestNeighbors(_ context.Context, query []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(x.nodes) == 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), x.dim)
	}

	// Over-fetch to compensate for tombstoned nodes still in the graph.
	found := x.graph.Search(query, k+x.removed)

	neighbors := make([]Neighbor, 0, k)
	for _, n := range found {
		ref, ok := x.nodes[n.Key]
		if !ok {
			continue // removed identity
		}
		neighbors = append(neighbors, Neighbor{
			Label:      x.display[ref.key],
			Distance:   CosineDistance(query, n.Value),
			References: len(x.refs[ref.key]),
		})
		if len(neighbors) == k {
			break
		}
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})
	return neighbors, nil
}

// Identities lists all known identities sorted by label.
func (x *Index) Identities(_ context.Context) ([]Identity, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Identity, 0, len(x.refs))
	for key, ids := range x.refs {
		out = append(out, Identity{Label: x.display[key], References: len(ids)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// Count returns the total number of reference embeddings.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.nodes)
}

// Dim returns the embedding dimension, 0 while the index is empty.
func (x *Index) Dim() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}
