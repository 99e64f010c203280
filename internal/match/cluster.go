package match

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/filescope/filescope/internal/identity"
)

// Cluster is a provisional identity produced by grouping unlabeled
// embeddings. Labeling is deferred to the user.
type Cluster struct {
	Label   string `json:"label"`
	Members []int  `json:"members"` // indexes into the input embedding slice
}

// ClusterEmbeddings groups embeddings whose mutual cosine distance stays
// below threshold into provisional identities. An embedding joins the first
// cluster it is close to every member of; embeddings farther than threshold
// from everything form their own cluster. Used when no identity index
// exists yet.
func ClusterEmbeddings(embeddings [][]float32, threshold float64) []Cluster {
	var clusters []Cluster

	for i, emb := range embeddings {
		placed := false
		for c := range clusters {
			if mutuallyClose(emb, clusters[c].Members, embeddings, threshold) {
				clusters[c].Members = append(clusters[c].Members, i)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, Cluster{
				Label:   provisionalLabel(),
				Members: []int{i},
			})
		}
	}
	return clusters
}

// mutuallyClose reports whether emb is within threshold of every member of
// the cluster.
func mutuallyClose(emb []float32, members []int, embeddings [][]float32, threshold float64) bool {
	for _, m := range members {
		if identity.CosineDistance(emb, embeddings[m]) >= threshold {
			return false
		}
	}
	return true
}

// provisionalLabel generates a unique placeholder label for an unlabeled
// cluster.
func provisionalLabel() string {
	return fmt.Sprintf("person-%s", uuid.NewString()[:8])
}
