package identity

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const indexFormatVersion = 1

// persistedIndex is the on-disk shape of the identity index. Version gates
// schema evolution: loading a newer version fails with an IndexError instead
// of misreading the file.
type persistedIndex struct {
	Version    int
	Dim        int
	Identities map[string][][]float32 // display label -> reference embeddings
}

// Metadata is the JSON sidecar written next to the index file.
type Metadata struct {
	Version    int       `json:"version"`
	Identities int       `json:"identities"`
	References int       `json:"references"`
	Dim        int       `json:"dim"`
	SavedAt    time.Time `json:"saved_at"`
}

// Save persists the index to path as a versioned gob file with a JSON
// metadata sidecar. An empty index removes any existing files.
func (x *Index) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.nodes) == 0 {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	p := persistedIndex{
		Version:    indexFormatVersion,
		Dim:        x.dim,
		Identities: make(map[string][][]float32, len(x.refs)),
	}
	for key, ids := range x.refs {
		label := x.display[key]
		embeddings := make([][]float32, 0, len(ids))
		for _, id := range ids {
			embeddings = append(embeddings, x.nodes[id].embedding)
		}
		p.Identities[label] = embeddings
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("encoding identity index: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing identity index: %w", err)
	}

	meta := Metadata{
		Version:    indexFormatVersion,
		Identities: len(x.refs),
		References: len(x.nodes),
		Dim:        x.dim,
		SavedAt:    time.Now().UTC(),
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling index metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0o600); err != nil {
		return fmt.Errorf("writing index metadata: %w", err)
	}
	return nil
}

// LoadIndex reads a persisted identity index and rebuilds the in-memory
// HNSW graph. A missing file yields an empty index; a corrupt or
// incompatible file yields an IndexError so callers can offer a rebuild.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewIndex(), nil
	}
	if err != nil {
		return nil, &IndexError{Path: path, Reason: "unreadable", Err: err}
	}

	var p persistedIndex
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, &IndexError{Path: path, Reason: "corrupt index file", Err: err}
	}
	if p.Version != indexFormatVersion {
		return nil, &IndexError{Path: path, Reason: fmt.Sprintf("unsupported format version %d (expected %d)", p.Version, indexFormatVersion)}
	}

	x := NewIndex()
	for label, embeddings := range p.Identities {
		for _, emb := range embeddings {
			if len(emb) != p.Dim {
				return nil, &IndexError{Path: path, Reason: fmt.Sprintf("embedding dimension %d does not match stored dimension %d", len(emb), p.Dim)}
			}
			if err := x.Upsert(context.TODO(), label, emb); err != nil {
				return nil, &IndexError{Path: path, Reason: "rebuilding graph", Err: err}
			}
		}
	}
	return x, nil
}

// LoadMetadata reads the JSON sidecar for a persisted index.
func LoadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path + ".meta")
	if err != nil {
		return meta, fmt.Errorf("reading index metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("unmarshaling index metadata: %w", err)
	}
	return meta, nil
}
