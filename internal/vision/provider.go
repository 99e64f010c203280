// Package vision models the face detection and embedding capability behind
// the pipeline. The concrete model runs out of process (an InsightFace-style
// embedding server); implementations of Provider can be swapped without
// touching pipeline logic.
package vision

import (
	"context"
	"fmt"
	"sort"
)

// Detection is a single face found in an image. BBox is [x1, y1, x2, y2] in
// raw pixel coordinates of the decoded image.
type Detection struct {
	FaceIndex int       `json:"face_index"`
	BBox      []float64 `json:"bbox"`
	DetScore  float64   `json:"det_score"`

	// embedding computed in the same inference pass, if the provider
	// produces one. Consumed through EmbedFace, never directly.
	embedding []float32
}

// Provider is the polymorphic detector/embedder capability.
type Provider interface {
	Name() string

	// DetectFaces locates faces in a decoded image. The raw encoded bytes
	// are passed through because remote providers upload the original
	// file. An empty result is valid; a DetectionError is returned only
	// for malformed input.
	DetectFaces(ctx context.Context, width, height int, raw []byte) ([]Detection, error)

	// EmbedFace computes the fixed-length descriptor for one detection.
	// Deterministic for identical pixels and bounding box. Fails with an
	// ExtractionError when the bounding box lies outside image bounds.
	EmbedFace(ctx context.Context, width, height int, raw []byte, det Detection) ([]float32, error)
}

// DetectionError reports malformed detector input. "No faces found" is never
// an error.
type DetectionError struct {
	Reason string
	Err    error
}

func (e *DetectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("face detection: %s: %v", e.Reason, e.Err)
	}
	return "face detection: " + e.Reason
}

func (e *DetectionError) Unwrap() error { return e.Err }

// ExtractionError reports a failed embedding computation.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding extraction: %s: %v", e.Reason, e.Err)
	}
	return "embedding extraction: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// SortByScore orders detections by descending detector confidence, keeping
// the original face index order for equal scores.
func SortByScore(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].DetScore > dets[j].DetScore
	})
}

// FilterByScore drops detections below the confidence threshold. The input
// order is preserved.
func FilterByScore(dets []Detection, threshold float64) []Detection {
	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.DetScore >= threshold {
			kept = append(kept, d)
		}
	}
	return kept
}

// ValidateBBox checks that a bounding box is non-degenerate and lies within
// the image bounds.
func ValidateBBox(bbox []float64, width, height int) error {
	if len(bbox) != 4 {
		return fmt.Errorf("bounding box must have 4 coordinates, got %d", len(bbox))
	}
	x1, y1, x2, y2 := bbox[0], bbox[1], bbox[2], bbox[3]
	if x2 <= x1 || y2 <= y1 {
		return fmt.Errorf("degenerate bounding box [%v %v %v %v]", x1, y1, x2, y2)
	}
	if x1 < 0 || y1 < 0 || x2 > float64(width) || y2 > float64(height) {
		return fmt.Errorf("bounding box [%v %v %v %v] outside %dx%d image", x1, y1, x2, y2, width, height)
	}
	return nil
}
