package vision

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		a        []float64
		b        []float64
		expected float64
	}{
		{
			name:     "identical boxes",
			a:        []float64{0, 0, 10, 10},
			b:        []float64{0, 0, 10, 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			a:        []float64{0, 0, 10, 10},
			b:        []float64{20, 20, 30, 30},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			a:        []float64{0, 0, 10, 10},
			b:        []float64{5, 5, 15, 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25=175
		},
		{
			name:     "one inside other",
			a:        []float64{0, 0, 20, 20},
			b:        []float64{5, 5, 15, 15},
			expected: 100.0 / 400.0, // intersection=100, union=400 (larger box)
		},
		{
			name:     "invalid first box",
			a:        []float64{0, 0, 10},
			b:        []float64{0, 0, 10, 10},
			expected: 0.0,
		},
		{
			name:     "empty boxes",
			a:        []float64{},
			b:        []float64{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestPixelBBoxToRelative(t *testing.T) {
	tests := []struct {
		name     string
		bbox     []float64
		width    int
		height   int
		expected []float64
	}{
		{
			name:     "simple conversion",
			bbox:     []float64{100, 200, 300, 400},
			width:    1000,
			height:   1000,
			expected: []float64{0.1, 0.2, 0.3, 0.4},
		},
		{
			name:     "full image",
			bbox:     []float64{0, 0, 1920, 1080},
			width:    1920,
			height:   1080,
			expected: []float64{0, 0, 1, 1},
		},
		{
			name:     "invalid bbox",
			bbox:     []float64{100, 200},
			width:    1000,
			height:   1000,
			expected: []float64{100, 200},
		},
		{
			name:     "zero dimensions",
			bbox:     []float64{100, 200, 300, 400},
			width:    0,
			height:   1000,
			expected: []float64{100, 200, 300, 400},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PixelBBoxToRelative(tt.bbox, tt.width, tt.height)
			if len(result) != len(tt.expected) {
				t.Errorf("PixelBBoxToRelative() length = %d, want %d", len(result), len(tt.expected))
				return
			}
			for i := range result {
				if math.Abs(result[i]-tt.expected[i]) > 0.0001 {
					t.Errorf("PixelBBoxToRelative()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestDedupeOverlapping(t *testing.T) {
	dets := []Detection{
		{FaceIndex: 0, BBox: []float64{0, 0, 10, 10}, DetScore: 0.9},
		{FaceIndex: 1, BBox: []float64{1, 1, 11, 11}, DetScore: 0.8}, // same face, lower score
		{FaceIndex: 2, BBox: []float64{50, 50, 60, 60}, DetScore: 0.7},
	}

	kept := DedupeOverlapping(dets)
	if len(kept) != 2 {
		t.Fatalf("expected 2 detections after dedupe, got %d", len(kept))
	}
	if kept[0].FaceIndex != 0 {
		t.Errorf("highest scoring detection must survive, got face %d", kept[0].FaceIndex)
	}
	if kept[1].FaceIndex != 2 {
		t.Errorf("non-overlapping detection must survive, got face %d", kept[1].FaceIndex)
	}
}

func TestDedupeOverlapping_Empty(t *testing.T) {
	if kept := DedupeOverlapping(nil); len(kept) != 0 {
		t.Errorf("expected no detections, got %d", len(kept))
	}
}

func TestScaleBBox(t *testing.T) {
	scaled := ScaleBBox([]float64{10, 20, 30, 40}, 2.5)
	want := []float64{25, 50, 75, 100}
	for i := range want {
		if scaled[i] != want[i] {
			t.Errorf("ScaleBBox()[%d] = %f, want %f", i, scaled[i], want[i])
		}
	}

	bbox := []float64{1, 2, 3, 4}
	if got := ScaleBBox(bbox, 1); &got[0] != &bbox[0] {
		t.Error("factor 1 must return the bbox unchanged")
	}
}
