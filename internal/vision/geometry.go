package vision

// ScaleBBox multiplies every coordinate by factor. Maps detections made on a
// downscaled upload back to the original pixel space.
func ScaleBBox(bbox []float64, factor float64) []float64 {
	if factor == 1 {
		return bbox
	}
	scaled := make([]float64, len(bbox))
	for i, v := range bbox {
		scaled[i] = v * factor
	}
	return scaled
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// a and b are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(a, b []float64) float64 {
	if len(a) != 4 || len(b) != 4 {
		return 0
	}

	// Calculate intersection.
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// PixelBBoxToRelative converts a pixel bbox to relative (0-1) coordinates.
// Input and output are [x1, y1, x2, y2]. The UI draws face overlays from
// relative coordinates so it can scale freely.
func PixelBBoxToRelative(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	return []float64{
		bbox[0] / float64(width),
		bbox[1] / float64(height),
		bbox[2] / float64(width),
		bbox[3] / float64(height),
	}
}

// dedupeIoU is the overlap above which two detections are considered the
// same face reported twice.
const dedupeIoU = 0.5

// DedupeOverlapping drops detections that heavily overlap a higher-scoring
// one. Input must be sorted by descending score.
func DedupeOverlapping(dets []Detection) []Detection {
	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		duplicate := false
		for _, k := range kept {
			if ComputeIoU(d.BBox, k.BBox) >= dedupeIoU {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, d)
		}
	}
	return kept
}
