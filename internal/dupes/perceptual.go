package dupes

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// DefaultHammingThreshold is the pHash distance below which two images count
// as near-duplicates. 10 bits out of 64 tolerates recompression and mild
// resizing without pulling in unrelated photos.
const DefaultHammingThreshold = 10

// Fingerprint is the perceptual signature of one image file. PHash is a
// DCT-based hash robust against scaling and recompression, DHash a
// gradient-based hash that reacts to crops.
type Fingerprint struct {
	Path  string
	Size  int64
	PHash uint64
	DHash uint64
}

// SimilarOptions controls the near-duplicate scan.
type SimilarOptions struct {
	Extensions []string
	Threshold  int // max Hamming distance, 0 means DefaultHammingThreshold
}

// SimilarScan finds visually near-identical images under root. Unlike
// DeepScan it catches resized and re-encoded copies whose bytes differ.
// Files that fail to decode are skipped.
func SimilarScan(ctx context.Context, root string, opts SimilarOptions) ([]Group, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultHammingThreshold
	}

	var prints []Fingerprint
	err := walkFiles(ctx, root, func(path string, info fs.FileInfo) {
		if !hasExtension(path, opts.Extensions) {
			return
		}
		fp, err := fingerprintFile(path)
		if err != nil {
			return
		}
		fp.Size = info.Size()
		prints = append(prints, fp)
	})
	if err != nil {
		return nil, err
	}

	// Pairwise comparison with union-find. Collections are small enough
	// that the quadratic pass beats maintaining a BK-tree.
	parent := make([]int, len(prints))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := 0; i < len(prints); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(prints); j++ {
			if HammingDistance(prints[i].PHash, prints[j].PHash) <= threshold {
				parent[find(i)] = find(j)
			}
		}
	}

	members := make(map[int][]int)
	for i := range prints {
		r := find(i)
		members[r] = append(members[r], i)
	}

	var groups []Group
	for _, idxs := range members {
		if len(idxs) < 2 {
			continue
		}
		g := Group{Key: fmt.Sprintf("phash:%016x", prints[idxs[0]].PHash)}
		for _, i := range idxs {
			fp := prints[i]
			g.Files = append(g.Files, File{
				Name: filepath.Base(fp.Path),
				Path: fp.Path,
				Size: fp.Size,
				Hash: fmt.Sprintf("%016x", fp.PHash),
			})
		}
		groups = append(groups, g)
	}
	sortGroups(groups)
	return groups, nil
}

// HammingDistance counts differing bits between two 64-bit hashes.
func HammingDistance(a, b uint64) int {
	xor := a ^ b
	distance := 0
	for xor != 0 {
		distance++
		xor &= xor - 1
	}
	return distance
}

func hasExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func fingerprintFile(path string) (Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fingerprint{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Path:  path,
		PHash: computePHash(img),
		DHash: computeDHash(img),
	}, nil
}

// computePHash builds a 64-bit hash from the low-frequency DCT coefficients
// of the grayscaled image. Bits are set where a coefficient exceeds the
// median, so uniform brightness shifts cancel out.
func computePHash(img image.Image) uint64 {
	gray := toGrayscale(scaleTo(img, 32, 32))
	dct := computeDCT(gray)

	coeffs := make([]float64, 0, 64)
	for u := 0; u < 8; u++ {
		for v := 0; v < 8; v++ {
			if u == 0 && v == 0 {
				continue // DC component carries only overall brightness
			}
			coeffs = append(coeffs, dct[u][v])
		}
	}
	coeffs = append(coeffs, dct[7][7]) // pad to 64 bits

	median := medianOf(coeffs)
	var hash uint64
	for i, c := range coeffs {
		if c > median {
			hash |= 1 << (63 - i)
		}
	}
	return hash
}

// computeDHash compares horizontally adjacent pixels of a 9x8 thumbnail,
// one bit per comparison.
func computeDHash(img image.Image) uint64 {
	gray := toGrayscale(scaleTo(img, 9, 8))

	var hash uint64
	bit := 63
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if gray[x][y] > gray[x+1][y] {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}

func scaleTo(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	gray := make([][]float64, w)
	for x := 0; x < w; x++ {
		gray[x] = make([]float64, h)
		for y := 0; y < h; y++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return gray
}

func computeDCT(gray [][]float64) [][]float64 {
	n := len(gray)
	dct := make([][]float64, n)
	for u := 0; u < n; u++ {
		dct[u] = make([]float64, n)
		for v := 0; v < n; v++ {
			var sum float64
			for x := 0; x < n; x++ {
				for y := 0; y < n; y++ {
					sum += gray[x][y] *
						math.Cos(float64(2*x+1)*float64(u)*math.Pi/float64(2*n)) *
						math.Cos(float64(2*y+1)*float64(v)*math.Pi/float64(2*n))
				}
			}
			cu, cv := 1.0, 1.0
			if u == 0 {
				cu = 1 / math.Sqrt2
			}
			if v == 0 {
				cv = 1 / math.Sqrt2
			}
			dct[u][v] = sum * cu * cv * 2 / float64(n)
		}
	}
	return dct
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
