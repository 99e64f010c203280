package dupes

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, pixel func(x, y int) color.Gray) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, pixel(x, y))
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func gradient(x, y int) color.Gray        { return color.Gray{Y: uint8(x * 4)} }
func reverseGradient(x, y int) color.Gray { return color.Gray{Y: uint8(255 - x*4)} }

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		want int
	}{
		{"identical", 0xdeadbeef, 0xdeadbeef, 0},
		{"all bits differ", 0, ^uint64(0), 64},
		{"one bit", 0b1000, 0b0000, 1},
		{"four bits", 0b1111, 0b0000, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HammingDistance(tt.a, tt.b); got != tt.want {
				t.Errorf("HammingDistance(%#x, %#x) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSimilarScan(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "photo.png"), gradient)
	writePNG(t, filepath.Join(root, "photo (1).png"), gradient)
	writePNG(t, filepath.Join(root, "other.png"), reverseGradient)

	groups, err := SimilarScan(context.Background(), root, SimilarOptions{Threshold: 1})
	if err != nil {
		t.Fatalf("SimilarScan() returned error: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("SimilarScan() returned %d groups, want 1", len(groups))
	}
	if len(groups[0].Files) != 2 {
		t.Fatalf("group has %d files, want 2", len(groups[0].Files))
	}
	for _, f := range groups[0].Files {
		if f.Name == "other.png" {
			t.Errorf("reverse gradient image grouped with the originals")
		}
	}
}

func TestSimilarScan_SkipsUndecodable(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "a.png"), gradient)
	writePNG(t, filepath.Join(root, "b.png"), gradient)
	writeFile(t, filepath.Join(root, "broken.png"), "not an image")

	groups, err := SimilarScan(context.Background(), root, SimilarOptions{})
	if err != nil {
		t.Fatalf("SimilarScan() returned error: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Files) != 2 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestSimilarScan_ExtensionFilter(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "a.png"), gradient)
	writePNG(t, filepath.Join(root, "b.png"), gradient)
	writePNG(t, filepath.Join(root, "c.data"), gradient)

	groups, err := SimilarScan(context.Background(), root, SimilarOptions{Extensions: []string{".png"}})
	if err != nil {
		t.Fatalf("SimilarScan() returned error: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("SimilarScan() returned %d groups, want 1", len(groups))
	}
	if len(groups[0].Files) != 2 {
		t.Errorf("group has %d files, want 2 (filtered extension included)", len(groups[0].Files))
	}
}

func TestSimilarScan_Cancelled(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "a.png"), gradient)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := SimilarScan(ctx, root, SimilarOptions{}); err == nil {
		t.Error("SimilarScan() with cancelled context returned no error")
	}
}

func TestComputeDHash_GradientDirection(t *testing.T) {
	up := image.NewGray(image.Rect(0, 0, 64, 64))
	down := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			up.SetGray(x, y, gradient(x, y))
			down.SetGray(x, y, reverseGradient(x, y))
		}
	}

	// A monotonically brightening row never sets a bit, a darkening row
	// sets all of them.
	if h := computeDHash(up); h != 0 {
		t.Errorf("dHash of increasing gradient = %#x, want 0", h)
	}
	if h := computeDHash(down); h != ^uint64(0) {
		t.Errorf("dHash of decreasing gradient = %#x, want all bits set", h)
	}
	if d := HammingDistance(computeDHash(up), computeDHash(down)); d != 64 {
		t.Errorf("distance between opposite gradients = %d, want 64", d)
	}
}
