package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// FitWithin returns width x height scaled down so the longer edge fits
// maxSize, keeping aspect ratio. Dimensions already within bounds come back
// unchanged.
func FitWithin(width, height, maxSize int) (int, int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width > height {
		return maxSize, int(float64(height) * float64(maxSize) / float64(width))
	}
	return int(float64(width) * float64(maxSize) / float64(height)), maxSize
}

// ResizeJPEG resizes an image to fit within maxSize (width or height) while
// keeping aspect ratio, re-encoding as JPEG for a consistent upload format.
func ResizeJPEG(img image.Image, maxSize int) ([]byte, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	newWidth, newHeight := FitWithin(width, height, maxSize)
	if newWidth == width && newHeight == height {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		return buf.Bytes(), nil
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}
