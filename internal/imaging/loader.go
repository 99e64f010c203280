// Package imaging handles image file enumeration, decoding and validation
// for the processing pipeline.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Status describes what happened to a file during a batch run.
type Status string

const (
	StatusDecoded Status = "decoded"
	StatusSkipped Status = "skipped" // not an image, classified and skipped
	StatusFailed  Status = "failed"  // unreadable or truncated
)

// Record describes a single file in the working set.
type Record struct {
	Path     string
	Status   Status
	Width    int
	Height   int
	Modified time.Time
}

// DecodeError reports why a file could not be decoded. Non-image files in a
// scanned directory produce a DecodeError for the per-file report instead of
// aborting the batch.
type DecodeError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Path, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Load reads and decodes an image file. The returned Record carries the
// decoded dimensions and file modification time. Raw bytes are returned
// alongside because the embedding service consumes the original encoding.
// On failure a Record is still returned, with the status explaining why the
// file produced no image.
func Load(path string) (*Record, image.Image, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return failedRecord(path, StatusFailed), nil, nil, &DecodeError{Path: path, Reason: "unreadable", Err: err}
	}
	if info.IsDir() {
		return failedRecord(path, StatusSkipped), nil, nil, &DecodeError{Path: path, Reason: "is a directory"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return failedRecord(path, StatusFailed), nil, nil, &DecodeError{Path: path, Reason: "unreadable", Err: err}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return failedRecord(path, StatusSkipped), nil, nil, &DecodeError{Path: path, Reason: "unsupported or truncated image", Err: err}
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return failedRecord(path, StatusFailed), nil, nil, &DecodeError{Path: path, Reason: fmt.Sprintf("degenerate %s image", format)}
	}

	rec := &Record{
		Path:     path,
		Status:   StatusDecoded,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Modified: info.ModTime(),
	}
	return rec, img, data, nil
}

func failedRecord(path string, status Status) *Record {
	return &Record{Path: path, Status: status}
}
