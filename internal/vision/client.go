package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultServerURL = "http://localhost:8000"

// Client talks to the self-hosted face embedding server. The server runs
// detection and embedding in a single inference pass; detections returned by
// DetectFaces carry their embedding, which EmbedFace hands out after
// validating the bounding box.
type Client struct {
	baseURL string
	client  *http.Client
	model   string
}

// NewClient creates a client for the embedding server.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultServerURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name returns the provider name, including the server-reported model once known.
func (c *Client) Name() string {
	if c.model != "" {
		return "embedding-server/" + c.model
	}
	return "embedding-server"
}

// faceResponse is the JSON shape of the /embed/face endpoint.
type faceResponse struct {
	FacesCount int    `json:"faces_count"`
	Model      string `json:"model"`
	Faces      []struct {
		FaceIndex int       `json:"face_index"`
		Dim       int       `json:"dim"`
		Embedding []float32 `json:"embedding"`
		BBox      []float64 `json:"bbox"`
		DetScore  float64   `json:"det_score"`
	} `json:"faces"`
}

// DetectFaces uploads the image and returns detections ordered by descending
// detector confidence.
func (c *Client) DetectFaces(ctx context.Context, width, height int, raw []byte) ([]Detection, error) {
	if width <= 0 || height <= 0 {
		return nil, &DetectionError{Reason: fmt.Sprintf("zero-dimension buffer %dx%d", width, height)}
	}
	if len(raw) == 0 {
		return nil, &DetectionError{Reason: "empty image data"}
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", raw)
	if err != nil {
		return nil, &DetectionError{Reason: "embedding server request failed", Err: err}
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &DetectionError{Reason: "invalid server response", Err: err}
	}
	c.model = resp.Model

	dets := make([]Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		dets = append(dets, Detection{
			FaceIndex: f.FaceIndex,
			BBox:      f.BBox,
			DetScore:  f.DetScore,
			embedding: f.Embedding,
		})
	}
	SortByScore(dets)
	return dets, nil
}

// EmbedFace returns the embedding for a detection after validating its
// bounding box against the image bounds. Detections from DetectFaces already
// carry the embedding; a missing one means the caller passed a detection the
// provider never produced.
func (c *Client) EmbedFace(ctx context.Context, width, height int, raw []byte, det Detection) ([]float32, error) {
	if err := ValidateBBox(det.BBox, width, height); err != nil {
		return nil, &ExtractionError{Reason: "invalid bounding box", Err: err}
	}
	if len(det.embedding) == 0 {
		return nil, &ExtractionError{Reason: "detection has no embedding"}
	}
	return det.embedding, nil
}

// postMultipartImage uploads image bytes as a multipart form with an explicit
// Content-Type based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// detectMIMEType detects the MIME type from image data.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
