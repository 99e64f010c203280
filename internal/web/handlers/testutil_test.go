package handlers

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/vision"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			Concurrency:           2,
			BackgroundConcurrency: 1,
			Extensions:            []string{".jpg", ".png"},
		},
		Match: config.MatchConfig{
			DetectionThreshold: 0.5,
			AcceptDistance:     0.4,
			TieEpsilon:         0.02,
		},
		Organize: config.OrganizeConfig{
			UnsortedDir:   "unsorted",
			RetryAttempts: 1,
		},
	}
}

// fakeProvider returns canned detections and a fixed embedding per face.
type fakeProvider struct {
	detections []vision.Detection
	embedding  []float32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) DetectFaces(ctx context.Context, width, height int, raw []byte) ([]vision.Detection, error) {
	return append([]vision.Detection(nil), f.detections...), nil
}

func (f *fakeProvider) EmbedFace(ctx context.Context, width, height int, raw []byte, det vision.Detection) ([]float32, error) {
	return f.embedding, nil
}

// writeTestImage writes a small valid PNG and returns its path
func writeTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 64, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// waitForJob polls until the job reaches a terminal state or the deadline passes
func waitForJob(t *testing.T, jm *JobManager, id string) *BatchJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job := jm.GetJob(id)
		if job != nil && isJobTerminal(job.GetStatus()) {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", id)
	return nil
}
