package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/filescope/filescope/internal/identity"
	"github.com/filescope/filescope/internal/vision"
)

func newBatchHandler(t *testing.T, provider vision.Provider) (*BatchHandler, *JobManager) {
	t.Helper()
	x := identity.NewIndex()
	if err := x.Upsert(context.Background(), "alice", []float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	jm := NewJobManager()
	return NewBatchHandler(testConfig(), provider, x, jm), jm
}

func postJSON(t *testing.T, body any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}

func TestBatchStart_InvalidBody(t *testing.T) {
	h, _ := newBatchHandler(t, &fakeProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.Start(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, errInvalidRequestBody)
}

func TestBatchStart_MissingInput(t *testing.T) {
	h, _ := newBatchHandler(t, &fakeProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", postJSON(t, StartRequest{}))
	rec := httptest.NewRecorder()
	h.Start(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, "root or files is required")
}

func TestBatchStart_RunsToCompletion(t *testing.T) {
	dir := t.TempDir()
	photo := writeTestImage(t, dir, "photo.png")

	provider := &fakeProvider{
		detections: []vision.Detection{
			{FaceIndex: 0, BBox: []float64{2, 2, 20, 20}, DetScore: 0.9},
		},
		embedding: []float32{1, 0, 0, 0},
	}
	h, jm := newBatchHandler(t, provider)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", postJSON(t, StartRequest{Files: []string{photo}}))
	rec := httptest.NewRecorder()
	h.Start(rec, req)

	assertStatusCode(t, rec, http.StatusAccepted)

	var resp map[string]any
	parseJSONResponse(t, rec, &resp)
	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected job_id in response")
	}

	job := waitForJob(t, jm, jobID)
	if job.GetStatus() != JobStatusCompleted {
		t.Fatalf("expected completed job, got %s (error: %s)", job.GetStatus(), job.Error)
	}
	if job.Result == nil || job.Result.ProcessedCount != 1 || job.Result.MatchedCount != 1 {
		t.Errorf("unexpected job result: %+v", job.Result)
	}
	if len(job.Result.Files) != 1 || len(job.Result.Files[0].Faces) != 1 {
		t.Fatalf("expected one file with one face, got %+v", job.Result.Files)
	}
	face := job.Result.Files[0].Faces[0]
	if face.Candidate != "alice" {
		t.Errorf("expected alice, got %s", face.Candidate)
	}
	// BBox is converted to relative coordinates for the UI.
	for _, v := range face.BBox {
		if v < 0 || v > 1 {
			t.Errorf("bbox not relative: %v", face.BBox)
		}
	}
}

func TestBatchStart_EnumeratesRoot(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "a.png")
	writeTestImage(t, dir, "b.png")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	h, jm := newBatchHandler(t, &fakeProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", postJSON(t, StartRequest{Root: dir}))
	rec := httptest.NewRecorder()
	h.Start(rec, req)
	assertStatusCode(t, rec, http.StatusAccepted)

	var resp map[string]any
	parseJSONResponse(t, rec, &resp)
	if total, _ := resp["total_files"].(float64); int(total) != 2 {
		t.Errorf("expected 2 enumerated files, got %v", resp["total_files"])
	}

	job := waitForJob(t, jm, resp["job_id"].(string))
	if job.GetStatus() != JobStatusCompleted {
		t.Errorf("expected completed, got %s", job.GetStatus())
	}
}

func TestBatchStatus_NotFound(t *testing.T) {
	h, _ := newBatchHandler(t, &fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches/nope", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "nope"})
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestBatchCancel_NotFound(t *testing.T) {
	h, _ := newBatchHandler(t, &fakeProvider{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/batches/nope", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "nope"})
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestBatchOrganize_RequiresCompletedJob(t *testing.T) {
	h, jm := newBatchHandler(t, &fakeProvider{})
	jm.CreateJob("job-1", "", 1, BatchJobOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches/job-1/organize",
		postJSON(t, OrganizeRequest{Dest: t.TempDir()}))
	req = requestWithChiParams(req, map[string]string{"jobId": "job-1"})
	rec := httptest.NewRecorder()
	h.Organize(rec, req)

	assertStatusCode(t, rec, http.StatusConflict)
}

func TestBatchOrganize_AppliesAssignments(t *testing.T) {
	srcDir := t.TempDir()
	photo := writeTestImage(t, srcDir, "photo.png")

	provider := &fakeProvider{
		detections: []vision.Detection{
			{FaceIndex: 0, BBox: []float64{2, 2, 20, 20}, DetScore: 0.9},
		},
		embedding: []float32{1, 0, 0, 0},
	}
	h, jm := newBatchHandler(t, provider)

	// Run the batch.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", postJSON(t, StartRequest{Files: []string{photo}}))
	rec := httptest.NewRecorder()
	h.Start(rec, req)
	var resp map[string]any
	parseJSONResponse(t, rec, &resp)
	jobID := resp["job_id"].(string)
	waitForJob(t, jm, jobID)

	// Confirm organize into a fresh destination.
	dest := t.TempDir()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/batches/"+jobID+"/organize",
		postJSON(t, OrganizeRequest{Dest: dest}))
	req = requestWithChiParams(req, map[string]string{"jobId": jobID})
	rec = httptest.NewRecorder()
	h.Organize(rec, req)
	assertStatusCode(t, rec, http.StatusOK)

	if _, err := os.Stat(filepath.Join(dest, "alice", "photo.png")); err != nil {
		t.Errorf("expected organized photo under alice: %v", err)
	}
	// Copy by default, source survives.
	if _, err := os.Stat(photo); err != nil {
		t.Errorf("source should survive default copy mode: %v", err)
	}
}
