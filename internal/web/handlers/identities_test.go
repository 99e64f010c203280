package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/filescope/filescope/internal/identity"
	"github.com/filescope/filescope/internal/vision"
)

func newIdentityHandler(t *testing.T, provider vision.Provider) (*IdentityHandler, *identity.Index) {
	t.Helper()
	x := identity.NewIndex()
	return NewIdentityHandler(testConfig(), provider, x, nil), x
}

func TestIdentityAdd_WithEmbedding(t *testing.T) {
	h, x := newIdentityHandler(t, &fakeProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/identities",
		postJSON(t, AddRequest{Label: "alice", Embedding: []float32{1, 0, 0, 0}}))
	rec := httptest.NewRecorder()
	h.Add(rec, req)

	assertStatusCode(t, rec, http.StatusCreated)
	if x.Count() != 1 {
		t.Errorf("expected 1 reference in index, got %d", x.Count())
	}
}

func TestIdentityAdd_MissingLabel(t *testing.T) {
	h, _ := newIdentityHandler(t, &fakeProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/identities",
		postJSON(t, AddRequest{Embedding: []float32{1, 0}}))
	rec := httptest.NewRecorder()
	h.Add(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, "label is required")
}

func TestIdentityAdd_NoEmbeddingNoImage(t *testing.T) {
	h, _ := newIdentityHandler(t, &fakeProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/identities",
		postJSON(t, AddRequest{Label: "alice"}))
	rec := httptest.NewRecorder()
	h.Add(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, "embedding or image_path is required")
}

func TestIdentityAdd_FromReferenceImage(t *testing.T) {
	dir := t.TempDir()
	photo := writeTestImage(t, dir, "ref.png")

	provider := &fakeProvider{
		detections: []vision.Detection{
			{FaceIndex: 0, BBox: []float64{2, 2, 20, 20}, DetScore: 0.9},
		},
		embedding: []float32{0, 1, 0, 0},
	}
	h, x := newIdentityHandler(t, provider)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/identities",
		postJSON(t, AddRequest{Label: "bob", ImagePath: photo}))
	rec := httptest.NewRecorder()
	h.Add(rec, req)

	assertStatusCode(t, rec, http.StatusCreated)

	neighbors, err := x.NearestNeighbors(context.Background(), []float32{0, 1, 0, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 1 || neighbors[0].Label != "bob" {
		t.Errorf("expected bob in index, got %v", neighbors)
	}
}

func TestIdentityAdd_ImageWithoutFaces(t *testing.T) {
	dir := t.TempDir()
	photo := writeTestImage(t, dir, "empty.png")

	h, _ := newIdentityHandler(t, &fakeProvider{}) // zero detections

	req := httptest.NewRequest(http.MethodPost, "/api/v1/identities",
		postJSON(t, AddRequest{Label: "bob", ImagePath: photo}))
	rec := httptest.NewRecorder()
	h.Add(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
}

func TestIdentityList(t *testing.T) {
	h, x := newIdentityHandler(t, &fakeProvider{})
	ctx := context.Background()
	if err := x.Upsert(ctx, "alice", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := x.Upsert(ctx, "bob", []float32{0, 1}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/identities", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var resp struct {
		Identities []identity.Identity `json:"identities"`
		Count      int                 `json:"count"`
	}
	parseJSONResponse(t, rec, &resp)
	if resp.Count != 2 || len(resp.Identities) != 2 {
		t.Errorf("expected 2 identities, got %+v", resp)
	}
}

func TestIdentityRemove(t *testing.T) {
	h, x := newIdentityHandler(t, &fakeProvider{})
	if err := x.Upsert(context.Background(), "alice", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/identities/alice", nil)
	req = requestWithChiParams(req, map[string]string{"label": "alice"})
	rec := httptest.NewRecorder()
	h.Remove(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	ids, err := x.Identities(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty index after removal, got %v", ids)
	}
}
