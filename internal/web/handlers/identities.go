package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/identity"
	"github.com/filescope/filescope/internal/imaging"
	"github.com/filescope/filescope/internal/vision"
)

// IdentityHandler handles identity management endpoints
type IdentityHandler struct {
	config    *config.Config
	provider  vision.Provider
	store     identity.Store
	saveIndex func() error
}

// NewIdentityHandler creates a new identity handler. saveIndex persists the
// store after a mutation; nil for stores that persist themselves.
func NewIdentityHandler(cfg *config.Config, provider vision.Provider, store identity.Store, saveIndex func() error) *IdentityHandler {
	return &IdentityHandler{
		config:    cfg,
		provider:  provider,
		store:     store,
		saveIndex: saveIndex,
	}
}

// List returns all known identities
func (h *IdentityHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.Identities(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("listing identities: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"identities": ids,
		"count":      len(ids),
	})
}

// AddRequest represents an identity add request. Either a raw embedding or a
// reference image path must be provided.
type AddRequest struct {
	Label     string    `json:"label"`
	Embedding []float32 `json:"embedding,omitempty"`
	ImagePath string    `json:"image_path,omitempty"`
	FaceIndex int       `json:"face_index,omitempty"` // index into detections sorted by score
}

// Add registers a reference embedding under a label
func (h *IdentityHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Label == "" {
		respondError(w, http.StatusBadRequest, "label is required")
		return
	}

	embedding := req.Embedding
	if len(embedding) == 0 {
		if req.ImagePath == "" {
			respondError(w, http.StatusBadRequest, "embedding or image_path is required")
			return
		}
		var err error
		embedding, err = h.embedFromImage(r, req.ImagePath, req.FaceIndex)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.store.Upsert(r.Context(), req.Label, embedding); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("adding identity: %v", err))
		return
	}
	if err := h.persist(); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("persisting index: %v", err))
		return
	}

	log.Printf("Added reference embedding for identity %s", sanitizeForLog(req.Label))
	respondJSON(w, http.StatusCreated, map[string]string{"label": req.Label})
}

// Remove deletes an identity and all of its reference embeddings
func (h *IdentityHandler) Remove(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")
	if label == "" {
		respondError(w, http.StatusBadRequest, "missing label")
		return
	}

	if err := h.store.Remove(r.Context(), label); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("removing identity: %v", err))
		return
	}
	if err := h.persist(); err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("persisting index: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (h *IdentityHandler) persist() error {
	if h.saveIndex == nil {
		return nil
	}
	return h.saveIndex()
}

// embedFromImage detects faces in a reference image and returns the
// embedding of the requested face (by rank, highest score first).
func (h *IdentityHandler) embedFromImage(r *http.Request, path string, faceIndex int) ([]float32, error) {
	rec, _, raw, err := imaging.Load(path)
	if err != nil {
		return nil, err
	}

	dets, err := h.provider.DetectFaces(r.Context(), rec.Width, rec.Height, raw)
	if err != nil {
		return nil, err
	}
	dets = vision.FilterByScore(dets, h.config.Match.DetectionThreshold)
	if len(dets) == 0 {
		return nil, fmt.Errorf("no faces found in %s", path)
	}
	if faceIndex < 0 || faceIndex >= len(dets) {
		return nil, fmt.Errorf("face index %d out of range, image has %d faces", faceIndex, len(dets))
	}

	return h.provider.EmbedFace(r.Context(), rec.Width, rec.Height, raw, dets[faceIndex])
}
