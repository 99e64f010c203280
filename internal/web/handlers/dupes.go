package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/dupes"
)

// DupesHandler handles duplicate scan endpoints
type DupesHandler struct {
	config *config.Config
}

// NewDupesHandler creates a new dupes handler
func NewDupesHandler(cfg *config.Config) *DupesHandler {
	return &DupesHandler{config: cfg}
}

// DupesRequest represents a duplicate scan request
type DupesRequest struct {
	Root      string `json:"root"`
	Deep      bool   `json:"deep"`       // hash contents instead of comparing names
	Similar   bool   `json:"similar"`    // compare perceptual image hashes
	MatchSize bool   `json:"match_size"` // quick scan only
	Algorithm string `json:"algorithm"`  // deep scan hash: md5, sha1, sha256
	Hamming   int    `json:"hamming"`    // similar scan distance, 0 = default
}

// Scan runs a duplicate scan. Quick scans compare normalized names, deep
// scans hash file contents, similar scans compare perceptual image hashes.
// Runs synchronously within the request timeout.
func (h *DupesHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req DupesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Root == "" {
		respondError(w, http.StatusBadRequest, "root is required")
		return
	}

	var (
		groups []dupes.Group
		err    error
	)
	switch {
	case req.Similar:
		groups, err = dupes.SimilarScan(r.Context(), req.Root, dupes.SimilarOptions{
			Extensions: h.config.Pipeline.Extensions,
			Threshold:  req.Hamming,
		})
	case req.Deep:
		groups, err = dupes.DeepScan(r.Context(), req.Root, req.Algorithm)
	default:
		groups, err = dupes.QuickScan(r.Context(), req.Root, dupes.QuickOptions{MatchSize: req.MatchSize})
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"groups":       groups,
		"group_count":  len(groups),
		"wasted_bytes": dupes.TotalWasted(groups),
	})
}
