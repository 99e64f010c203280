package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/identity"
	"github.com/filescope/filescope/internal/imaging"
	"github.com/filescope/filescope/internal/match"
	"github.com/filescope/filescope/internal/organize"
	"github.com/filescope/filescope/internal/pipeline"
	"github.com/filescope/filescope/internal/vision"
)

// BatchHandler handles batch processing endpoints
type BatchHandler struct {
	config     *config.Config
	provider   vision.Provider
	store      identity.Store
	jobManager *JobManager
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(cfg *config.Config, provider vision.Provider, store identity.Store, jm *JobManager) *BatchHandler {
	return &BatchHandler{
		config:     cfg,
		provider:   provider,
		store:      store,
		jobManager: jm,
	}
}

// StartRequest represents a batch start request
type StartRequest struct {
	Root        string   `json:"root"`
	Files       []string `json:"files"`
	Recursive   bool     `json:"recursive"`
	Background  bool     `json:"background"`
	Concurrency int      `json:"concurrency"`
}

// Start starts a new batch job
func (h *BatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.Root == "" && len(req.Files) == 0 {
		respondError(w, http.StatusBadRequest, "root or files is required")
		return
	}

	files := req.Files
	if req.Root != "" {
		enumerated, err := imaging.Enumerate(req.Root, h.config.Pipeline.Extensions, req.Recursive)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("enumerating %s: %v", req.Root, err))
			return
		}
		files = append(files, enumerated...)
	}
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no image files found")
		return
	}

	jobID := uuid.New().String()
	options := BatchJobOptions{
		Recursive:   req.Recursive,
		Background:  req.Background,
		Concurrency: req.Concurrency,
	}
	job := h.jobManager.CreateJob(jobID, req.Root, len(files), options)

	log.Printf("Starting batch job %s with %d files under %s", jobID, len(files), sanitizeForLog(req.Root))

	// Start job in background
	go h.runBatchJob(job, files)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      jobID,
		"total_files": len(files),
		"status":      string(JobStatusPending),
	})
}

// Status returns the status of a batch job
func (h *BatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// Events streams job events via SSE
func (h *BatchHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job
		},
	)
}

// Cancel cancels a batch job
func (h *BatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// OrganizeRequest represents an organize confirmation request
type OrganizeRequest struct {
	Dest      string `json:"dest"`
	Move      *bool  `json:"move,omitempty"`
	Overwrite *bool  `json:"overwrite,omitempty"`
}

// Organize applies a completed job's identity assignments to the filesystem.
func (h *BatchHandler) Organize(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.GetStatus() != JobStatusCompleted {
		respondError(w, http.StatusConflict, "job is not completed")
		return
	}

	var req OrganizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Dest == "" {
		respondError(w, http.StatusBadRequest, "dest is required")
		return
	}

	cfg := h.config.Organize
	if req.Move != nil {
		cfg.Move = *req.Move
	}
	if req.Overwrite != nil {
		cfg.Overwrite = *req.Overwrite
	}

	organizer := organize.New(req.Dest, cfg)
	report := organizer.Apply(r.Context(), job.Assignments())

	errs := make([]string, len(report.Errors))
	for i, e := range report.Errors {
		errs[i] = e.Error()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"organized":  len(report.Operations),
		"operations": report.Operations,
		"errors":     errs,
	})
}

// runBatchJob runs the batch job in the background
func (h *BatchHandler) runBatchJob(job *BatchJob, files []string) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	defer cancel()

	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Batch job started"})

	matcher := match.NewMatcher(h.store, h.config.Match.AcceptDistance, h.config.Match.TieEpsilon)
	runner := pipeline.New(h.provider, matcher, h.config)

	result, err := runner.Run(ctx, files, pipeline.Options{
		Background:  job.Options.Background,
		Concurrency: job.Options.Concurrency,
		OnProgress: func(info pipeline.ProgressInfo) {
			job.mu.Lock()
			job.ProcessedFiles = info.Current
			job.Progress = int(float64(info.Current) / float64(info.Total) * 100)
			job.mu.Unlock()
			job.SendEvent(JobEvent{
				Type: "progress",
				Data: map[string]any{
					"phase":   info.Phase,
					"current": info.Current,
					"total":   info.Total,
					"path":    info.Path,
				},
			})
		},
	})

	if err != nil {
		if ctx.Err() != nil {
			job.mu.Lock()
			job.Status = JobStatusCancelled
			job.mu.Unlock()
			job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
			return
		}
		h.failJob(job, fmt.Sprintf("batch failed: %v", err))
		return
	}

	if ctx.Err() != nil {
		job.mu.Lock()
		job.Status = JobStatusCancelled
		job.mu.Unlock()
		job.SendEvent(JobEvent{Type: "cancelled", Message: "Job was cancelled"})
		return
	}

	jobResult, assignments := summarize(result)

	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.ProcessedFiles = result.Processed
	job.Progress = 100
	job.Result = jobResult
	job.assignments = assignments
	job.mu.Unlock()

	job.SendEvent(JobEvent{Type: "completed", Data: jobResult})
}

func (h *BatchHandler) failJob(job *BatchJob, message string) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "job_error", Message: message})
}

// summarize converts a pipeline result into the job result and the
// assignment list the organizer consumes.
func summarize(result *pipeline.Result) (*BatchJobResult, []match.Result) {
	jobResult := &BatchJobResult{
		ProcessedCount: result.Processed,
		MatchedCount:   result.Matched,
	}
	for _, e := range result.Errors {
		jobResult.Errors = append(jobResult.Errors, e.Error())
	}

	var assignments []match.Result
	for _, fr := range result.Files {
		summary := FileSummary{Path: fr.Path}
		if fr.Err != nil {
			summary.Error = fr.Err.Error()
			jobResult.Files = append(jobResult.Files, summary)
			continue
		}
		for _, face := range fr.Faces {
			bbox := face.Detection.BBox
			if fr.Record != nil {
				bbox = vision.PixelBBoxToRelative(bbox, fr.Record.Width, fr.Record.Height)
			}
			summary.Faces = append(summary.Faces, FaceSummary{
				FaceIndex:  face.Detection.FaceIndex,
				BBox:       bbox,
				DetScore:   face.Detection.DetScore,
				Candidate:  face.Match.Candidate,
				Distance:   face.Match.Distance,
				Similarity: face.Match.Similarity,
			})
		}
		jobResult.Files = append(jobResult.Files, summary)

		best, _ := fr.Best()
		assignments = append(assignments, best)
	}
	return jobResult, assignments
}
