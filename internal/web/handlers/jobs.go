package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/filescope/filescope/internal/match"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// eventChannelBuffer is the per-listener event buffer; slow SSE consumers
// drop events beyond it rather than blocking the job.
const eventChannelBuffer = 100

// BatchJob represents an async batch processing job.
type BatchJob struct {
	EventBroadcaster

	ID             string          `json:"id"`
	Root           string          `json:"root,omitempty"`
	Status         JobStatus       `json:"status"`
	Progress       int             `json:"progress"`
	TotalFiles     int             `json:"total_files"`
	ProcessedFiles int             `json:"processed_files"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Options        BatchJobOptions `json:"options"`
	Result         *BatchJobResult `json:"result,omitempty"`

	// assignments is the best match per successfully processed file, kept
	// for the organize confirmation step.
	assignments []match.Result
}

// GetStatus returns the current job status (implements SSEJob).
func (j *BatchJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the batch job.
func (j *BatchJob) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
}

// Assignments returns the per-file identity assignments of a completed job.
func (j *BatchJob) Assignments() []match.Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]match.Result(nil), j.assignments...)
}

// BatchJobOptions represents batch job options.
type BatchJobOptions struct {
	Recursive   bool `json:"recursive"`
	Background  bool `json:"background"`
	Concurrency int  `json:"concurrency"`
}

// FaceSummary is one matched face in the job result.
type FaceSummary struct {
	FaceIndex  int       `json:"face_index"`
	BBox       []float64 `json:"bbox"` // relative (0-1) coordinates for UI overlays
	DetScore   float64   `json:"det_score"`
	Candidate  string    `json:"candidate"`
	Distance   float64   `json:"distance"`
	Similarity float64   `json:"similarity"`
}

// FileSummary is the per-file entry in the job result.
type FileSummary struct {
	Path  string        `json:"path"`
	Error string        `json:"error,omitempty"`
	Faces []FaceSummary `json:"faces,omitempty"`
}

// BatchJobResult represents the result of a batch job.
type BatchJobResult struct {
	ProcessedCount int           `json:"processed_count"`
	MatchedCount   int           `json:"matched_count"`
	Errors         []string      `json:"errors,omitempty"`
	Files          []FileSummary `json:"files,omitempty"`
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, eventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async jobs.
type JobManager struct {
	jobs map[string]*BatchJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*BatchJob),
	}
}

// CreateJob creates a new batch job.
func (m *JobManager) CreateJob(id, root string, totalFiles int, options BatchJobOptions) *BatchJob {
	job := &BatchJob{
		ID:         id,
		Root:       root,
		Status:     JobStatusPending,
		TotalFiles: totalFiles,
		StartedAt:  time.Now(),
		Options:    options,
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *BatchJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*BatchJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*BatchJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}
