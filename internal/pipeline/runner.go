// Package pipeline runs the batch over a set of image files: decode, detect
// faces, extract embeddings and match them against the identity index. The
// pipeline never aborts on a per-file failure; errors are collected and
// reported with the batch result.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/imaging"
	"github.com/filescope/filescope/internal/match"
	"github.com/filescope/filescope/internal/vision"
)

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Phase   string // "processing", "organizing"
	Current int
	Total   int
	Path    string
	Message string
}

// Options controls a batch run.
type Options struct {
	Background  bool               // throttled concurrency for background processing
	Concurrency int                // explicit worker count, 0 = from config
	OnProgress  func(ProgressInfo) // optional progress callback for CLI/web UI
}

// FaceResult is one matched face within a file.
type FaceResult struct {
	Detection vision.Detection `json:"detection"`
	Match     match.Result     `json:"match"`
}

// FileResult is the per-file outcome of a batch run.
type FileResult struct {
	Path   string          `json:"path"`
	Record *imaging.Record `json:"record,omitempty"`
	Faces  []FaceResult    `json:"faces,omitempty"`
	Err    error           `json:"-"`
}

// Best returns the match result the organizer should act on: the known
// identity with the smallest distance, or an unknown result when no face
// matched. The second return is false when the file produced no faces at
// all.
func (f FileResult) Best() (match.Result, bool) {
	if len(f.Faces) == 0 {
		return match.Result{Path: f.Path, Candidate: match.Unknown}, false
	}
	best := f.Faces[0].Match
	for _, fr := range f.Faces[1:] {
		m := fr.Match
		if m.Known() && (!best.Known() || m.Distance < best.Distance) {
			best = m
		}
	}
	return best, true
}

// Result aggregates a whole batch.
type Result struct {
	Files     []FileResult
	Processed int
	Matched   int // files whose best face bound to a known identity
	Errors    []error
}

// Runner wires the pipeline stages together.
type Runner struct {
	provider vision.Provider
	matcher  *match.Matcher
	cfg      *config.Config
}

func New(provider vision.Provider, matcher *match.Matcher, cfg *config.Config) *Runner {
	return &Runner{
		provider: provider,
		matcher:  matcher,
		cfg:      cfg,
	}
}

// fileOutcome holds the result of processing a single file
type fileOutcome struct {
	index  int
	result FileResult
}

func (r *Runner) concurrency(opts Options) int {
	if opts.Concurrency > 0 {
		return opts.Concurrency
	}
	return r.cfg.Concurrency(opts.Background)
}

// Run processes files in parallel and matches every detected face. The
// returned result keeps input order. Cancellation is checked before each
// file, never mid-file, so a cancelled run still returns what finished.
func (r *Runner) Run(ctx context.Context, files []string, opts Options) (*Result, error) {
	if r.matcher == nil {
		return nil, fmt.Errorf("no matcher configured")
	}

	result := &Result{}
	concurrency := r.concurrency(opts)

	resultsChan := make(chan fileOutcome, len(files))
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var processedCount int
	var progressMu sync.Mutex

	reportProgress := func(path string) {
		progressMu.Lock()
		processedCount++
		current := processedCount
		progressMu.Unlock()
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{
				Phase:   "processing",
				Current: current,
				Total:   len(files),
				Path:    path,
			})
		}
	}

	for i := range files {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				resultsChan <- fileOutcome{index: idx, result: FileResult{Path: path, Err: ctx.Err()}}
				reportProgress(path)
				return
			}

			resultsChan <- fileOutcome{index: idx, result: r.processFile(ctx, path)}
			reportProgress(path)
		}(i, files[i])
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	ordered := make([]FileResult, len(files))
	for o := range resultsChan {
		ordered[o.index] = o.result
	}

	for _, fr := range ordered {
		result.Processed++
		result.Files = append(result.Files, fr)
		if fr.Err != nil {
			result.Errors = append(result.Errors, fr.Err)
			continue
		}
		if best, ok := fr.Best(); ok && best.Known() {
			result.Matched++
		}
	}

	return result, nil
}

// maxUploadDim bounds the longer edge of images sent to the embedding
// server. Larger originals are downscaled before upload; detection works on
// the smaller rendition and coordinates are mapped back.
const maxUploadDim = 2048

// uploadImage returns the bytes and dimensions the provider should see,
// downscaling oversized originals first. scale converts pixel coordinates in
// provider responses back to the original image space.
func uploadImage(rec *imaging.Record, img image.Image, raw []byte) ([]byte, int, int, float64, error) {
	if rec.Width <= maxUploadDim && rec.Height <= maxUploadDim {
		return raw, rec.Width, rec.Height, 1, nil
	}
	data, err := imaging.ResizeJPEG(img, maxUploadDim)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	w, h := imaging.FitWithin(rec.Width, rec.Height, maxUploadDim)
	return data, w, h, float64(rec.Width) / float64(w), nil
}

// processFile runs one file through decode, detection and matching.
func (r *Runner) processFile(ctx context.Context, path string) FileResult {
	rec, img, raw, err := imaging.Load(path)
	if err != nil {
		return FileResult{Path: path, Record: rec, Err: err}
	}

	upload, width, height, scale, err := uploadImage(rec, img, raw)
	if err != nil {
		return FileResult{Path: path, Record: rec, Err: err}
	}

	dets, err := r.provider.DetectFaces(ctx, width, height, upload)
	if err != nil {
		return FileResult{Path: path, Record: rec, Err: err}
	}

	dets = vision.FilterByScore(dets, r.cfg.Match.DetectionThreshold)
	dets = vision.DedupeOverlapping(dets)

	fr := FileResult{Path: path, Record: rec}
	for _, det := range dets {
		embedding, err := r.provider.EmbedFace(ctx, width, height, upload, det)
		if err != nil {
			fr.Err = err
			return fr
		}
		m, err := r.matcher.Match(ctx, embedding)
		if err != nil {
			fr.Err = err
			return fr
		}
		m.Path = path
		m.FaceIndex = det.FaceIndex
		det.BBox = vision.ScaleBBox(det.BBox, scale)
		fr.Faces = append(fr.Faces, FaceResult{Detection: det, Match: m})
	}
	return fr
}

// FaceEmbedding is one extracted face, used in clustering mode when no
// identity index exists yet.
type FaceEmbedding struct {
	Path      string
	FaceIndex int
	Embedding []float32
}

// Extract runs decode, detection and embedding extraction without matching.
// Used to gather embeddings for clustering. Per-file failures are collected
// into the second return value.
func (r *Runner) Extract(ctx context.Context, files []string, opts Options) ([]FaceEmbedding, []error) {
	concurrency := r.concurrency(opts)

	type extractOutcome struct {
		index int
		faces []FaceEmbedding
		err   error
	}

	resultsChan := make(chan extractOutcome, len(files))
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var processedCount int
	var progressMu sync.Mutex

	reportProgress := func(path string) {
		progressMu.Lock()
		processedCount++
		current := processedCount
		progressMu.Unlock()
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{
				Phase:   "processing",
				Current: current,
				Total:   len(files),
				Path:    path,
			})
		}
	}

	for i := range files {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				resultsChan <- extractOutcome{index: idx, err: ctx.Err()}
				reportProgress(path)
				return
			}

			faces, err := r.extractFile(ctx, path)
			resultsChan <- extractOutcome{index: idx, faces: faces, err: err}
			reportProgress(path)
		}(i, files[i])
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	ordered := make([]extractOutcome, len(files))
	for o := range resultsChan {
		ordered[o.index] = o
	}

	var faces []FaceEmbedding
	var errs []error
	for _, o := range ordered {
		if o.err != nil {
			errs = append(errs, o.err)
			continue
		}
		faces = append(faces, o.faces...)
	}
	return faces, errs
}

func (r *Runner) extractFile(ctx context.Context, path string) ([]FaceEmbedding, error) {
	rec, img, raw, err := imaging.Load(path)
	if err != nil {
		return nil, err
	}

	upload, width, height, _, err := uploadImage(rec, img, raw)
	if err != nil {
		return nil, err
	}

	dets, err := r.provider.DetectFaces(ctx, width, height, upload)
	if err != nil {
		return nil, err
	}
	dets = vision.FilterByScore(dets, r.cfg.Match.DetectionThreshold)
	dets = vision.DedupeOverlapping(dets)

	var faces []FaceEmbedding
	for _, det := range dets {
		embedding, err := r.provider.EmbedFace(ctx, width, height, upload, det)
		if err != nil {
			return nil, err
		}
		faces = append(faces, FaceEmbedding{
			Path:      path,
			FaceIndex: det.FaceIndex,
			Embedding: embedding,
		})
	}
	return faces, nil
}
