// Package organize applies identity assignments to the filesystem. Each
// photo lands in a folder named after its matched identity, unknown faces go
// to the unsorted bucket, and name collisions are resolved with a numeric
// suffix instead of overwriting.
package organize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/filescope/filescope/internal/config"
	"github.com/filescope/filescope/internal/match"
)

// OrganizeError describes a single file that could not be organized. The
// batch keeps going; callers collect these and report them at the end.
type OrganizeError struct {
	Path   string
	Dest   string
	Reason string
	Err    error
}

func (e *OrganizeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("organize %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("organize %s: %s", e.Path, e.Reason)
}

func (e *OrganizeError) Unwrap() error {
	return e.Err
}

// Operation records where one file ended up.
type Operation struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
	Label  string `json:"label"`
	Moved  bool   `json:"moved"`
}

// Report summarizes an organizer run.
type Report struct {
	Operations []Operation
	Errors     []error
}

// Organizer moves or copies photos into per-identity folders under a
// destination root.
type Organizer struct {
	root string
	cfg  config.OrganizeConfig

	mu       sync.Mutex
	dirLocks map[string]*sync.Mutex
}

// New creates an organizer writing below root.
func New(root string, cfg config.OrganizeConfig) *Organizer {
	return &Organizer{
		root:     root,
		cfg:      cfg,
		dirLocks: make(map[string]*sync.Mutex),
	}
}

// SanitizeLabel turns an identity label into a safe folder name. Path
// separators and characters that break on common filesystems are replaced
// with underscores.
func SanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range label {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "_"
	}
	return out
}

// DestinationDir returns the folder a label maps to. Unknown or empty labels
// map to the unsorted bucket.
func (o *Organizer) DestinationDir(label string) string {
	if label == "" || label == match.Unknown {
		return filepath.Join(o.root, o.cfg.UnsortedDir)
	}
	return filepath.Join(o.root, SanitizeLabel(label))
}

// Apply organizes a batch of match results. One result per file is expected;
// callers that detect multiple faces pick the winning label first. Failures
// are collected per file and never abort the batch. Cancellation is checked
// between files, never mid-file.
func (o *Organizer) Apply(ctx context.Context, results []match.Result) *Report {
	report := &Report{}

	for _, r := range results {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, &OrganizeError{
				Path:   r.Path,
				Reason: "batch cancelled",
				Err:    err,
			})
			continue
		}
		op, err := o.organizeOne(r.Path, r.Candidate)
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		report.Operations = append(report.Operations, op)
	}
	return report
}

func (o *Organizer) organizeOne(source, label string) (Operation, error) {
	dir := o.DestinationDir(label)

	// Collision resolution and the final placement race against other
	// workers targeting the same folder, so serialize per destination dir.
	lock := o.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Operation{}, &OrganizeError{Path: source, Dest: dir, Reason: "creating destination folder", Err: err}
	}

	dest := filepath.Join(dir, filepath.Base(source))
	if !o.cfg.Overwrite {
		dest = resolveCollision(dest)
	}

	if err := o.place(source, dest); err != nil {
		return Operation{}, &OrganizeError{Path: source, Dest: dest, Reason: placeReason(o.cfg.Move), Err: err}
	}

	return Operation{
		Source: source,
		Dest:   dest,
		Label:  label,
		Moved:  o.cfg.Move,
	}, nil
}

func placeReason(move bool) string {
	if move {
		return "moving file"
	}
	return "copying file"
}

func (o *Organizer) dirLock(dir string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.dirLocks[dir]
	if !ok {
		lock = &sync.Mutex{}
		o.dirLocks[dir] = lock
	}
	return lock
}

// resolveCollision appends _1, _2, ... before the extension until the name
// is free, so photo.jpg becomes photo_1.jpg and the original is never
// touched.
func resolveCollision(dest string) string {
	if _, err := os.Stat(dest); errors.Is(err, fs.ErrNotExist) {
		return dest
	}
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}

// place moves or copies source to dest with bounded retries. Permission
// errors and missing sources are not retried; transient I/O failures back
// off briefly between attempts.
func (o *Organizer) place(source, dest string) error {
	attempts := o.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if o.cfg.Move {
			err = moveFile(source, dest, o.cfg.Overwrite)
		} else {
			err = copyFile(source, dest, o.cfg.Overwrite)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) {
			return err
		}
		if attempt < attempts {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	return err
}

func moveFile(source, dest string, overwrite bool) error {
	if !overwrite {
		// Rename would clobber an existing dest, so check first. The
		// per-directory lock keeps this from racing within one run.
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("destination %s already exists: %w", dest, fs.ErrExist)
		}
	}
	if err := os.Rename(source, dest); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return err
	}
	// Cross-device move: copy then remove the original.
	if err := copyFile(source, dest, overwrite); err != nil {
		return err
	}
	return os.Remove(source)
}

func copyFile(source, dest string, overwrite bool) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	out, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}

	if info, err := in.Stat(); err == nil {
		_ = os.Chtimes(dest, time.Now(), info.ModTime())
	}
	return nil
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
