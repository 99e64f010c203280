// Package dupes finds duplicate files. The quick scan groups files whose
// normalized names match (copy suffixes like " (1)" or " - Copy" stripped),
// the deep scan groups by size first and then hashes the remaining
// candidates.
package dupes

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// File is one member of a duplicate group.
type File struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Hash     string    `json:"hash,omitempty"` // deep scan only
}

// Group is a set of files considered duplicates of each other. Key is the
// normalized name (quick scan) or content hash (deep scan).
type Group struct {
	Key   string `json:"key"`
	Files []File `json:"files"`
}

// WastedSpace is the total size of the group minus its largest file, the
// bytes reclaimed by keeping only one copy.
func (g Group) WastedSpace() int64 {
	if len(g.Files) <= 1 {
		return 0
	}
	var total, largest int64
	for _, f := range g.Files {
		total += f.Size
		if f.Size > largest {
			largest = f.Size
		}
	}
	return total - largest
}

// TotalWasted sums wasted space across groups.
func TotalWasted(groups []Group) int64 {
	var total int64
	for _, g := range groups {
		total += g.WastedSpace()
	}
	return total
}

// copyPatterns are the filename suffixes that mark a copy of another file,
// matched against the name without extension.
var copyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*\(\d+\)$`),  // " (1)", " (2)"
	regexp.MustCompile(`(?i)\s*-\s*Copy$`), // " - Copy"
	regexp.MustCompile(`(?i)\s+Copy$`),     // " Copy"
	regexp.MustCompile(`(?i)_copy$`),       // "_copy"
	regexp.MustCompile(`(?i)\s*-\s*\d+$`),  // " - 1", " - 2"
	regexp.MustCompile(`(?i)_\d+$`),        // "_1", "_2"
}

// NormalizeFilename strips common copy patterns so "photo (1).jpg",
// "photo - Copy.jpg" and "photo_1.jpg" all normalize to "photo.jpg".
// Comparison is case-insensitive.
func NormalizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filename, ext)

	for _, p := range copyPatterns {
		name = p.ReplaceAllString(name, "")
	}

	return strings.ToLower(name + ext)
}

// QuickOptions controls the name-based scan.
type QuickOptions struct {
	// MatchSize additionally requires identical file sizes within a group,
	// cutting false positives at the cost of missing re-encoded copies.
	MatchSize bool
}

// QuickScan walks root and groups files by normalized name. Dot directories
// are skipped, unreadable files are ignored. Groups come back sorted by key
// with at least two members each.
func QuickScan(ctx context.Context, root string, opts QuickOptions) ([]Group, error) {
	fileMap := make(map[string][]File)
	displayKey := make(map[string]string)

	err := walkFiles(ctx, root, func(path string, info fs.FileInfo) {
		name := filepath.Base(path)
		normalized := NormalizeFilename(name)

		key := normalized
		if opts.MatchSize {
			key = fmt.Sprintf("%s|%d", normalized, info.Size())
		}

		fileMap[key] = append(fileMap[key], File{
			Name:     name,
			Path:     path,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		displayKey[key] = normalized
	})
	if err != nil {
		return nil, err
	}

	var groups []Group
	for key, files := range fileMap {
		if len(files) > 1 {
			groups = append(groups, Group{Key: displayKey[key], Files: files})
		}
	}
	sortGroups(groups)
	return groups, nil
}

// DeepScan walks root, groups files by size and hashes only sizes that occur
// more than once. Files with identical content hashes form a group.
// Algorithm is one of "md5", "sha1" or "sha256" (default).
func DeepScan(ctx context.Context, root, algorithm string) ([]Group, error) {
	sizeMap := make(map[int64][]string)

	err := walkFiles(ctx, root, func(path string, info fs.FileInfo) {
		if info.Size() > 0 {
			sizeMap[info.Size()] = append(sizeMap[info.Size()], path)
		}
	})
	if err != nil {
		return nil, err
	}

	hashMap := make(map[string][]File)
	for _, paths := range sizeMap {
		if len(paths) < 2 {
			continue
		}
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sum, info, err := hashFile(path, algorithm)
			if err != nil {
				continue // unreadable, skip like the walk does
			}
			hashMap[sum] = append(hashMap[sum], File{
				Name:     filepath.Base(path),
				Path:     path,
				Size:     info.Size(),
				Modified: info.ModTime(),
				Hash:     sum,
			})
		}
	}

	var groups []Group
	for sum, files := range hashMap {
		if len(files) > 1 {
			groups = append(groups, Group{Key: sum, Files: files})
		}
	}
	sortGroups(groups)
	return groups, nil
}

func walkFiles(ctx context.Context, root string, visit func(path string, info fs.FileInfo)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		visit(path, info)
		return nil
	})
}

func hashFile(path, algorithm string) (string, fs.FileInfo, error) {
	var hasher hash.Hash
	switch algorithm {
	case "md5":
		hasher = md5.New()
	case "sha1":
		hasher = sha1.New()
	default:
		hasher = sha256.New()
	}

	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	if _, err := io.Copy(hasher, f); err != nil {
		return "", nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return "", nil, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), info, nil
}

func sortGroups(groups []Group) {
	for i := range groups {
		sort.Slice(groups[i].Files, func(a, b int) bool {
			return groups[i].Files[a].Path < groups[i].Files[b].Path
		})
	}
	sort.Slice(groups, func(a, b int) bool {
		return groups[a].Key < groups[b].Key
	})
}
