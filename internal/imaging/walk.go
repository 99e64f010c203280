package imaging

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Enumerate collects image file paths under root, filtered by extension.
// Hidden directories are skipped. With recursive=false only the top level is
// scanned. Unreadable entries are skipped rather than failing the walk.
func Enumerate(root string, extensions []string, recursive bool) ([]string, error) {
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root {
				if strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				if !recursive {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if extSet[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
