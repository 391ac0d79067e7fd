package util

import (
	"os"
	"path/filepath"
	"sort"
)

// ListFiles returns the regular files directly inside dir accepted by match,
// sorted by name.
//
// Arguments:
// - dir: Directory path containing image files.
// - match: Reports whether a path should be included. Nil includes everything.
//
// Returns:
// - []string: The matching paths, joined with dir.
// - error: Error if the directory cannot be read.
func ListFiles(dir string, match func(path string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if match != nil && !match(path) {
			continue
		}
		paths = append(paths, path)
	}

	sort.Strings(paths)
	return paths, nil
}
