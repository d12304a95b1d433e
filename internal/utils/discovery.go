package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// DiscoverImages expands args into image paths. Files are returned as given so
// the caller can report unsupported ones. Directories contribute the supported
// images they contain, sorted, descending into subdirectories only when
// recursive is set. Base names matching any exclude glob are skipped.
func DiscoverImages(args []string, recursive bool, exclude []string) ([]string, error) {
	var paths []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}

		if !info.IsDir() {
			if !matchesAny(arg, exclude) {
				paths = append(paths, arg)
			}
			continue
		}

		found, err := discoverInDirectory(arg, recursive, exclude)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}

	return paths, nil
}

func discoverInDirectory(dir string, recursive bool, exclude []string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if IsSupportedImage(path) && !matchesAny(path, exclude) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.Strings(files)
	return files, nil
}

func matchesAny(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
