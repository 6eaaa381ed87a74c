package snapshot

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

var skipDirs = []string{
	".git", ".hg", ".svn", "node_modules", ".venv", "venv", "__pycache__",
	".mypy_cache", ".pytest_cache", ".ruff_cache", ".tox", ".cache", ".next",
	"dist", "build", "target", "vendor",
}

// Index is a sorted listing of the files in a snapshot.
type Index struct {
	Text       string
	FileCount  int
	TotalBytes int64
	Truncated  bool
}

// BuildIndex lists regular files under root, one slash-separated relative
// path per line. Directories named in the default skip list or in extraSkip
// are not descended into. Only the first limit paths are listed, but
// FileCount and TotalBytes cover every file.
func BuildIndex(root string, limit int, extraSkip []string) (Index, error) {
	skip := make(map[string]struct{}, len(skipDirs)+len(extraSkip))
	for _, d := range skipDirs {
		skip[d] = struct{}{}
	}
	for _, d := range extraSkip {
		if d = strings.Trim(strings.TrimSpace(d), "/"); d != "" {
			skip[d] = struct{}{}
		}
	}

	var idx Index
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			rel, _ := filepath.Rel(root, path)
			if _, ok := skip[d.Name()]; ok {
				return filepath.SkipDir
			}
			if _, ok := skip[filepath.ToSlash(rel)]; ok {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		idx.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return idx, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Strings(paths)
	idx.FileCount = len(paths)
	if limit > 0 && len(paths) > limit {
		paths = append(paths[:limit:limit], fmt.Sprintf("... (truncated after %d paths)", limit))
		idx.Truncated = true
	}
	if len(paths) > 0 {
		idx.Text = strings.Join(paths, "\n") + "\n"
	}
	return idx, nil
}
