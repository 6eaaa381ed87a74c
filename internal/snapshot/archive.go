package snapshot

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sevigo/pr-warden/internal/workspace"
)

// ExtractResult summarizes one extraction.
type ExtractResult struct {
	Files   int
	Bytes   int64
	Skipped int
	// Truncated means the byte budget stopped extraction early. What was
	// written so far is kept.
	Truncated bool
}

// Extract unpacks the zip at zipPath into dest. A top-level directory shared
// by every entry is stripped. Entries resolving outside dest are skipped.
func Extract(zipPath, dest string, budget int64, logger *slog.Logger) (*ExtractResult, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	prefix := commonPrefix(r.File)
	res := &ExtractResult{}
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, prefix)
		if name == "" || name == "/" {
			continue
		}
		target, err := workspace.Contain(dest, filepath.FromSlash(name))
		if err != nil {
			logger.Warn("skipping archive entry outside the snapshot", "entry", f.Name)
			res.Skipped++
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o700); err != nil {
				return res, fmt.Errorf("failed to create %s: %w", name, err)
			}
			continue
		case !mode.IsRegular():
			res.Skipped++
			continue
		}

		remaining := budget - res.Bytes
		if int64(f.UncompressedSize64) > remaining {
			res.Truncated = true
			logger.Warn("archive byte budget exhausted", "budget", budget, "entry", f.Name)
			break
		}
		n, err := extractFile(f, target, remaining)
		if err != nil {
			return res, err
		}
		if n > remaining {
			os.Remove(target)
			res.Truncated = true
			logger.Warn("archive entry exceeded its declared size", "entry", f.Name)
			break
		}
		res.Files++
		res.Bytes += n
	}
	return res, nil
}

// extractFile copies at most limit+1 bytes so callers can detect entries
// whose declared size was wrong.
func extractFile(f *zip.File, target string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", f.Name, err)
	}
	n, copyErr := io.Copy(out, io.LimitReader(rc, limit+1))
	closeErr := out.Close()
	if copyErr != nil {
		return n, fmt.Errorf("failed to extract %s: %w", f.Name, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("failed to extract %s: %w", f.Name, closeErr)
	}
	return n, nil
}

// commonPrefix returns "<segment>/" when every entry lives under the first
// entry's top-level directory, as in GitHub's owner-repo-sha/ zipballs.
func commonPrefix(files []*zip.File) string {
	if len(files) == 0 {
		return ""
	}
	first, _, ok := strings.Cut(files[0].Name, "/")
	if !ok || first == "" {
		return ""
	}
	prefix := first + "/"
	for _, f := range files {
		if !strings.HasPrefix(f.Name, prefix) {
			return ""
		}
	}
	return prefix
}
