// Package workspace manages the per-task scratch directory that holds the
// diff, the PR description, the rules and the repository snapshot.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrOutsideWorkspace is returned for relative paths that resolve outside
// the workspace root.
var ErrOutsideWorkspace = errors.New("path escapes workspace")

// Workspace is a temporary directory removed by Close.
type Workspace struct {
	root string
	once sync.Once
	err  error
}

// New creates a workspace under the system temp dir.
func New(prefix string) (*Workspace, error) {
	dir, err := os.MkdirTemp("", prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{root: dir}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Path resolves rel inside the workspace.
func (w *Workspace) Path(rel string) (string, error) {
	return Contain(w.root, rel)
}

// WriteFile writes data to rel with owner-only permissions, creating parent
// directories as needed.
func (w *Workspace) WriteFile(rel string, data []byte) (string, error) {
	path, err := w.Path(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return path, nil
}

// Close removes the workspace and everything in it. It is safe to call more
// than once.
func (w *Workspace) Close() error {
	w.once.Do(func() {
		w.err = os.RemoveAll(w.root)
	})
	return w.err
}

// Contain joins rel onto root and fails if the cleaned result is not inside
// root.
func Contain(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s is absolute", ErrOutsideWorkspace, rel)
	}
	path := filepath.Join(root, rel)
	inside, err := filepath.Rel(root, path)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, rel)
	}
	return path, nil
}
