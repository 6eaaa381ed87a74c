// Package gitutil wraps the git CLI for depth-1 checkouts of a single commit.
package gitutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
)

// TokenEnv carries the access token to the credential helper script.
const TokenEnv = "PRW_GIT_TOKEN"

const credentialHelper = `#!/bin/sh
test "$1" = get || exit 0
echo username=x-access-token
echo "password=$` + TokenEnv + `"
`

// ErrHeadMismatch is returned when the checked-out commit is not the
// requested ref.
var ErrHeadMismatch = errors.New("checked-out HEAD does not match requested ref")

// FetchRequest describes one shallow checkout.
type FetchRequest struct {
	RemoteURL string
	Ref       string
	Token     string
	// Dir receives the working tree. It is created if missing and removed
	// again when Fetch fails.
	Dir string
	// HelperDir holds the credential helper script. It must not be inside Dir.
	HelperDir string
}

// ShallowFetcher checks out exactly one commit with `git fetch --depth 1`.
type ShallowFetcher struct {
	git     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewShallowFetcher returns a fetcher running gitBinary with a per-command
// timeout.
func NewShallowFetcher(gitBinary string, timeout time.Duration, logger *slog.Logger) *ShallowFetcher {
	if gitBinary == "" {
		gitBinary = "git"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ShallowFetcher{git: gitBinary, timeout: timeout, logger: logger}
}

// Fetch populates req.Dir with the tree at req.Ref, without .git metadata.
// The token only reaches git through the environment of the helper script.
func (f *ShallowFetcher) Fetch(ctx context.Context, req FetchRequest) (err error) {
	if req.Ref == "" {
		return errors.New("empty ref")
	}
	if err := validateRemote(req.RemoteURL); err != nil {
		return err
	}
	if err := os.MkdirAll(req.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create checkout dir: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(req.Dir); rmErr != nil {
				f.logger.Warn("failed to remove partial checkout", "dir", req.Dir, "error", rmErr)
			}
		}
	}()

	helper, err := writeHelper(req.HelperDir)
	if err != nil {
		return err
	}
	defer os.Remove(helper)

	env := append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=",
		TokenEnv+"="+req.Token,
	)

	steps := [][]string{
		{"init", "--quiet"},
		{"remote", "add", "origin", req.RemoteURL},
		{"-c", "credential.helper=", "-c", "credential.helper=" + helper,
			"fetch", "--quiet", "--depth", "1", "--no-tags", "origin", req.Ref},
		{"-c", "advice.detachedHead=false", "checkout", "--quiet", "--detach", "FETCH_HEAD"},
	}
	for _, args := range steps {
		if err := f.run(ctx, req.Dir, env, args...); err != nil {
			return err
		}
	}

	head, err := HeadSHA(req.Dir)
	if err != nil {
		return err
	}
	if isHex(req.Ref) && !strings.HasPrefix(head, strings.ToLower(req.Ref)) {
		return fmt.Errorf("%w: got %s, want %s", ErrHeadMismatch, head, req.Ref)
	}

	if err := os.RemoveAll(filepath.Join(req.Dir, ".git")); err != nil {
		return fmt.Errorf("failed to strip .git: %w", err)
	}
	f.logger.InfoContext(ctx, "shallow checkout complete", "remote", req.RemoteURL, "head", head)
	return nil
}

func (f *ShallowFetcher) run(ctx context.Context, dir string, env []string, args ...string) error {
	cmdCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, f.git, args...)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("git %s timed out after %s", subcommand(args), f.timeout)
		}
		return fmt.Errorf("git %s failed: %s: %w", subcommand(args), strings.TrimSpace(string(out)), err)
	}
	return nil
}

// HeadSHA returns the commit HEAD points at in the repository at path.
func HeadSHA(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

func writeHelper(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "git-credential-*.sh")
	if err != nil {
		return "", fmt.Errorf("failed to create credential helper: %w", err)
	}
	path := f.Name()
	_, werr := f.WriteString(credentialHelper)
	cerr := f.Close()
	if err := errors.Join(werr, cerr, os.Chmod(path, 0o700)); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write credential helper: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// subcommand skips leading -c options.
func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

func isHex(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
