// Package snapshot materializes a pull request's head commit as a plain
// directory tree the agent can read, together with a bounded file index.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/gitutil"
)

// Source tells how a snapshot was obtained.
type Source string

const (
	SourceGit     Source = "git"
	SourceZipball Source = "zipball"
	SourceNone    Source = "none"
)

const (
	repoDirName          = "repo"
	defaultArchiveBudget = 512 << 20
	defaultIndexLimit    = 8000
)

// ArchiveDownloader fetches a zipball of owner/repo at ref into dest.
type ArchiveDownloader interface {
	DownloadZipball(ctx context.Context, owner, repo, ref, dest string) error
}

// Fetcher performs the primary depth-1 checkout.
type Fetcher interface {
	Fetch(ctx context.Context, req gitutil.FetchRequest) error
}

// Request identifies the tree to materialize.
type Request struct {
	// Repo is "owner/name".
	Repo  string
	Ref   string
	Token string
	// Workspace is the task's scratch directory. The tree lands in
	// Workspace/repo.
	Workspace string
	// Archive is used when the git checkout fails. May be nil.
	Archive ArchiveDownloader
}

// Snapshot is the outcome of Build. Dir is empty when no tree is available.
type Snapshot struct {
	Dir        string
	Source     Source
	Summary    string
	Index      string
	FileCount  int
	TotalBytes int64
	Truncated  bool
	// ArchiveTruncated is set when extraction stopped at the byte budget.
	ArchiveTruncated bool
	RepoConfig       *core.RepoConfig
}

// Builder produces snapshots. It never fails: problems are reported in the
// summary and the caller carries on without a tree.
type Builder struct {
	cfg     config.SnapshotConfig
	webURL  string
	fetcher Fetcher
	logger  *slog.Logger
}

// NewBuilder creates a Builder. webURL is the forge's web root used to build
// clone URLs.
func NewBuilder(cfg config.SnapshotConfig, webURL string, fetcher Fetcher, logger *slog.Logger) *Builder {
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = defaultArchiveBudget
	}
	if cfg.MaxIndexPaths <= 0 {
		cfg.MaxIndexPaths = defaultIndexLimit
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 3 * time.Minute
	}
	return &Builder{cfg: cfg, webURL: webURL, fetcher: fetcher, logger: logger}
}

// Build materializes req.Repo at req.Ref.
func (b *Builder) Build(ctx context.Context, req Request) *Snapshot {
	if strings.TrimSpace(req.Ref) == "" {
		return none(req, "the head commit of this pull request is unknown")
	}
	if b.cfg.Disabled {
		return none(req, "repository snapshots are disabled on this server")
	}
	owner, name, ok := strings.Cut(req.Repo, "/")
	if !ok || owner == "" || name == "" {
		return none(req, fmt.Sprintf("%q is not an owner/name repository", req.Repo))
	}

	dir := filepath.Join(req.Workspace, repoDirName)
	logger := b.logger.With("repo", req.Repo, "ref", req.Ref)
	snap := &Snapshot{Dir: dir, RepoConfig: core.DefaultRepoConfig()}

	var lastErr error
	if b.fetcher != nil {
		err := b.fetcher.Fetch(ctx, gitutil.FetchRequest{
			RemoteURL: gitutil.RemoteURL(b.webURL, req.Repo),
			Ref:       req.Ref,
			Token:     req.Token,
			Dir:       dir,
			HelperDir: req.Workspace,
		})
		if err == nil {
			snap.Source = SourceGit
		} else {
			logger.Warn("shallow fetch failed, falling back to zipball", "error", err)
			lastErr = err
		}
	}

	if snap.Source == "" {
		if req.Archive == nil {
			if lastErr == nil {
				lastErr = errors.New("no snapshot strategy available")
			}
			return unavailable(req, lastErr)
		}
		truncated, err := b.fromArchive(ctx, req, owner, name, dir)
		if err != nil {
			logger.Warn("zipball fallback failed", "error", err)
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				logger.Warn("failed to remove partial snapshot", "error", rmErr)
			}
			return unavailable(req, err)
		}
		snap.Source = SourceZipball
		snap.ArchiveTruncated = truncated
	}

	if rc, err := config.LoadRepoConfig(dir); err == nil {
		snap.RepoConfig = rc
	} else if !errors.Is(err, config.ErrConfigNotFound) {
		logger.Warn("ignoring invalid repository config", "file", config.RepoConfigFile, "error", err)
	}

	idx, err := BuildIndex(dir, b.cfg.MaxIndexPaths, snap.RepoConfig.ExcludeDirs)
	if err != nil {
		logger.Warn("failed to index snapshot", "error", err)
	}
	snap.Index = idx.Text
	snap.FileCount = idx.FileCount
	snap.TotalBytes = idx.TotalBytes
	snap.Truncated = idx.Truncated
	snap.Summary = b.summary(req, snap)

	logger.Info("snapshot ready", "source", snap.Source, "files", snap.FileCount,
		"bytes", humanize.IBytes(uint64(snap.TotalBytes)))
	return snap
}

func (b *Builder) fromArchive(ctx context.Context, req Request, owner, name, dir string) (bool, error) {
	actx, cancel := context.WithTimeout(ctx, b.cfg.ArchiveTimeout)
	defer cancel()

	zipPath := filepath.Join(req.Workspace, repoDirName+".zip")
	defer os.Remove(zipPath)

	if err := req.Archive.DownloadZipball(actx, owner, name, req.Ref, zipPath); err != nil {
		return false, err
	}
	res, err := Extract(zipPath, dir, b.cfg.MaxArchiveBytes, b.logger)
	if err != nil {
		return false, err
	}
	return res.Truncated, nil
}

func (b *Builder) summary(req Request, s *Snapshot) string {
	var sb strings.Builder
	sb.WriteString("## Repository snapshot\n\n")
	fmt.Fprintf(&sb, "- Repository: `%s`\n", req.Repo)
	fmt.Fprintf(&sb, "- Commit: `%s`\n", req.Ref)
	switch s.Source {
	case SourceGit:
		sb.WriteString("- Source: shallow git fetch\n")
	case SourceZipball:
		sb.WriteString("- Source: zipball archive\n")
	}
	fmt.Fprintf(&sb, "- Files: %s (%s)\n", humanize.Comma(int64(s.FileCount)), humanize.Bytes(uint64(s.TotalBytes)))
	if s.Truncated {
		fmt.Fprintf(&sb, "- The file index lists only the first %s paths.\n", humanize.Comma(int64(b.cfg.MaxIndexPaths)))
	}
	if s.ArchiveTruncated {
		fmt.Fprintf(&sb, "- Extraction stopped at the %s budget; the tree is incomplete.\n", humanize.IBytes(uint64(b.cfg.MaxArchiveBytes)))
	}
	return sb.String()
}

func none(req Request, reason string) *Snapshot {
	return &Snapshot{
		Source:     SourceNone,
		Summary:    fmt.Sprintf("## Repository snapshot\n\nNo snapshot of `%s` is available: %s.\n", req.Repo, reason),
		RepoConfig: core.DefaultRepoConfig(),
	}
}

func unavailable(req Request, err error) *Snapshot {
	return &Snapshot{
		Source: SourceNone,
		Summary: fmt.Sprintf("## Repository snapshot\n\nCould not materialize `%s` at `%s`. Last error: %v\n",
			req.Repo, req.Ref, err),
		RepoConfig: core.DefaultRepoConfig(),
	}
}
