// Package github provides functionality for interacting with the GitHub API.
package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

const (
	defaultMaxChangedFiles = 3000
	maxArchiveRedirects    = 5
)

// ChangedFile is one entry of a pull request's file list.
type ChangedFile struct {
	Filename         string
	PreviousFilename string
	Status           string
	Patch            string
	Additions        int
	Deletions        int
}

// Client defines a set of operations for interacting with the GitHub API,
// focusing on pull requests, comments, and check runs.
//
//go:generate mockgen -destination=../../mocks/mock_github_client.go -package=mocks . Client
type Client interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
	ListChangedFiles(ctx context.Context, owner, repo string, number, limit int) ([]ChangedFile, error)
	GetFileText(ctx context.Context, owner, repo, path, ref string, maxBytes int) (string, bool, error)
	DownloadZipball(ctx context.Context, owner, repo, ref, dest string) error
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error)
	UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error
	AddCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error
	CreateCheckRun(ctx context.Context, owner, repo string, opts github.CreateCheckRunOptions) (*github.CheckRun, error)
	UpdateCheckRun(ctx context.Context, owner, repo string, checkRunID int64, opts github.UpdateCheckRunOptions) (*github.CheckRun, error)
}

type gitHubClient struct {
	client          *github.Client
	download        *http.Client
	maxChangedFiles int
	logger          *slog.Logger
}

// Option tunes a client created by NewGitHubClient.
type Option func(*gitHubClient)

// WithMaxChangedFiles caps the file list used to rebuild a diff.
func WithMaxChangedFiles(n int) Option {
	return func(g *gitHubClient) {
		if n > 0 {
			g.maxChangedFiles = n
		}
	}
}

// WithDownloadClient sets the HTTP client used for archive downloads. It
// should carry no overall timeout; callers bound downloads by context.
func WithDownloadClient(c *http.Client) Option {
	return func(g *gitHubClient) {
		if c != nil {
			g.download = c
		}
	}
}

// NewGitHubClient wraps the official go-github client to provide a focused,
// testable interface for application-specific GitHub operations.
func NewGitHubClient(client *github.Client, logger *slog.Logger, opts ...Option) Client {
	g := &gitHubClient{
		client:          client,
		download:        &http.Client{},
		maxChangedFiles: defaultMaxChangedFiles,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewPATClient creates a new GitHub client authenticated with a Personal Access Token (PAT).
// This is useful for CLI tools or local development where an App installation is not available.
func NewPATClient(ctx context.Context, token, apiURL string, logger *slog.Logger, opts ...Option) (Client, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	client, err := newRESTClient(oauth2.NewClient(ctx, ts), apiURL)
	if err != nil {
		return nil, err
	}
	return NewGitHubClient(client, logger, opts...), nil
}

// newRESTClient builds a go-github client against apiURL, which may point at
// GitHub Enterprise or a test server.
func newRESTClient(httpClient *http.Client, apiURL string) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if apiURL == "" {
		return client, nil
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
	}
	client.BaseURL = base
	return client, nil
}

// statusCode extracts the HTTP status of a failed API call, or 0.
func statusCode(err error) int {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

// GetPullRequest retrieves a single pull request by its number.
func (g *gitHubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	pr, _, err := g.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		g.logger.Error("failed to get pull request", "owner", owner, "repo", repo, "pr", number, "error", err)
		return nil, err
	}
	return pr, nil
}

// GetPullRequestDiff returns the unified diff of a pull request. GitHub
// refuses diffs that are too large; in that case the diff is rebuilt from
// the per-file patches and prefixed with a note.
func (g *gitHubClient) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := g.client.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{
		Type: github.Diff,
	})

	status, fallback := needsDiffFallback(diff, err)
	if !fallback {
		if err != nil {
			g.logger.Error("failed to get pull request diff", "owner", owner, "repo", repo, "pr", number, "error", err)
			return "", err
		}
		return diff, nil
	}

	g.logger.Warn("unified diff unavailable, rebuilding from file patches",
		"owner", owner, "repo", repo, "pr", number, "status", status)
	files, err := g.ListChangedFiles(ctx, owner, repo, number, g.maxChangedFiles)
	if err != nil {
		return "", fmt.Errorf("failed to rebuild diff for %s/%s#%d: %w", owner, repo, number, err)
	}
	return fallbackNote(status) + SynthesizeDiff(files), nil
}

// ListChangedFiles pages through the pull request's files, 100 per page,
// stopping once limit files are collected.
func (g *gitHubClient) ListChangedFiles(ctx context.Context, owner, repo string, number, limit int) ([]ChangedFile, error) {
	var allFiles []ChangedFile
	opts := &github.ListOptions{PerPage: 100}

	for {
		files, resp, err := g.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			g.logger.Error("failed to list files for pull request", "owner", owner, "repo", repo, "pr", number, "error", err)
			return nil, err
		}

		for _, file := range files {
			allFiles = append(allFiles, ChangedFile{
				Filename:         file.GetFilename(),
				PreviousFilename: file.GetPreviousFilename(),
				Status:           file.GetStatus(),
				Patch:            file.GetPatch(),
				Additions:        file.GetAdditions(),
				Deletions:        file.GetDeletions(),
			})
			if limit > 0 && len(allFiles) >= limit {
				return allFiles, nil
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allFiles, nil
}

// GetFileText fetches a text file at ref. ok is false, with a nil error, for
// anything that is missing, not a regular file, larger than maxBytes or not
// valid UTF-8 text.
func (g *gitHubClient) GetFileText(ctx context.Context, owner, repo, path, ref string, maxBytes int) (string, bool, error) {
	file, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s at %s: %w", path, ref, err)
	}
	if file == nil || file.GetType() != "file" {
		return "", false, nil
	}
	if maxBytes > 0 && file.GetSize() > maxBytes {
		return "", false, nil
	}

	text, err := file.GetContent()
	if err != nil {
		g.logger.Debug("undecodable file content", "path", path, "error", err)
		return "", false, nil
	}
	if maxBytes > 0 && len(text) > maxBytes {
		return "", false, nil
	}
	if strings.IndexByte(text, 0) >= 0 || !utf8.ValidString(text) {
		return "", false, nil
	}
	return text, true, nil
}

// DownloadZipball streams the repository archive at ref into dest.
func (g *gitHubClient) DownloadZipball(ctx context.Context, owner, repo, ref, dest string) error {
	link, _, err := g.client.Repositories.GetArchiveLink(ctx, owner, repo, github.Zipball,
		&github.RepositoryContentGetOptions{Ref: ref}, maxArchiveRedirects)
	if err != nil {
		return fmt.Errorf("failed to get archive link for %s/%s@%s: %w", owner, repo, ref, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build archive request: %w", err)
	}
	resp, err := g.download.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("archive download returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return out.Close()
}

// CreateComment creates a new comment on a pull request and returns its id.
func (g *gitHubClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	comment := &github.IssueComment{Body: &body}
	created, _, err := g.client.Issues.CreateComment(ctx, owner, repo, number, comment)
	if err != nil {
		g.logger.Error("failed to create comment", "owner", owner, "repo", repo, "pr", number, "error", err)
		return 0, err
	}
	return created.GetID(), nil
}

// UpdateComment replaces the body of an existing issue comment.
func (g *gitHubClient) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	_, _, err := g.client.Issues.EditComment(ctx, owner, repo, commentID, &github.IssueComment{Body: &body})
	if err != nil {
		g.logger.Error("failed to update comment", "owner", owner, "repo", repo, "comment_id", commentID, "error", err)
	}
	return err
}

// AddCommentReaction reacts to an issue comment. An existing reaction is not
// an error.
func (g *gitHubClient) AddCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	_, _, err := g.client.Reactions.CreateIssueCommentReaction(ctx, owner, repo, commentID, content)
	switch statusCode(err) {
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return nil
	}
	return err
}

// CreateCheckRun creates a new check run.
func (g *gitHubClient) CreateCheckRun(ctx context.Context, owner, repo string, opts github.CreateCheckRunOptions) (*github.CheckRun, error) {
	checkRun, _, err := g.client.Checks.CreateCheckRun(ctx, owner, repo, opts)
	if err != nil {
		g.logger.Error("failed to create check run", "owner", owner, "repo", repo, "error", err)
		return nil, err
	}
	return checkRun, nil
}

// UpdateCheckRun updates an existing check run.
func (g *gitHubClient) UpdateCheckRun(ctx context.Context, owner, repo string, checkRunID int64, opts github.UpdateCheckRunOptions) (*github.CheckRun, error) {
	checkRun, _, err := g.client.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, opts)
	if err != nil {
		g.logger.Error("failed to update check run", "owner", owner, "repo", repo, "checkRunID", checkRunID, "error", err)
	}
	return checkRun, err
}
