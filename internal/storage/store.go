// Package storage is the relational persistence layer for runs, comments,
// chat history and the GitHub records they hang off.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sevigo/pr-warden/internal/core"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// RunStore is the part of the store the review and chat jobs depend on.
type RunStore interface {
	CreateRun(ctx context.Context, run *core.ReviewRun) error
	GetRun(ctx context.Context, id int64) (*core.ReviewRun, error)
	SaveRun(ctx context.Context, run *core.ReviewRun) error
	LatestCompletedRun(ctx context.Context, pullRequestID int64) (*core.ReviewRun, error)
	ListInFlightRuns(ctx context.Context) ([]core.ReviewRun, error)

	LoadTaskContext(ctx context.Context, runID int64) (*core.TaskContext, error)
	LoadPullRequestContext(ctx context.Context, pullRequestID int64) (*core.TaskContext, error)

	GetReviewComment(ctx context.Context, runID int64) (*core.ReviewComment, error)
	SaveReviewComment(ctx context.Context, comment *core.ReviewComment) error

	GetChatMessage(ctx context.Context, id int64) (*core.ChatMessage, error)
	UpsertChatMessage(ctx context.Context, msg *core.ChatMessage) error
	ListChatMessages(ctx context.Context, pullRequestID int64) ([]core.ChatMessage, error)

	ActiveRuleSets(ctx context.Context, repositoryID int64) ([]core.RuleSet, error)
}

// Store defines the interface for all database operations.
type Store interface {
	RunStore

	UpsertUser(ctx context.Context, user *core.User) error
	GetUserByLogin(ctx context.Context, login string) (*core.User, error)
	SaveCredential(ctx context.Context, cred *core.ProviderCredential) error

	UpsertInstallation(ctx context.Context, inst *core.Installation) error
	SetInstallationActive(ctx context.Context, id int64, active bool) error

	UpsertRepository(ctx context.Context, repo *core.Repository) error
	GetRepositoryByFullName(ctx context.Context, fullName string) (*core.Repository, error)
	SetRepositoryActive(ctx context.Context, fullName string, active bool) error

	UpsertPullRequest(ctx context.Context, pr *core.PullRequest) error
	LatestRun(ctx context.Context, pullRequestID int64) (*core.ReviewRun, error)
	SaveFeedback(ctx context.Context, signal *core.FeedbackSignal) error

	ListRuns(ctx context.Context, limit int) ([]RunOverview, error)
}

// RunOverview is a run joined with the pull request it belongs to.
type RunOverview struct {
	core.ReviewRun
	RepoFullName string `db:"full_name" json:"repo"`
	Number       int    `db:"number" json:"number"`
	Title        string `db:"title" json:"title"`
	HTMLURL      string `db:"html_url" json:"html_url"`
}

type sqlStore struct {
	db *sqlx.DB
}

// NewStore creates a new Store
func NewStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

const runColumns = `id, pull_request_id, head_sha, status, summary, error_message, check_run_id, created_at, started_at, finished_at`

func (s *sqlStore) get(ctx context.Context, dest any, query string, args ...any) error {
	err := s.db.GetContext(ctx, dest, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *sqlStore) CreateRun(ctx context.Context, run *core.ReviewRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`INSERT INTO review_runs
		(pull_request_id, head_sha, status, summary, error_message, check_run_id, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowxContext(ctx, query,
		run.PullRequestID, run.HeadSHA, run.Status, run.Summary, run.ErrorMessage, run.CheckRunID,
		run.CreatedAt.UTC(), utcPtr(run.StartedAt), utcPtr(run.FinishedAt),
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to create review run: %w", err)
	}
	return nil
}

func (s *sqlStore) GetRun(ctx context.Context, id int64) (*core.ReviewRun, error) {
	var run core.ReviewRun
	if err := s.get(ctx, &run, `SELECT `+runColumns+` FROM review_runs WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to get review run %d: %w", id, err)
	}
	return &run, nil
}

// SaveRun persists the mutable fields of run.
func (s *sqlStore) SaveRun(ctx context.Context, run *core.ReviewRun) error {
	query := s.db.Rebind(`UPDATE review_runs
		SET status = ?, summary = ?, error_message = ?, check_run_id = ?, started_at = ?, finished_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		run.Status, run.Summary, run.ErrorMessage, run.CheckRunID, utcPtr(run.StartedAt), utcPtr(run.FinishedAt), run.ID)
	if err != nil {
		return fmt.Errorf("failed to save review run %d: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to save review run %d: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) LatestCompletedRun(ctx context.Context, pullRequestID int64) (*core.ReviewRun, error) {
	var run core.ReviewRun
	err := s.get(ctx, &run, `SELECT `+runColumns+` FROM review_runs
		WHERE pull_request_id = ? AND status = ?
		ORDER BY finished_at DESC, id DESC LIMIT 1`, pullRequestID, core.RunDone)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *sqlStore) LatestRun(ctx context.Context, pullRequestID int64) (*core.ReviewRun, error) {
	var run core.ReviewRun
	err := s.get(ctx, &run, `SELECT `+runColumns+` FROM review_runs
		WHERE pull_request_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, pullRequestID)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListInFlightRuns returns queued and running runs, oldest first. Age
// filtering is left to the caller so both drivers share one query.
func (s *sqlStore) ListInFlightRuns(ctx context.Context) ([]core.ReviewRun, error) {
	var runs []core.ReviewRun
	query := s.db.Rebind(`SELECT ` + runColumns + ` FROM review_runs WHERE status IN (?, ?) ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &runs, query, core.RunQueued, core.RunRunning); err != nil {
		return nil, fmt.Errorf("failed to list in-flight runs: %w", err)
	}
	return runs, nil
}

func (s *sqlStore) ListRuns(ctx context.Context, limit int) ([]RunOverview, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.Rebind(`SELECT r.id, r.pull_request_id, r.head_sha, r.status, r.summary, r.error_message,
			r.check_run_id, r.created_at, r.started_at, r.finished_at,
			repo.full_name, pr.number, pr.title, pr.html_url
		FROM review_runs r
		JOIN pull_requests pr ON pr.id = r.pull_request_id
		JOIN repositories repo ON repo.id = pr.repository_id
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?`)
	var out []RunOverview
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

// LoadTaskContext assembles everything a review task needs for runID.
func (s *sqlStore) LoadTaskContext(ctx context.Context, runID int64) (*core.TaskContext, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	tc, err := s.LoadPullRequestContext(ctx, run.PullRequestID)
	if err != nil {
		return nil, err
	}
	tc.Run = run
	return tc, nil
}

// LoadPullRequestContext is LoadTaskContext without a run, used by chat.
func (s *sqlStore) LoadPullRequestContext(ctx context.Context, pullRequestID int64) (*core.TaskContext, error) {
	tc := &core.TaskContext{}
	if err := s.get(ctx, &tc.PullRequest, `SELECT id, repository_id, number, title, state, html_url, head_sha,
		last_reviewed_sha, created_at, updated_at FROM pull_requests WHERE id = ?`, pullRequestID); err != nil {
		return nil, fmt.Errorf("failed to load pull request %d: %w", pullRequestID, err)
	}
	if err := s.get(ctx, &tc.Repository, `SELECT id, installation_id, full_name, default_branch, is_active,
		created_at, updated_at FROM repositories WHERE id = ?`, tc.PullRequest.RepositoryID); err != nil {
		return nil, fmt.Errorf("failed to load repository %d: %w", tc.PullRequest.RepositoryID, err)
	}

	err := s.get(ctx, &tc.Installation, `SELECT id, account_login, owner_user_id, is_active, created_at, updated_at
		FROM installations WHERE id = ?`, tc.Repository.InstallationID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", tc.Repository.FullName, core.ErrMissingInstallation)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load installation %d: %w", tc.Repository.InstallationID, err)
	}

	if tc.Installation.OwnerUserID == nil {
		return tc, nil
	}
	var owner core.User
	err = s.get(ctx, &owner, `SELECT id, github_id, login, created_at FROM users WHERE id = ?`, *tc.Installation.OwnerUserID)
	switch {
	case errors.Is(err, ErrNotFound):
		return tc, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load installation owner: %w", err)
	}
	tc.Owner = &owner

	var cred core.ProviderCredential
	err = s.get(ctx, &cred, `SELECT id, user_id, provider, api_key, is_active, created_at
		FROM provider_credentials WHERE user_id = ? AND is_active = ? ORDER BY id DESC LIMIT 1`, owner.ID, true)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load provider credential: %w", err)
	default:
		tc.OwnerCredential = &cred
	}
	return tc, nil
}

func (s *sqlStore) GetReviewComment(ctx context.Context, runID int64) (*core.ReviewComment, error) {
	var c core.ReviewComment
	err := s.get(ctx, &c, `SELECT id, review_run_id, body, github_comment_id, created_at, updated_at
		FROM review_comments WHERE review_run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveReviewComment creates the run's comment row or updates it in place.
func (s *sqlStore) SaveReviewComment(ctx context.Context, c *core.ReviewComment) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	query := s.db.Rebind(`INSERT INTO review_comments (review_run_id, body, github_comment_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (review_run_id) DO UPDATE SET
			body = excluded.body,
			github_comment_id = excluded.github_comment_id,
			updated_at = excluded.updated_at
		RETURNING id`)
	if err := s.db.QueryRowxContext(ctx, query, c.ReviewRunID, c.Body, c.GitHubCommentID, c.CreatedAt, c.UpdatedAt).Scan(&c.ID); err != nil {
		return fmt.Errorf("failed to save review comment for run %d: %w", c.ReviewRunID, err)
	}
	return nil
}

func (s *sqlStore) GetChatMessage(ctx context.Context, id int64) (*core.ChatMessage, error) {
	var m core.ChatMessage
	err := s.get(ctx, &m, `SELECT id, pull_request_id, author, body, github_comment_id, is_hidden, created_at
		FROM chat_messages WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat message %d: %w", id, err)
	}
	return &m, nil
}

// UpsertChatMessage keys on the GitHub comment id, so replaying a webhook or
// re-running a reply updates the existing row.
func (s *sqlStore) UpsertChatMessage(ctx context.Context, m *core.ChatMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`INSERT INTO chat_messages (pull_request_id, author, body, github_comment_id, is_hidden, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (github_comment_id) DO UPDATE SET
			body = excluded.body,
			author = excluded.author,
			is_hidden = excluded.is_hidden
		RETURNING id`)
	err := s.db.QueryRowxContext(ctx, query,
		m.PullRequestID, m.Author, m.Body, m.GitHubCommentID, m.IsHidden, m.CreatedAt.UTC()).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert chat message for comment %d: %w", m.GitHubCommentID, err)
	}
	return nil
}

// ListChatMessages returns the whole conversation of a pull request in
// chronological order, hidden messages included.
func (s *sqlStore) ListChatMessages(ctx context.Context, pullRequestID int64) ([]core.ChatMessage, error) {
	var msgs []core.ChatMessage
	query := s.db.Rebind(`SELECT id, pull_request_id, author, body, github_comment_id, is_hidden, created_at
		FROM chat_messages WHERE pull_request_id = ? ORDER BY created_at, id`)
	if err := s.db.SelectContext(ctx, &msgs, query, pullRequestID); err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return msgs, nil
}

// ActiveRuleSets returns active global sets and the active sets scoped to
// repositoryID, each with its rules loaded.
func (s *sqlStore) ActiveRuleSets(ctx context.Context, repositoryID int64) ([]core.RuleSet, error) {
	var sets []core.RuleSet
	query := s.db.Rebind(`SELECT id, scope, repository_id, name, instructions, is_active FROM rule_sets
		WHERE is_active = ? AND (scope = ? OR (scope = ? AND repository_id = ?))
		ORDER BY id`)
	if err := s.db.SelectContext(ctx, &sets, query, true, core.ScopeGlobal, core.ScopeRepo, repositoryID); err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	if len(sets) == 0 {
		return sets, nil
	}

	ids := make([]int64, len(sets))
	byID := make(map[int64]int, len(sets))
	for i, set := range sets {
		ids[i] = set.ID
		byID[set.ID] = i
	}
	query, args, err := sqlx.In(`SELECT id, rule_set_id, title, description, severity, is_active FROM rules
		WHERE rule_set_id IN (?) AND is_active = ? ORDER BY id`, ids, true)
	if err != nil {
		return nil, fmt.Errorf("failed to build rules query: %w", err)
	}
	var rules []core.Rule
	if err := s.db.SelectContext(ctx, &rules, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	for _, r := range rules {
		i := byID[r.RuleSetID]
		sets[i].Rules = append(sets[i].Rules, r)
	}
	return sets, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
