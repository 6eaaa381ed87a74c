package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
)

func (s *sqlStore) UpsertUser(ctx context.Context, u *core.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`INSERT INTO users (github_id, login, created_at) VALUES (?, ?, ?)
		ON CONFLICT (github_id) DO UPDATE SET login = excluded.login
		RETURNING id`)
	if err := s.db.QueryRowxContext(ctx, query, u.GitHubID, u.Login, u.CreatedAt).Scan(&u.ID); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.Login, err)
	}
	return nil
}

func (s *sqlStore) GetUserByLogin(ctx context.Context, login string) (*core.User, error) {
	var u core.User
	if err := s.get(ctx, &u, `SELECT id, github_id, login, created_at FROM users WHERE login = ?`, login); err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", login, err)
	}
	return &u, nil
}

// SaveCredential stores a new active key and deactivates the user's previous
// keys for the same provider.
func (s *sqlStore) SaveCredential(ctx context.Context, c *core.ProviderCredential) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE provider_credentials SET is_active = ? WHERE user_id = ? AND provider = ?`),
		false, c.UserID, c.Provider); err != nil {
		return fmt.Errorf("failed to deactivate previous credentials: %w", err)
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.IsActive = true
	query := tx.Rebind(`INSERT INTO provider_credentials (user_id, provider, api_key, is_active, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if err := tx.QueryRowxContext(ctx, query, c.UserID, c.Provider, c.APIKey, c.IsActive, c.CreatedAt).Scan(&c.ID); err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) UpsertInstallation(ctx context.Context, inst *core.Installation) error {
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	query := s.db.Rebind(`INSERT INTO installations (id, account_login, owner_user_id, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			account_login = excluded.account_login,
			owner_user_id = COALESCE(excluded.owner_user_id, installations.owner_user_id),
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query,
		inst.ID, inst.AccountLogin, inst.OwnerUserID, inst.IsActive, inst.CreatedAt, inst.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert installation %d: %w", inst.ID, err)
	}
	return nil
}

func (s *sqlStore) SetInstallationActive(ctx context.Context, id int64, active bool) error {
	query := s.db.Rebind(`UPDATE installations SET is_active = ?, updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, active, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update installation %d: %w", id, err)
	}
	return nil
}

func (s *sqlStore) UpsertRepository(ctx context.Context, repo *core.Repository) error {
	now := time.Now().UTC()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now
	query := s.db.Rebind(`INSERT INTO repositories (installation_id, full_name, default_branch, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (full_name) DO UPDATE SET
			installation_id = excluded.installation_id,
			default_branch = CASE WHEN excluded.default_branch = '' THEN repositories.default_branch ELSE excluded.default_branch END,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		RETURNING id`)
	err := s.db.QueryRowxContext(ctx, query,
		repo.InstallationID, repo.FullName, repo.DefaultBranch, repo.IsActive, repo.CreatedAt, repo.UpdatedAt).Scan(&repo.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert repository %s: %w", repo.FullName, err)
	}
	return nil
}

func (s *sqlStore) GetRepositoryByFullName(ctx context.Context, fullName string) (*core.Repository, error) {
	var repo core.Repository
	err := s.get(ctx, &repo, `SELECT id, installation_id, full_name, default_branch, is_active, created_at, updated_at
		FROM repositories WHERE full_name = ?`, fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", fullName, err)
	}
	return &repo, nil
}

func (s *sqlStore) SetRepositoryActive(ctx context.Context, fullName string, active bool) error {
	query := s.db.Rebind(`UPDATE repositories SET is_active = ?, updated_at = ? WHERE full_name = ?`)
	if _, err := s.db.ExecContext(ctx, query, active, time.Now().UTC(), fullName); err != nil {
		return fmt.Errorf("failed to update repository %s: %w", fullName, err)
	}
	return nil
}

// UpsertPullRequest keys on (repository, number). Empty title, URL and head
// SHA leave the stored values alone, since comment events carry less data
// than pull_request events.
func (s *sqlStore) UpsertPullRequest(ctx context.Context, pr *core.PullRequest) error {
	now := time.Now().UTC()
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = now
	}
	pr.UpdatedAt = now
	if pr.State == "" {
		pr.State = "open"
	}
	query := s.db.Rebind(`INSERT INTO pull_requests
		(repository_id, number, title, state, html_url, head_sha, last_reviewed_sha, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repository_id, number) DO UPDATE SET
			title = CASE WHEN excluded.title = '' THEN pull_requests.title ELSE excluded.title END,
			state = excluded.state,
			html_url = CASE WHEN excluded.html_url = '' THEN pull_requests.html_url ELSE excluded.html_url END,
			head_sha = CASE WHEN excluded.head_sha = '' THEN pull_requests.head_sha ELSE excluded.head_sha END,
			updated_at = excluded.updated_at
		RETURNING id, head_sha, last_reviewed_sha`)
	err := s.db.QueryRowxContext(ctx, query,
		pr.RepositoryID, pr.Number, pr.Title, pr.State, pr.HTMLURL, pr.HeadSHA, pr.LastReviewedSHA, pr.CreatedAt, pr.UpdatedAt,
	).Scan(&pr.ID, &pr.HeadSHA, &pr.LastReviewedSHA)
	if err != nil {
		return fmt.Errorf("failed to upsert pull request #%d: %w", pr.Number, err)
	}
	return nil
}

// SaveFeedback records a feedback command once per GitHub comment.
func (s *sqlStore) SaveFeedback(ctx context.Context, f *core.FeedbackSignal) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`INSERT INTO feedback_signals (review_run_id, github_comment_id, signal, author, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (github_comment_id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, f.ReviewRunID, f.GitHubCommentID, f.Signal, f.Author, f.CreatedAt); err != nil {
		return fmt.Errorf("failed to save feedback for run %d: %w", f.ReviewRunID, err)
	}
	return nil
}
