package core

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMissingCredential   = errors.New("no active AI provider credential")
	ErrMissingInstallation = errors.New("repository is not linked to an active installation")
)

// User is a GitHub account that owns an installation of the app.
type User struct {
	ID        int64     `db:"id" json:"id"`
	GitHubID  int64     `db:"github_id" json:"github_id"`
	Login     string    `db:"login" json:"login"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProviderZAI is the provider keys are stored under unless told otherwise.
const ProviderZAI = "zai"

// ProviderCredential is a user's API key for the model provider the agent
// talks to.
type ProviderCredential struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Provider  string    `db:"provider" json:"provider"`
	APIKey    string    `db:"api_key" json:"-"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Installation struct {
	ID           int64     `db:"id" json:"id"`
	AccountLogin string    `db:"account_login" json:"account_login"`
	OwnerUserID  *int64    `db:"owner_user_id" json:"owner_user_id,omitempty"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type Repository struct {
	ID             int64     `db:"id" json:"id"`
	InstallationID int64     `db:"installation_id" json:"installation_id"`
	FullName       string    `db:"full_name" json:"full_name"`
	DefaultBranch  string    `db:"default_branch" json:"default_branch"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Owner returns the account part of FullName.
func (r *Repository) Owner() string {
	owner, _ := splitFullName(r.FullName)
	return owner
}

// Name returns the repository part of FullName.
func (r *Repository) Name() string {
	_, name := splitFullName(r.FullName)
	return name
}

func splitFullName(full string) (string, string) {
	owner, name, _ := strings.Cut(full, "/")
	return owner, name
}

type PullRequest struct {
	ID              int64     `db:"id" json:"id"`
	RepositoryID    int64     `db:"repository_id" json:"repository_id"`
	Number          int       `db:"number" json:"number"`
	Title           string    `db:"title" json:"title"`
	State           string    `db:"state" json:"state"`
	HTMLURL         string    `db:"html_url" json:"html_url"`
	HeadSHA         string    `db:"head_sha" json:"head_sha"`
	LastReviewedSHA string    `db:"last_reviewed_sha" json:"last_reviewed_sha,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ChatMessage is one turn of the pull request conversation, keyed by the
// GitHub comment that carries it.
type ChatMessage struct {
	ID              int64     `db:"id" json:"id"`
	PullRequestID   int64     `db:"pull_request_id" json:"pull_request_id"`
	Author          string    `db:"author" json:"author"`
	Body            string    `db:"body" json:"body"`
	GitHubCommentID int64     `db:"github_comment_id" json:"github_comment_id"`
	IsHidden        bool      `db:"is_hidden" json:"is_hidden"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type RuleScope string

const (
	ScopeGlobal RuleScope = "global"
	ScopeRepo   RuleScope = "repo"
)

type RuleSet struct {
	ID           int64     `db:"id" json:"id"`
	Scope        RuleScope `db:"scope" json:"scope"`
	RepositoryID *int64    `db:"repository_id" json:"repository_id,omitempty"`
	Name         string    `db:"name" json:"name"`
	Instructions string    `db:"instructions" json:"instructions"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	Rules        []Rule    `db:"-" json:"rules"`
}

type Rule struct {
	ID          int64  `db:"id" json:"id"`
	RuleSetID   int64  `db:"rule_set_id" json:"rule_set_id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	Severity    string `db:"severity" json:"severity"`
	IsActive    bool   `db:"is_active" json:"is_active"`
}

type FeedbackKind string

const (
	FeedbackLike    FeedbackKind = "like"
	FeedbackDislike FeedbackKind = "dislike"
	FeedbackIgnore  FeedbackKind = "ignore"
)

// FeedbackSignal is a reviewer's reaction to a posted review, sent as an
// "/ai like|dislike|ignore" comment.
type FeedbackSignal struct {
	ID              int64        `db:"id" json:"id"`
	ReviewRunID     int64        `db:"review_run_id" json:"review_run_id"`
	GitHubCommentID int64        `db:"github_comment_id" json:"github_comment_id"`
	Signal          FeedbackKind `db:"signal" json:"signal"`
	Author          string       `db:"author" json:"author"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

// TaskContext is everything a review or chat task needs about where it runs,
// loaded once at the start of the task.
type TaskContext struct {
	Run             *ReviewRun
	PullRequest     PullRequest
	Repository      Repository
	Installation    Installation
	Owner           *User
	OwnerCredential *ProviderCredential
}

// RepoConfig is the optional per-repository settings file.
type RepoConfig struct {
	CustomInstructions []string `yaml:"custom_instructions"`
	ExcludeDirs        []string `yaml:"exclude_dirs"`
	Style              string   `yaml:"style"`
}

// DefaultRepoConfig returns a config with default values.
func DefaultRepoConfig() *RepoConfig {
	return &RepoConfig{
		CustomInstructions: []string{},
		ExcludeDirs:        []string{},
	}
}
