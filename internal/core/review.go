package core

import (
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a ReviewRun.
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunDone || s == RunFailed
}

var ErrInvalidTransition = errors.New("invalid run status transition")

// ReviewRun is one automated review attempt for a commit on a pull request.
type ReviewRun struct {
	ID            int64      `db:"id" json:"id"`
	PullRequestID int64      `db:"pull_request_id" json:"pull_request_id"`
	HeadSHA       string     `db:"head_sha" json:"head_sha"`
	Status        RunStatus  `db:"status" json:"status"`
	Summary       string     `db:"summary" json:"summary,omitempty"`
	ErrorMessage  string     `db:"error_message" json:"error_message,omitempty"`
	CheckRunID    int64      `db:"check_run_id" json:"check_run_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt    *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// NewReviewRun returns a queued run for headSHA.
func NewReviewRun(pullRequestID int64, headSHA string, now time.Time) *ReviewRun {
	return &ReviewRun{
		PullRequestID: pullRequestID,
		HeadSHA:       headSHA,
		Status:        RunQueued,
		CreatedAt:     now.UTC(),
	}
}

// Start moves a queued run to running.
func (r *ReviewRun) Start(now time.Time) error {
	if r.Status != RunQueued {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, RunRunning)
	}
	t := now.UTC()
	r.Status = RunRunning
	r.StartedAt = &t
	r.FinishedAt = nil
	r.ErrorMessage = ""
	return nil
}

// Complete moves a running run to done with the posted comment body.
func (r *ReviewRun) Complete(now time.Time, summary string) error {
	if r.Status != RunRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, RunDone)
	}
	t := now.UTC()
	r.Status = RunDone
	r.Summary = summary
	r.FinishedAt = &t
	return nil
}

// Fail moves a queued or running run to failed. Queued runs only fail this
// way when they are reconciled as stale or could not be dispatched.
func (r *ReviewRun) Fail(now time.Time, message string) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, RunFailed)
	}
	t := now.UTC()
	r.Status = RunFailed
	r.ErrorMessage = message
	r.FinishedAt = &t
	return nil
}

// ReviewComment is the GitHub comment that carries a run's output. There is
// at most one per run and it is edited in place.
type ReviewComment struct {
	ID              int64     `db:"id" json:"id"`
	ReviewRunID     int64     `db:"review_run_id" json:"review_run_id"`
	Body            string    `db:"body" json:"body"`
	GitHubCommentID *int64    `db:"github_comment_id" json:"github_comment_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// StalePolicy bounds how long a run may sit in a non-terminal state.
type StalePolicy struct {
	Queued  time.Duration
	Running time.Duration
}

// DefaultStalePolicy fails queued runs after an hour and running runs after two.
var DefaultStalePolicy = StalePolicy{Queued: time.Hour, Running: 2 * time.Hour}

// StaleFor reports whether the run has outlived policy at now and, if so,
// the limit it exceeded. Running runs are measured from StartedAt, falling
// back to CreatedAt.
func (r *ReviewRun) StaleFor(now time.Time, policy StalePolicy) (time.Duration, bool) {
	switch r.Status {
	case RunQueued:
		if now.Sub(r.CreatedAt) > policy.Queued {
			return policy.Queued, true
		}
	case RunRunning:
		since := r.CreatedAt
		if r.StartedAt != nil {
			since = *r.StartedAt
		}
		if now.Sub(since) > policy.Running {
			return policy.Running, true
		}
	}
	return 0, false
}
