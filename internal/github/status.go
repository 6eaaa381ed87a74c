package github

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/go-github/v68/github"
)

// CheckRunName is the name shown in the pull request's checks list.
const CheckRunName = "pr-warden review"

// GitHub rejects check run summaries above 65535 characters.
const maxCheckSummary = 65535

// Check run conclusions used by the reporter.
const (
	ConclusionSuccess = "success"
	ConclusionFailure = "failure"
)

// StatusReporter defines the contract for updating the status of a GitHub Check Run.
type StatusReporter interface {
	InProgress(ctx context.Context, owner, repo, headSHA, title, summary string) (int64, error)
	Completed(ctx context.Context, owner, repo string, checkRunID int64, conclusion, title, summary string) error
}

type statusReporter struct {
	client Client
	now    func() time.Time
}

// NewStatusReporter creates and returns a new instance of a statusReporter.
func NewStatusReporter(client Client) StatusReporter {
	return &statusReporter{client: client, now: time.Now}
}

// InProgress creates a new GitHub Check Run with an "in_progress" status.
func (s *statusReporter) InProgress(ctx context.Context, owner, repo, headSHA, title, summary string) (int64, error) {
	summary = clampSummary(summary)
	opts := github.CreateCheckRunOptions{
		Name:      CheckRunName,
		HeadSHA:   headSHA,
		Status:    github.Ptr("in_progress"),
		StartedAt: &github.Timestamp{Time: s.now()},
		Output: &github.CheckRunOutput{
			Title:   &title,
			Summary: &summary,
		},
	}
	checkRun, err := s.client.CreateCheckRun(ctx, owner, repo, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to create check run: %w", err)
	}
	return checkRun.GetID(), nil
}

// Completed updates an existing GitHub Check Run to a "completed" status.
func (s *statusReporter) Completed(ctx context.Context, owner, repo string, checkRunID int64, conclusion, title, summary string) error {
	if checkRunID == 0 {
		return nil
	}
	summary = clampSummary(summary)
	opts := github.UpdateCheckRunOptions{
		Name:        CheckRunName,
		Status:      github.Ptr("completed"),
		Conclusion:  &conclusion,
		CompletedAt: &github.Timestamp{Time: s.now()},
		Output: &github.CheckRunOutput{
			Title:   &title,
			Summary: &summary,
		},
	}
	if _, err := s.client.UpdateCheckRun(ctx, owner, repo, checkRunID, opts); err != nil {
		return fmt.Errorf("failed to complete check run %d: %w", checkRunID, err)
	}
	return nil
}

func clampSummary(s string) string {
	if len(s) <= maxCheckSummary {
		return s
	}
	cut := maxCheckSummary - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
