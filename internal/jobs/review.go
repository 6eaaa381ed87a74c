// Package jobs runs the review and chat tasks queued by the webhook handler.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/llm"
)

// PlaceholderBody is posted as soon as a review starts and edited in place
// once it finishes.
const PlaceholderBody = "👁 Reviewing this PR now. I will post a full review shortly."

const abortedMessage = "review aborted before reaching a final state"

// ReviewJob executes review runs.
type ReviewJob struct {
	pipeline
}

// NewReviewJob creates a ReviewJob. It panics on missing dependencies.
func NewReviewJob(d Deps) *ReviewJob {
	return &ReviewJob{pipeline: newPipeline(d)}
}

// Run implements core.Job.
func (j *ReviewJob) Run(ctx context.Context, task *core.Task) error {
	return j.RunReview(ctx, task.RunID)
}

// RunReview drives one run from queued to done or failed. The run never
// stays running after RunReview returns.
func (j *ReviewJob) RunReview(ctx context.Context, runID int64) (err error) {
	logger := j.Logger.With("run_id", runID)

	tc, err := j.Store.LoadTaskContext(ctx, runID)
	if err != nil {
		j.failUnloadable(ctx, runID, err)
		return fmt.Errorf("failed to load run %d: %w", runID, err)
	}
	run := tc.Run
	repo := &tc.Repository
	owner, name := repo.Owner(), repo.Name()
	logger = logger.With("repo", repo.FullName, "pr", tc.PullRequest.Number)

	if err := run.Start(j.now()); err != nil {
		return err
	}
	if err := j.Store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to mark run %d running: %w", runID, err)
	}
	logger.Info("review started", "head_sha", run.HeadSHA)

	var (
		client  github.Client
		token   string
		comment *core.ReviewComment
	)
	defer func() {
		if run.Status.Terminal() {
			return
		}
		if r := recover(); r != nil {
			err = fmt.Errorf("review panicked: %v", r)
		}
		cause := err
		if cause == nil {
			cause = errors.New(abortedMessage)
		}
		j.finishFailed(ctx, logger, tc, client, comment, cause)
	}()

	client, token, err = j.Clients.ForInstallation(ctx, tc.Installation.ID)
	if err != nil {
		j.finishFailed(ctx, logger, tc, nil, nil, err)
		return err
	}
	status := github.NewStatusReporter(client)

	if checkID, err := status.InProgress(ctx, owner, name, run.HeadSHA, "Review in progress", "pr-warden is reviewing this commit."); err != nil {
		logger.Warn("failed to create check run", "error", err)
	} else {
		run.CheckRunID = checkID
	}

	commentID, err := client.CreateComment(ctx, owner, name, tc.PullRequest.Number, PlaceholderBody)
	if err != nil {
		err = fmt.Errorf("failed to post placeholder comment: %w", err)
		j.finishFailed(ctx, logger, tc, client, nil, err)
		return err
	}
	comment = &core.ReviewComment{ReviewRunID: run.ID, Body: PlaceholderBody, GitHubCommentID: &commentID}
	if err := j.Store.SaveReviewComment(ctx, comment); err != nil {
		logger.Warn("failed to record placeholder comment", "error", err)
	}

	body, err := j.review(ctx, tc, client, token)
	if err == nil {
		body = truncateComment(body, j.Config.Review.MaxCommentChars)
		err = client.UpdateComment(ctx, owner, name, commentID, body)
		if err != nil {
			err = fmt.Errorf("failed to publish review: %w", err)
		}
	}
	if err != nil {
		j.finishFailed(ctx, logger, tc, client, comment, err)
		return err
	}

	comment.Body = body
	if err := j.Store.SaveReviewComment(ctx, comment); err != nil {
		logger.Warn("failed to record review comment", "error", err)
	}
	if err := run.Complete(j.now(), body); err != nil {
		return err
	}
	if err := j.Store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to mark run %d done: %w", runID, err)
	}
	if err := status.Completed(ctx, owner, name, run.CheckRunID, github.ConclusionSuccess, "Review posted", "pr-warden posted its review."); err != nil {
		logger.Warn("failed to complete check run", "error", err)
	}
	logger.Info("review completed", "chars", len([]rune(body)))
	return nil
}

// Preview produces the review text for tc without touching the run or
// posting anything. tc.Run only needs HeadSHA.
func (j *ReviewJob) Preview(ctx context.Context, tc *core.TaskContext, client github.Client, token string) (string, error) {
	body, err := j.review(ctx, tc, client, token)
	if err != nil {
		return "", err
	}
	return truncateComment(body, j.Config.Review.MaxCommentChars), nil
}

// review gathers the context and asks the agent for the review text.
func (j *ReviewJob) review(ctx context.Context, tc *core.TaskContext, client github.Client, token string) (string, error) {
	cred, err := requireCredential(tc)
	if err != nil {
		return "", err
	}

	pc, err := j.prepare(ctx, tc, client, token, tc.Run.HeadSHA)
	if err != nil {
		return "", err
	}
	defer pc.ws.Close()

	prompt, err := j.Prompts.Render(llm.ReviewPrompt, pc.style, llm.ReviewData{
		Repo:           tc.Repository.FullName,
		Number:         tc.PullRequest.Number,
		Title:          tc.PullRequest.Title,
		Rules:          pc.rules,
		TruncationNote: pc.note,
		HasSnapshot:    pc.hasSnapshot,
		Files:          pc.files,
	})
	if err != nil {
		return "", err
	}
	return j.invoke(ctx, cred, pc, prompt)
}

// finishFailed records a failed run. Editing the comment and the check run
// is best-effort; client and comment may be nil when the failure happened
// before they existed.
func (j *ReviewJob) finishFailed(ctx context.Context, logger *slog.Logger, tc *core.TaskContext, client github.Client, comment *core.ReviewComment, cause error) {
	ctx = context.WithoutCancel(ctx)
	run := tc.Run
	owner, name := tc.Repository.Owner(), tc.Repository.Name()
	reason := classifyFailure(cause)
	logger.Error("review failed", "error", cause)

	if client != nil && comment != nil && comment.GitHubCommentID != nil {
		body := truncateComment(failureComment("review", reason), j.Config.Review.MaxCommentChars)
		if err := client.UpdateComment(ctx, owner, name, *comment.GitHubCommentID, body); err != nil {
			logger.Warn("failed to post failure notice", "error", err)
		} else {
			comment.Body = body
			if err := j.Store.SaveReviewComment(ctx, comment); err != nil {
				logger.Warn("failed to record failure notice", "error", err)
			}
		}
	}

	if err := run.Fail(j.now(), reason); err != nil {
		logger.Error("failed to mark run failed", "error", err)
		return
	}
	if err := j.Store.SaveRun(ctx, run); err != nil {
		logger.Error("failed to persist failed run", "error", err)
	}
	if client != nil {
		if err := github.NewStatusReporter(client).Completed(ctx, owner, name, run.CheckRunID, github.ConclusionFailure, "Review failed", reason); err != nil {
			logger.Warn("failed to complete check run", "error", err)
		}
	}
}

// failUnloadable fails a run whose context could not be assembled, for
// example because its installation was removed.
func (j *ReviewJob) failUnloadable(ctx context.Context, runID int64, cause error) {
	run, err := j.Store.GetRun(ctx, runID)
	if err != nil || run.Status.Terminal() {
		return
	}
	msg := cause.Error()
	if errors.Is(cause, core.ErrMissingInstallation) {
		msg = "the repository is no longer linked to an active installation"
	}
	if err := run.Fail(j.now(), msg); err != nil {
		return
	}
	if err := j.Store.SaveRun(ctx, run); err != nil {
		j.Logger.Error("failed to persist failed run", "run_id", runID, "error", err)
	}
}
