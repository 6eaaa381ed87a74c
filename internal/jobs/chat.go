package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/storage"
)

const (
	noQuestion    = "(no question provided)"
	noReviewYet   = "No completed review yet."
	reactionEyes  = "eyes"
	emptyMessages = "(no earlier messages)"
)

// ChatJob answers @mentions on pull requests.
type ChatJob struct {
	pipeline
}

// NewChatJob creates a ChatJob. It panics on missing dependencies.
func NewChatJob(d Deps) *ChatJob {
	return &ChatJob{pipeline: newPipeline(d)}
}

// Run implements core.Job.
func (j *ChatJob) Run(ctx context.Context, task *core.Task) error {
	return j.HandleChat(ctx, task.PullRequestID, task.ChatMessageID)
}

// HandleChat replies to the chat message chatMessageID. The reply is stored
// as a ChatMessage keyed by the posted comment. A failure produces a
// best-effort error comment and no stored message.
func (j *ChatJob) HandleChat(ctx context.Context, pullRequestID, chatMessageID int64) error {
	logger := j.Logger.With("pr_id", pullRequestID, "chat_message_id", chatMessageID)

	tc, err := j.Store.LoadPullRequestContext(ctx, pullRequestID)
	if err != nil {
		return fmt.Errorf("failed to load pull request %d: %w", pullRequestID, err)
	}
	trigger, err := j.Store.GetChatMessage(ctx, chatMessageID)
	if err != nil {
		return err
	}
	repo := &tc.Repository
	owner, name := repo.Owner(), repo.Name()
	number := tc.PullRequest.Number
	logger = logger.With("repo", repo.FullName, "pr", number)

	client, token, err := j.Clients.ForInstallation(ctx, tc.Installation.ID)
	if err != nil {
		logger.Error("chat failed", "error", err)
		return err
	}

	if err := client.AddCommentReaction(ctx, owner, name, trigger.GitHubCommentID, reactionEyes); err != nil {
		logger.Warn("failed to acknowledge mention", "error", err)
	}

	answer, err := j.answer(ctx, tc, trigger, client, token)
	var replyID int64
	if err == nil {
		answer = truncateComment(answer, j.Config.Review.MaxCommentChars)
		replyID, err = client.CreateComment(ctx, owner, name, number, answer)
		if err != nil {
			err = fmt.Errorf("failed to post chat reply: %w", err)
		}
	}
	if err != nil {
		logger.Error("chat failed", "error", err)
		notice := truncateComment(failureComment("reply", classifyFailure(err)), j.Config.Review.MaxCommentChars)
		if _, postErr := client.CreateComment(context.WithoutCancel(ctx), owner, name, number, notice); postErr != nil {
			logger.Warn("failed to post failure notice", "error", postErr)
		}
		return err
	}

	reply := &core.ChatMessage{
		PullRequestID:   pullRequestID,
		Author:          j.Config.GitHub.BotLogin,
		Body:            answer,
		GitHubCommentID: replyID,
		CreatedAt:       j.now().UTC(),
	}
	if err := j.Store.UpsertChatMessage(ctx, reply); err != nil {
		return fmt.Errorf("failed to record chat reply: %w", err)
	}
	logger.Info("chat reply posted", "comment_id", replyID)
	return nil
}

func (j *ChatJob) answer(ctx context.Context, tc *core.TaskContext, trigger *core.ChatMessage, client github.Client, token string) (string, error) {
	cred, err := requireCredential(tc)
	if err != nil {
		return "", err
	}

	history, err := j.Store.ListChatMessages(ctx, tc.PullRequest.ID)
	if err != nil {
		return "", err
	}
	latest := noReviewYet
	run, err := j.Store.LatestCompletedRun(ctx, tc.PullRequest.ID)
	switch {
	case err == nil && strings.TrimSpace(run.Summary) != "":
		latest = run.Summary
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return "", err
	}

	pc, err := j.prepare(ctx, tc, client, token, tc.PullRequest.HeadSHA)
	if err != nil {
		return "", err
	}
	defer pc.ws.Close()

	question := core.StripMention(trigger.Body, j.Config.GitHub.BotLogin)
	if question == "" {
		question = noQuestion
	}

	prompt, err := j.Prompts.Render(llm.ChatPrompt, pc.style, llm.ChatData{
		Repo:           tc.Repository.FullName,
		Number:         tc.PullRequest.Number,
		Title:          tc.PullRequest.Title,
		Rules:          pc.rules,
		TruncationNote: pc.note,
		HasSnapshot:    pc.hasSnapshot,
		Files:          pc.files,
		Question:       question,
		Transcript:     renderTranscript(Transcript(history, trigger.ID, j.Config.Review.ChatHistoryLimit)),
		LatestReview:   latest,
		BotLogin:       j.Config.GitHub.BotLogin,
	})
	if err != nil {
		return "", err
	}
	return j.invoke(ctx, cred, pc, prompt)
}

// Transcript returns the visible messages up to and including triggerID,
// keeping at most limit of the most recent ones in chronological order.
// msgs must already be chronological.
func Transcript(msgs []core.ChatMessage, triggerID int64, limit int) []core.ChatMessage {
	var out []core.ChatMessage
	for _, m := range msgs {
		if !m.IsHidden {
			out = append(out, m)
		}
		if m.ID == triggerID {
			break
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func renderTranscript(msgs []core.ChatMessage) string {
	if len(msgs) == 0 {
		return emptyMessages
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf("@%s (%s):\n%s", m.Author, m.CreatedAt.UTC().Format("2006-01-02 15:04"), strings.TrimSpace(m.Body)))
	}
	return strings.Join(parts, "\n\n")
}
