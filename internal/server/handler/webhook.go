// Package handler provides HTTP handlers for the pr-warden server.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	ghclient "github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/storage"
)

// MaxWebhookBytes caps the size of a webhook body.
const MaxWebhookBytes = 25 << 20

// WebhookHandler processes incoming webhooks from GitHub.
type WebhookHandler struct {
	cfg        *config.Config
	store      storage.Store
	dispatcher core.JobDispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewWebhookHandler creates a new webhook handler with the given configuration and dispatcher.
func NewWebhookHandler(cfg *config.Config, store storage.Store, dispatcher core.JobDispatcher, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle processes GitHub webhook requests.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Could not read body", http.StatusBadRequest)
		return
	}

	if !ghclient.VerifySignature(payload, r.Header.Get(github.SHA256SignatureHeader), h.cfg.GitHub.WebhookSecret) {
		h.logger.Warn("invalid webhook signature", "delivery", r.Header.Get(github.DeliveryIDHeader))
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	eventType := github.WebHookType(r)
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		h.logger.Error("could not parse webhook", "type", eventType, "error", err)
		http.Error(w, "Could not parse webhook", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch e := event.(type) {
	case *github.PingEvent:
		_, _ = fmt.Fprint(w, "pong")
	case *github.InstallationEvent:
		h.handleInstallation(ctx, w, e)
	case *github.InstallationRepositoriesEvent:
		h.handleInstallationRepositories(ctx, w, e)
	case *github.PullRequestEvent:
		h.handlePullRequest(ctx, w, e)
	case *github.IssueCommentEvent:
		h.handleIssueComment(ctx, w, e)
	default:
		h.logger.Debug("ignoring unhandled webhook event type", "type", eventType)
		_, _ = fmt.Fprint(w, "Event type not handled")
	}
}

func (h *WebhookHandler) handleInstallation(ctx context.Context, w http.ResponseWriter, event *github.InstallationEvent) {
	inst := event.GetInstallation()
	account := inst.GetAccount()
	if inst.GetID() == 0 || account.GetLogin() == "" {
		http.Error(w, "Installation information is missing", http.StatusBadRequest)
		return
	}

	var active bool
	switch event.GetAction() {
	case "created", "new_permissions_accepted", "unsuspend":
		active = true
	case "deleted", "suspend":
		active = false
	default:
		_, _ = fmt.Fprint(w, "Installation action ignored")
		return
	}

	owner := &core.User{GitHubID: account.GetID(), Login: account.GetLogin()}
	if err := h.store.UpsertUser(ctx, owner); err != nil {
		h.fail(w, "failed to record installation owner", err)
		return
	}
	record := &core.Installation{ID: inst.GetID(), AccountLogin: account.GetLogin(), OwnerUserID: &owner.ID, IsActive: active}
	if err := h.store.UpsertInstallation(ctx, record); err != nil {
		h.fail(w, "failed to record installation", err)
		return
	}

	for _, repo := range event.Repositories {
		if err := h.store.UpsertRepository(ctx, &core.Repository{InstallationID: inst.GetID(), FullName: repo.GetFullName(), IsActive: active}); err != nil {
			h.fail(w, "failed to record repository", err)
			return
		}
	}

	h.logger.Info("installation updated", "installation_id", inst.GetID(), "account", account.GetLogin(), "action", event.GetAction(), "repos", len(event.Repositories))
	_, _ = fmt.Fprint(w, "Installation recorded")
}

func (h *WebhookHandler) handleInstallationRepositories(ctx context.Context, w http.ResponseWriter, event *github.InstallationRepositoriesEvent) {
	inst := event.GetInstallation()
	if inst.GetID() == 0 {
		http.Error(w, "Installation information is missing", http.StatusBadRequest)
		return
	}
	if err := h.store.UpsertInstallation(ctx, &core.Installation{ID: inst.GetID(), AccountLogin: inst.GetAccount().GetLogin(), IsActive: true}); err != nil {
		h.fail(w, "failed to record installation", err)
		return
	}

	for _, repo := range event.RepositoriesAdded {
		if err := h.store.UpsertRepository(ctx, &core.Repository{InstallationID: inst.GetID(), FullName: repo.GetFullName(), IsActive: true}); err != nil {
			h.fail(w, "failed to record repository", err)
			return
		}
	}
	for _, repo := range event.RepositoriesRemoved {
		if err := h.store.SetRepositoryActive(ctx, repo.GetFullName(), false); err != nil {
			h.fail(w, "failed to deactivate repository", err)
			return
		}
	}

	h.logger.Info("installation repositories updated", "installation_id", inst.GetID(),
		"added", len(event.RepositoriesAdded), "removed", len(event.RepositoriesRemoved))
	_, _ = fmt.Fprint(w, "Repositories recorded")
}

func (h *WebhookHandler) handlePullRequest(ctx context.Context, w http.ResponseWriter, event *github.PullRequestEvent) {
	trigger, err := core.TriggerFromPullRequest(event)
	if err != nil {
		h.ignore(w, err, event.GetRepo().GetFullName())
		return
	}
	if trigger.Draft && !h.cfg.Review.ReviewDrafts {
		h.logger.Debug("ignoring draft pull request", "repo", trigger.RepoFullName, "pr", trigger.Number)
		_, _ = fmt.Fprint(w, "Draft pull request ignored")
		return
	}

	repo, err := h.ensureRepository(ctx, trigger.InstallationID, trigger.AccountLogin, trigger.RepoFullName, trigger.DefaultBranch)
	if err != nil {
		h.fail(w, "failed to record repository", err)
		return
	}
	pr := &core.PullRequest{
		RepositoryID: repo.ID,
		Number:       trigger.Number,
		Title:        trigger.Title,
		State:        trigger.State,
		HTMLURL:      trigger.HTMLURL,
		HeadSHA:      trigger.HeadSHA,
	}
	if err := h.store.UpsertPullRequest(ctx, pr); err != nil {
		h.fail(w, "failed to record pull request", err)
		return
	}

	run := core.NewReviewRun(pr.ID, trigger.HeadSHA, h.now())
	if err := h.store.CreateRun(ctx, run); err != nil {
		h.fail(w, "failed to create review run", err)
		return
	}

	if err := h.dispatcher.Dispatch(ctx, core.NewReviewTask(run.ID)); err != nil {
		h.logger.Error("failed to dispatch review job", "error", err, "repo", trigger.RepoFullName, "run_id", run.ID)
		if failErr := run.Fail(h.now(), "could not queue review: "+err.Error()); failErr == nil {
			if saveErr := h.store.SaveRun(ctx, run); saveErr != nil {
				h.logger.Error("failed to persist rejected run", "run_id", run.ID, "error", saveErr)
			}
		}
		http.Error(w, "Failed to start review job", http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("review job dispatched successfully", "repo", trigger.RepoFullName, "pr", trigger.Number, "run_id", run.ID, "action", trigger.Action)
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprint(w, "Review job accepted")
}

// handleIssueComment records every pull request comment as chat history.
// Feedback commands and bot mentions are acted on after recording.
func (h *WebhookHandler) handleIssueComment(ctx context.Context, w http.ResponseWriter, event *github.IssueCommentEvent) {
	trigger, err := core.TriggerFromIssueComment(event)
	if err != nil {
		h.ignore(w, err, event.GetRepo().GetFullName())
		return
	}
	if trigger.AuthorIsBot || h.isBot(trigger.Author) {
		_, _ = fmt.Fprint(w, "Comment ignored")
		return
	}

	owner, _, _ := strings.Cut(trigger.RepoFullName, "/")
	repo, err := h.ensureRepository(ctx, trigger.InstallationID, owner, trigger.RepoFullName, "")
	if err != nil {
		h.fail(w, "failed to record repository", err)
		return
	}
	pr := &core.PullRequest{RepositoryID: repo.ID, Number: trigger.PRNumber, Title: trigger.PRTitle, HTMLURL: trigger.PRHTMLURL}
	if err := h.store.UpsertPullRequest(ctx, pr); err != nil {
		h.fail(w, "failed to record pull request", err)
		return
	}

	msg := &core.ChatMessage{
		PullRequestID:   pr.ID,
		Author:          trigger.Author,
		Body:            trigger.Body,
		GitHubCommentID: trigger.CommentID,
		CreatedAt:       trigger.CreatedAt,
	}
	if err := h.store.UpsertChatMessage(ctx, msg); err != nil {
		h.fail(w, "failed to record comment", err)
		return
	}

	if kind, ok := core.ParseFeedbackCommand(trigger.Body); ok {
		h.recordFeedback(ctx, pr.ID, trigger, kind)
	}

	if !core.MentionsBot(trigger.Body, h.cfg.GitHub.BotLogin) {
		_, _ = fmt.Fprint(w, "Comment recorded")
		return
	}

	if err := h.dispatcher.Dispatch(ctx, core.NewChatTask(pr.ID, msg.ID)); err != nil {
		h.logger.Error("failed to dispatch chat job", "error", err, "repo", trigger.RepoFullName, "pr", trigger.PRNumber)
		http.Error(w, "Failed to start chat job", http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("chat job dispatched successfully", "repo", trigger.RepoFullName, "pr", trigger.PRNumber, "chat_message_id", msg.ID)
	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprint(w, "Chat job accepted")
}

func (h *WebhookHandler) recordFeedback(ctx context.Context, pullRequestID int64, trigger *core.CommentTrigger, kind core.FeedbackKind) {
	run, err := h.store.LatestRun(ctx, pullRequestID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Warn("failed to look up run for feedback", "error", err)
		}
		return
	}
	signal := &core.FeedbackSignal{
		ReviewRunID:     run.ID,
		GitHubCommentID: trigger.CommentID,
		Signal:          kind,
		Author:          trigger.Author,
		CreatedAt:       trigger.CreatedAt,
	}
	if err := h.store.SaveFeedback(ctx, signal); err != nil {
		h.logger.Warn("failed to record feedback", "run_id", run.ID, "error", err)
		return
	}
	h.logger.Info("feedback recorded", "run_id", run.ID, "signal", kind, "author", trigger.Author)
}

// ensureRepository makes sure the installation and repository rows exist for
// events that arrive before (or without) an installation event.
func (h *WebhookHandler) ensureRepository(ctx context.Context, installationID int64, account, fullName, defaultBranch string) (*core.Repository, error) {
	repo, err := h.store.GetRepositoryByFullName(ctx, fullName)
	switch {
	case err == nil && repo.IsActive && repo.InstallationID == installationID && (defaultBranch == "" || repo.DefaultBranch == defaultBranch):
		return repo, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	if err := h.store.UpsertInstallation(ctx, &core.Installation{ID: installationID, AccountLogin: account, IsActive: true}); err != nil {
		return nil, err
	}
	repo = &core.Repository{InstallationID: installationID, FullName: fullName, DefaultBranch: defaultBranch, IsActive: true}
	if err := h.store.UpsertRepository(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

func (h *WebhookHandler) isBot(login string) bool {
	bot := strings.TrimSuffix(h.cfg.GitHub.BotLogin, "[bot]")
	return bot != "" && strings.EqualFold(strings.TrimSuffix(login, "[bot]"), bot)
}

func (h *WebhookHandler) ignore(w http.ResponseWriter, err error, repo string) {
	if errors.Is(err, core.ErrIgnoredEvent) {
		h.logger.Debug("ignoring event", "reason", err.Error(), "repo", repo)
		_, _ = fmt.Fprint(w, "Event ignored")
		return
	}
	h.logger.Warn("malformed event", "error", err, "repo", repo)
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (h *WebhookHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	http.Error(w, "Internal error", http.StatusInternalServerError)
}
