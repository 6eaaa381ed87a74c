package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gh "github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sevigo/pr-warden/internal/agent"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/db"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/logger"
	"github.com/sevigo/pr-warden/internal/storage"
	"github.com/sevigo/pr-warden/mocks"
)

type fakeInvoker struct {
	mu   sync.Mutex
	text string
	err  error
	reqs []agent.Request
	// seen runs while the workspace still exists.
	seen func(agent.Request)
}

func (f *fakeInvoker) Invoke(_ context.Context, req agent.Request) (*agent.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.seen != nil {
		f.seen(req)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Result{Text: f.text, Events: 3}, nil
}

func (f *fakeInvoker) last(t *testing.T) agent.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.reqs)
	return f.reqs[len(f.reqs)-1]
}

type env struct {
	store    storage.Store
	pr       *core.PullRequest
	owner    *core.User
	client   *mocks.MockClient
	provider *mocks.MockClientProvider
	invoker  *fakeInvoker
	deps     Deps
}

func testConfig() *config.Config {
	return &config.Config{
		GitHub: config.GitHubConfig{BotLogin: "pr-warden", WebURL: "https://github.com"},
		Agent:  config.AgentConfig{ProviderID: "zai", ProviderEnvVar: "ZAI_API_KEY", Timeout: time.Minute},
		Review: config.ReviewConfig{
			Style:            "default",
			MaxDiffChars:     1000,
			MaxCommentChars:  60000,
			ChatHistoryLimit: 30,
		},
	}
}

func newEnv(t *testing.T, withCredential bool) *env {
	t.Helper()
	conn, cleanup, err := db.NewDatabase(&config.DBConfig{
		Driver: db.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "jobs.db"),
	})
	require.NoError(t, err)
	t.Cleanup(cleanup)
	store := storage.NewStore(conn.DB)
	ctx := context.Background()

	owner := &core.User{GitHubID: 1001, Login: "octo"}
	require.NoError(t, store.UpsertUser(ctx, owner))
	require.NoError(t, store.UpsertInstallation(ctx, &core.Installation{ID: 77, AccountLogin: "octo", OwnerUserID: &owner.ID, IsActive: true}))
	if withCredential {
		require.NoError(t, store.SaveCredential(ctx, &core.ProviderCredential{UserID: owner.ID, Provider: "zai", APIKey: "sk-test"}))
	}
	repo := &core.Repository{InstallationID: 77, FullName: "octo/widgets", DefaultBranch: "main", IsActive: true}
	require.NoError(t, store.UpsertRepository(ctx, repo))
	pr := &core.PullRequest{RepositoryID: repo.ID, Number: 12, Title: "Add retries", HTMLURL: "https://github.com/octo/widgets/pull/12", HeadSHA: "abc123"}
	require.NoError(t, store.UpsertPullRequest(ctx, pr))

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	provider := mocks.NewMockClientProvider(ctrl)
	provider.EXPECT().ForInstallation(gomock.Any(), int64(77)).Return(client, "ghs_token", nil).AnyTimes()

	prompts, err := llm.NewPromptManager()
	require.NoError(t, err)
	inv := &fakeInvoker{}

	return &env{
		store:    store,
		pr:       pr,
		owner:    owner,
		client:   client,
		provider: provider,
		invoker:  inv,
		deps: Deps{
			Config:  testConfig(),
			Store:   store,
			Clients: provider,
			Invoker: inv,
			Prompts: prompts,
			Logger:  logger.Nop(),
		},
	}
}

func (e *env) newRun(t *testing.T) *core.ReviewRun {
	t.Helper()
	run := core.NewReviewRun(e.pr.ID, "abc123", time.Now())
	require.NoError(t, e.store.CreateRun(context.Background(), run))
	return run
}

// expectContext sets up the calls prepare makes when no snapshot builder is
// configured.
func (e *env) expectContext(diff string) {
	e.client.EXPECT().GetPullRequest(gomock.Any(), "octo", "widgets", 12).Return(&gh.PullRequest{
		Number: gh.Ptr(12),
		Title:  gh.Ptr("Add retries"),
		Body:   gh.Ptr("Retries the flaky call."),
		User:   &gh.User{Login: gh.Ptr("alice")},
		Head:   &gh.PullRequestBranch{SHA: gh.Ptr("abc123"), Ref: gh.Ptr("feature")},
		Base:   &gh.PullRequestBranch{Ref: gh.Ptr("main")},
	}, nil)
	e.client.EXPECT().GetPullRequestDiff(gomock.Any(), "octo", "widgets", 12).Return(diff, nil)
	e.client.EXPECT().GetFileText(gomock.Any(), "octo", "widgets", config.RepoConfigFile, "abc123", gomock.Any()).
		Return("style: simple\n", true, nil)
}

func (e *env) expectCheckRun(t *testing.T, conclusion string) {
	e.client.EXPECT().CreateCheckRun(gomock.Any(), "octo", "widgets", gomock.Any()).
		Return(&gh.CheckRun{ID: gh.Ptr(int64(900))}, nil)
	e.client.EXPECT().UpdateCheckRun(gomock.Any(), "octo", "widgets", int64(900), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int64, opts gh.UpdateCheckRunOptions) (*gh.CheckRun, error) {
			assert.Equal(t, conclusion, opts.GetConclusion())
			return &gh.CheckRun{}, nil
		})
}

func TestReviewJob_Success(t *testing.T) {
	e := newEnv(t, true)
	run := e.newRun(t)
	e.invoker.text = "## Review\n\nLooks good."

	e.expectCheckRun(t, "success")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, PlaceholderBody).Return(int64(555), nil)
	e.expectContext("diff --git a/x.go b/x.go\n+retry()\n")
	e.client.EXPECT().UpdateComment(gomock.Any(), "octo", "widgets", int64(555), "## Review\n\nLooks good.").Return(nil)

	job := NewReviewJob(e.deps)
	require.NoError(t, job.Run(context.Background(), core.NewReviewTask(run.ID)))

	got, err := e.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunDone, got.Status)
	assert.Equal(t, "## Review\n\nLooks good.", got.Summary)
	assert.Equal(t, int64(900), got.CheckRunID)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)

	comment, err := e.store.GetReviewComment(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "## Review\n\nLooks good.", comment.Body)
	require.NotNil(t, comment.GitHubCommentID)
	assert.Equal(t, int64(555), *comment.GitHubCommentID)

	req := e.invoker.last(t)
	assert.Equal(t, "sk-test", req.Env["ZAI_API_KEY"])
	assert.NotEmpty(t, req.AuthMaterial)
	var names []string
	for _, a := range req.Attachments {
		names = append(names, filepath.Base(a))
	}
	assert.Contains(t, names, "pr.diff")
	assert.Contains(t, names, "pr.md")
	assert.Contains(t, req.Prompt, "octo/widgets")
}

func TestReviewJob_AgentAuthFailure(t *testing.T) {
	e := newEnv(t, true)
	run := e.newRun(t)
	e.invoker.err = fmt.Errorf("%w (exit=1): status 401 Unauthorized", agent.ErrNoAssistantText)

	e.expectCheckRun(t, "failure")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, PlaceholderBody).Return(int64(555), nil)
	e.expectContext("diff")
	e.client.EXPECT().UpdateComment(gomock.Any(), "octo", "widgets", int64(555), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int64, body string) error {
			assert.Contains(t, body, authFailureMessage)
			assert.NotContains(t, body, "sk-test")
			return nil
		})

	err := NewReviewJob(e.deps).RunReview(context.Background(), run.ID)
	require.Error(t, err)

	got, err := e.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, got.Status)
	assert.Equal(t, authFailureMessage, got.ErrorMessage)

	comment, err := e.store.GetReviewComment(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Contains(t, comment.Body, "could not complete this review")
}

func TestReviewJob_MissingCredential(t *testing.T) {
	e := newEnv(t, false)
	run := e.newRun(t)

	e.expectCheckRun(t, "failure")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, PlaceholderBody).Return(int64(555), nil)
	e.client.EXPECT().UpdateComment(gomock.Any(), "octo", "widgets", int64(555), gomock.Any()).Return(nil)

	err := NewReviewJob(e.deps).RunReview(context.Background(), run.ID)
	require.ErrorIs(t, err, core.ErrMissingCredential)

	got, err := e.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "No API key")
	assert.Empty(t, e.invoker.reqs)
}

func TestReviewJob_PlaceholderFailure(t *testing.T) {
	e := newEnv(t, true)
	run := e.newRun(t)

	e.expectCheckRun(t, "failure")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, PlaceholderBody).Return(int64(0), errors.New("boom"))

	err := NewReviewJob(e.deps).RunReview(context.Background(), run.ID)
	require.Error(t, err)

	got, err := e.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "placeholder")
}

func TestReviewJob_RejectsFinishedRun(t *testing.T) {
	e := newEnv(t, true)
	run := e.newRun(t)
	require.NoError(t, run.Start(time.Now()))
	require.NoError(t, run.Complete(time.Now(), "done"))
	require.NoError(t, e.store.SaveRun(context.Background(), run))

	err := NewReviewJob(e.deps).RunReview(context.Background(), run.ID)
	require.ErrorIs(t, err, core.ErrInvalidTransition)

	got, err := e.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunDone, got.Status)
}

func addMessage(t *testing.T, e *env, author, body string, commentID int64, hidden bool, at time.Time) *core.ChatMessage {
	t.Helper()
	m := &core.ChatMessage{PullRequestID: e.pr.ID, Author: author, Body: body, GitHubCommentID: commentID, IsHidden: hidden, CreatedAt: at}
	require.NoError(t, e.store.UpsertChatMessage(context.Background(), m))
	return m
}

func TestChatJob_Reply(t *testing.T) {
	e := newEnv(t, true)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	addMessage(t, e, "bob", "secret note", 4000, true, base)
	addMessage(t, e, "bob", "first thought", 4001, false, base.Add(time.Minute))
	trigger := addMessage(t, e, "alice", "@pr-warden: why the retry?", 4242, false, base.Add(2*time.Minute))
	e.invoker.text = "Because the call is flaky."

	e.client.EXPECT().AddCommentReaction(gomock.Any(), "octo", "widgets", int64(4242), "eyes").Return(nil)
	e.expectContext("diff")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, "Because the call is flaky.").Return(int64(9001), nil)

	job := NewChatJob(e.deps)
	require.NoError(t, job.Run(context.Background(), core.NewChatTask(e.pr.ID, trigger.ID)))

	req := e.invoker.last(t)
	assert.Contains(t, req.Prompt, "why the retry?")
	assert.Contains(t, req.Prompt, "first thought")
	assert.NotContains(t, req.Prompt, "secret note")
	assert.Contains(t, req.Prompt, noReviewYet)

	msgs, err := e.store.ListChatMessages(context.Background(), e.pr.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	reply := msgs[3]
	assert.Equal(t, "pr-warden", reply.Author)
	assert.Equal(t, int64(9001), reply.GitHubCommentID)
	assert.Equal(t, "Because the call is flaky.", reply.Body)
}

func TestReviewJob_TruncatesLargeDiff(t *testing.T) {
	e := newEnv(t, true)
	e.deps.Config.Review.MaxDiffChars = 160000
	run := e.newRun(t)
	e.invoker.text = "ok"
	diff := strings.Repeat("d", 200000)
	note := "[diff truncated: showing first 160000 of 200000 characters]"

	var attached string
	e.invoker.seen = func(req agent.Request) {
		for _, a := range req.Attachments {
			if filepath.Base(a) == "pr.diff" {
				data, err := os.ReadFile(a)
				require.NoError(t, err)
				attached = string(data)
			}
		}
	}

	e.expectCheckRun(t, "success")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, PlaceholderBody).Return(int64(555), nil)
	e.expectContext(diff)
	e.client.EXPECT().UpdateComment(gomock.Any(), "octo", "widgets", int64(555), "ok").Return(nil)

	require.NoError(t, NewReviewJob(e.deps).RunReview(context.Background(), run.ID))

	assert.Equal(t, strings.Repeat("d", 160000)+"\n"+note+"\n", attached)
	assert.Contains(t, e.invoker.last(t).Prompt, note)
}

func TestReviewJob_PanicEditsPlaceholder(t *testing.T) {
	e := newEnv(t, true)
	run := e.newRun(t)
	e.invoker.seen = func(agent.Request) { panic("boom") }

	e.expectCheckRun(t, "failure")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, PlaceholderBody).Return(int64(555), nil)
	e.expectContext("diff")
	e.client.EXPECT().UpdateComment(gomock.Any(), "octo", "widgets", int64(555), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int64, body string) error {
			assert.Contains(t, body, "could not complete this review")
			assert.Contains(t, body, "review panicked: boom")
			return nil
		})

	err := NewReviewJob(e.deps).RunReview(context.Background(), run.ID)
	require.ErrorContains(t, err, "review panicked: boom")

	got, err := e.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, got.Status)

	comment, err := e.store.GetReviewComment(context.Background(), run.ID)
	require.NoError(t, err)
	assert.NotEqual(t, PlaceholderBody, comment.Body)
}

func TestChatJob_RedeliveryIsIdempotent(t *testing.T) {
	e := newEnv(t, true)
	trigger := addMessage(t, e, "alice", "@pr-warden why?", 4242, false, time.Now())

	e.client.EXPECT().AddCommentReaction(gomock.Any(), "octo", "widgets", int64(4242), "eyes").Return(nil).Times(2)
	e.expectContext("diff")
	e.expectContext("diff")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, gomock.Any()).Return(int64(9001), nil).Times(2)

	job := NewChatJob(e.deps)
	e.invoker.text = "first answer"
	require.NoError(t, job.HandleChat(context.Background(), e.pr.ID, trigger.ID))
	e.invoker.text = "second answer"
	require.NoError(t, job.HandleChat(context.Background(), e.pr.ID, trigger.ID))

	msgs, err := e.store.ListChatMessages(context.Background(), e.pr.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(9001), msgs[1].GitHubCommentID)
	assert.Equal(t, "second answer", msgs[1].Body)
}

func TestChatJob_FailureStoresNothing(t *testing.T) {
	e := newEnv(t, true)
	trigger := addMessage(t, e, "alice", "@pr-warden explain", 4242, false, time.Now())
	e.invoker.err = errors.New("agent crashed")

	e.client.EXPECT().AddCommentReaction(gomock.Any(), "octo", "widgets", int64(4242), "eyes").Return(errors.New("forbidden"))
	e.expectContext("diff")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, _ int, body string) (int64, error) {
			assert.Contains(t, body, "could not complete this reply")
			assert.Contains(t, body, "agent crashed")
			return 9002, nil
		})

	err := NewChatJob(e.deps).HandleChat(context.Background(), e.pr.ID, trigger.ID)
	require.Error(t, err)

	msgs, err := e.store.ListChatMessages(context.Background(), e.pr.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestChatJob_UsesLatestReview(t *testing.T) {
	e := newEnv(t, true)
	run := e.newRun(t)
	require.NoError(t, run.Start(time.Now()))
	require.NoError(t, run.Complete(time.Now(), "Earlier review: consider backoff."))
	require.NoError(t, e.store.SaveRun(context.Background(), run))
	trigger := addMessage(t, e, "alice", "@pr-warden", 4242, false, time.Now())
	e.invoker.text = "ok"

	e.client.EXPECT().AddCommentReaction(gomock.Any(), "octo", "widgets", int64(4242), "eyes").Return(nil)
	e.expectContext("diff")
	e.client.EXPECT().CreateComment(gomock.Any(), "octo", "widgets", 12, "ok").Return(int64(9003), nil)

	require.NoError(t, NewChatJob(e.deps).HandleChat(context.Background(), e.pr.ID, trigger.ID))
	req := e.invoker.last(t)
	assert.Contains(t, req.Prompt, "Earlier review: consider backoff.")
	assert.Contains(t, req.Prompt, noQuestion)
}

func TestTranscript(t *testing.T) {
	msgs := []core.ChatMessage{
		{ID: 1, Body: "a"},
		{ID: 2, Body: "hidden", IsHidden: true},
		{ID: 3, Body: "b"},
		{ID: 4, Body: "c"},
		{ID: 5, Body: "after"},
	}

	tests := []struct {
		name    string
		trigger int64
		limit   int
		want    []int64
	}{
		{"up to trigger", 4, 0, []int64{1, 3, 4}},
		{"limited", 4, 2, []int64{3, 4}},
		{"unknown trigger keeps all", 99, 0, []int64{1, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int64
			for _, m := range Transcript(msgs, tt.trigger, tt.limit) {
				got = append(got, m.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncateDiff(t *testing.T) {
	out, note := truncateDiff("short", 10)
	assert.Equal(t, "short", out)
	assert.Empty(t, note)

	out, note = truncateDiff(strings.Repeat("é", 20), 5)
	assert.Equal(t, "[diff truncated: showing first 5 of 20 characters]", note)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("é", 5)+"\n"))
	assert.True(t, strings.HasSuffix(out, note+"\n"))
}

func TestTruncateComment(t *testing.T) {
	assert.Equal(t, "abc", truncateComment("abc", 10))
	long := strings.Repeat("x", 100)
	got := truncateComment(long, 50)
	assert.Len(t, []rune(got), 50)
	assert.True(t, strings.HasSuffix(got, commentTruncatedNote))
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing credential", core.ErrMissingCredential, "No API key for the AI provider is configured for the owner of this installation. Add one and re-run the review."},
		{"agent error event", &agent.EventError{Message: "Invalid API key"}, authFailureMessage},
		{"agent stderr status", fmt.Errorf("%w (exit=1): HTTP 401 from provider", agent.ErrNoOutput), authFailureMessage},
		{"agent stderr unrelated", fmt.Errorf("%w (exit=2): model overloaded", agent.ErrNoOutput), "opencode produced no output (exit=2): model overloaded"},
		{"pull request numbered 401", errors.New("failed to fetch pull request diff: GET https://api.github.com/repos/o/r/pulls/401: 502 Bad Gateway"),
			"failed to fetch pull request diff: GET https://api.github.com/repos/o/r/pulls/401: 502 Bad Gateway"},
		{"github bad credentials", errors.New("POST https://api.github.com/repos/o/r/issues/12/comments: 401 Bad credentials"),
			"POST https://api.github.com/repos/o/r/issues/12/comments: 401 Bad credentials"},
		{"git authentication", errors.New("git fetch failed: fatal: Authentication failed for 'https://github.com/o/r.git/'"),
			"git fetch failed: fatal: Authentication failed for 'https://github.com/o/r.git/'"},
		{"other", errors.New("timeout after 15m"), "timeout after 15m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFailure(tt.err))
		})
	}
}

func TestSweeper(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	oldQueued := core.NewReviewRun(e.pr.ID, "a", now.Add(-2*time.Hour))
	require.NoError(t, e.store.CreateRun(ctx, oldQueued))
	freshQueued := core.NewReviewRun(e.pr.ID, "b", now.Add(-time.Minute))
	require.NoError(t, e.store.CreateRun(ctx, freshQueued))
	running := core.NewReviewRun(e.pr.ID, "c", now.Add(-4*time.Hour))
	require.NoError(t, e.store.CreateRun(ctx, running))
	require.NoError(t, running.Start(now.Add(-3*time.Hour)))
	require.NoError(t, e.store.SaveRun(ctx, running))

	s := NewSweeper(e.store, core.StalePolicy{}, logger.Nop())
	n, err := s.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := e.store.GetRun(ctx, oldQueued.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, got.Status)
	assert.Equal(t, "marked stale: run stayed queued for more than 1h0m0s", got.ErrorMessage)

	got, err = e.store.GetRun(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, "marked stale: run stayed running for more than 2h0m0s", got.ErrorMessage)

	got, err = e.store.GetRun(ctx, freshQueued.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunQueued, got.Status)

	n, err = s.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}
