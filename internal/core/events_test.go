package core

import (
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMentionsBot(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"@pr-warden can you explain this?", true},
		{"hey @PR-Warden please look", true},
		{"@pr-warden[bot] ping", true},
		{"@pr-wardenx not us", false},
		{"@pr-warden-dev please look", false},
		{"@pr-warden_bot please look", false},
		{"@pr-warden, help", true},
		{"thanks @pr-warden", true},
		{"@pr-warden-dev and @pr-warden both", true},
		{"no mention here", false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, MentionsBot(tt.body, "pr-warden"))
		})
	}
	assert.False(t, MentionsBot("@pr-warden", ""))
}

func TestStripMention(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"colon after mention", "@pr-warden: why is this slow?", "why is this slow?"},
		{"comma and spaces", "  @pr-warden ,  explain the retry loop ", "explain the retry loop"},
		{"bot suffix", "@pr-warden[bot] - summarize", "summarize"},
		{"mention only", "@pr-warden", ""},
		{"mention mid sentence", "What do you think @pr-warden?", "What do you think ?"},
		{"other bot left intact", "@pr-warden-dev: ask @pr-warden later", "@pr-warden-dev: ask  later"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMention(tt.body, "pr-warden"))
		})
	}
}

func TestParseFeedbackCommand(t *testing.T) {
	kind, ok := ParseFeedbackCommand("/ai like")
	require.True(t, ok)
	assert.Equal(t, FeedbackLike, kind)

	kind, ok = ParseFeedbackCommand("thanks!\n/AI Dislike because noisy")
	require.True(t, ok)
	assert.Equal(t, FeedbackDislike, kind)

	_, ok = ParseFeedbackCommand("I like /ai")
	assert.False(t, ok)
}

func TestTriggerFromPullRequest(t *testing.T) {
	base := func(action string) *github.PullRequestEvent {
		return &github.PullRequestEvent{
			Action: github.Ptr(action),
			Repo: &github.Repository{
				FullName:      github.Ptr("octo/widgets"),
				DefaultBranch: github.Ptr("main"),
				Owner:         &github.User{Login: github.Ptr("octo")},
			},
			PullRequest: &github.PullRequest{
				Number:  github.Ptr(12),
				Title:   github.Ptr("Add retries"),
				State:   github.Ptr("open"),
				HTMLURL: github.Ptr("https://github.com/octo/widgets/pull/12"),
				Head:    &github.PullRequestBranch{SHA: github.Ptr("deadbeef")},
			},
			Installation: &github.Installation{ID: github.Ptr(int64(99))},
		}
	}

	trigger, err := TriggerFromPullRequest(base("synchronize"))
	require.NoError(t, err)
	assert.Equal(t, "octo/widgets", trigger.RepoFullName)
	assert.Equal(t, 12, trigger.Number)
	assert.Equal(t, "deadbeef", trigger.HeadSHA)
	assert.Equal(t, int64(99), trigger.InstallationID)

	_, err = TriggerFromPullRequest(base("closed"))
	assert.ErrorIs(t, err, ErrIgnoredEvent)

	noSHA := base("opened")
	noSHA.PullRequest.Head = nil
	_, err = TriggerFromPullRequest(noSHA)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIgnoredEvent)
}

func TestTriggerFromIssueComment(t *testing.T) {
	event := &github.IssueCommentEvent{
		Action: github.Ptr("created"),
		Issue: &github.Issue{
			Number:           github.Ptr(5),
			PullRequestLinks: &github.PullRequestLinks{URL: github.Ptr("https://api.github.com/repos/octo/widgets/pulls/5")},
		},
		Comment: &github.IssueComment{
			ID:   github.Ptr(int64(777)),
			Body: github.Ptr("@pr-warden why?"),
			User: &github.User{Login: github.Ptr("alice"), Type: github.Ptr("User")},
		},
		Repo:         &github.Repository{FullName: github.Ptr("octo/widgets")},
		Installation: &github.Installation{ID: github.Ptr(int64(99))},
	}

	trigger, err := TriggerFromIssueComment(event)
	require.NoError(t, err)
	assert.Equal(t, int64(777), trigger.CommentID)
	assert.Equal(t, "alice", trigger.Author)
	assert.False(t, trigger.AuthorIsBot)
	assert.False(t, trigger.CreatedAt.IsZero())

	event.Issue.PullRequestLinks = nil
	_, err = TriggerFromIssueComment(event)
	assert.ErrorIs(t, err, ErrIgnoredEvent)
}
