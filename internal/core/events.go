// Package core defines the domain types and interfaces shared by the webhook
// intake, the orchestrator and the storage layer.
package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
)

// ErrIgnoredEvent marks webhook payloads that are valid but need no work.
var ErrIgnoredEvent = errors.New("event ignored")

var reviewableActions = map[string]bool{
	"opened":           true,
	"reopened":         true,
	"synchronize":      true,
	"ready_for_review": true,
}

// PullRequestTrigger is the internal view of a pull_request webhook that
// should start a review.
type PullRequestTrigger struct {
	Action         string
	InstallationID int64
	AccountLogin   string
	RepoFullName   string
	DefaultBranch  string
	Number         int
	Title          string
	State          string
	HTMLURL        string
	HeadSHA        string
	Draft          bool
}

// TriggerFromPullRequest validates a pull_request event and converts it.
func TriggerFromPullRequest(event *github.PullRequestEvent) (*PullRequestTrigger, error) {
	action := event.GetAction()
	if !reviewableActions[action] {
		return nil, fmt.Errorf("%w: pull_request action %q", ErrIgnoredEvent, action)
	}

	repo := event.GetRepo()
	if repo == nil || repo.GetFullName() == "" {
		return nil, errors.New("repository information is missing from the event")
	}
	pr := event.GetPullRequest()
	if pr == nil || pr.GetNumber() <= 0 {
		return nil, errors.New("pull request information is missing from the event")
	}
	if pr.GetHead().GetSHA() == "" {
		return nil, errors.New("head SHA is missing from the event")
	}
	if event.GetInstallation().GetID() == 0 {
		return nil, errors.New("installation ID is missing from the event")
	}

	return &PullRequestTrigger{
		Action:         action,
		InstallationID: event.GetInstallation().GetID(),
		AccountLogin:   repo.GetOwner().GetLogin(),
		RepoFullName:   repo.GetFullName(),
		DefaultBranch:  repo.GetDefaultBranch(),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		State:          pr.GetState(),
		HTMLURL:        pr.GetHTMLURL(),
		HeadSHA:        pr.GetHead().GetSHA(),
		Draft:          pr.GetDraft(),
	}, nil
}

// CommentTrigger is the internal view of a new comment on a pull request.
type CommentTrigger struct {
	InstallationID int64
	RepoFullName   string
	PRNumber       int
	PRTitle        string
	PRHTMLURL      string
	CommentID      int64
	Author         string
	AuthorIsBot    bool
	Body           string
	CreatedAt      time.Time
}

// TriggerFromIssueComment accepts only newly created comments on pull
// requests.
func TriggerFromIssueComment(event *github.IssueCommentEvent) (*CommentTrigger, error) {
	if event.GetAction() != "created" {
		return nil, fmt.Errorf("%w: issue_comment action %q", ErrIgnoredEvent, event.GetAction())
	}
	if !event.GetIssue().IsPullRequest() {
		return nil, fmt.Errorf("%w: comment is not on a pull request", ErrIgnoredEvent)
	}

	repo := event.GetRepo()
	if repo == nil || repo.GetFullName() == "" {
		return nil, errors.New("repository information is missing from the event")
	}
	comment := event.GetComment()
	if comment == nil || comment.GetID() == 0 {
		return nil, errors.New("comment information is missing from the event")
	}
	if comment.GetUser().GetLogin() == "" {
		return nil, errors.New("commenter information is missing from the event")
	}
	if event.GetInstallation().GetID() == 0 {
		return nil, errors.New("installation ID is missing from the event")
	}

	created := comment.GetCreatedAt().Time
	if created.IsZero() {
		created = time.Now()
	}

	return &CommentTrigger{
		InstallationID: event.GetInstallation().GetID(),
		RepoFullName:   repo.GetFullName(),
		PRNumber:       event.GetIssue().GetNumber(),
		PRTitle:        event.GetIssue().GetTitle(),
		PRHTMLURL:      event.GetIssue().GetHTMLURL(),
		CommentID:      comment.GetID(),
		Author:         comment.GetUser().GetLogin(),
		AuthorIsBot:    comment.GetUser().GetType() == "Bot",
		Body:           comment.GetBody(),
		CreatedAt:      created.UTC(),
	}, nil
}

// mentionPattern matches @login or @login[bot]. The character after the
// login is captured so @login-dev is not taken for @login.
func mentionPattern(login string) *regexp.Regexp {
	login = strings.TrimSuffix(login, "[bot]")
	return regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(login) + `(?:\[bot\])?([^\w-]|$)`)
}

// MentionsBot reports whether body addresses the bot by @login.
func MentionsBot(body, login string) bool {
	if login == "" {
		return false
	}
	return mentionPattern(login).MatchString(body)
}

// StripMention removes @login mentions and any punctuation that followed the
// leading mention, leaving the question text.
func StripMention(body, login string) string {
	if login != "" {
		body = mentionPattern(login).ReplaceAllString(body, "${1}")
	}
	return strings.TrimLeft(strings.TrimSpace(body), " \t\r\n:,.;!-")
}

var feedbackPattern = regexp.MustCompile(`(?im)^\s*/ai\s+(like|dislike|ignore)\b`)

// ParseFeedbackCommand extracts an "/ai like|dislike|ignore" command.
func ParseFeedbackCommand(body string) (FeedbackKind, bool) {
	m := feedbackPattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return FeedbackKind(strings.ToLower(m[1])), true
}
