package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	gh "github.com/google/go-github/v68/github"

	"github.com/sevigo/pr-warden/internal/agent"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/llm"
	"github.com/sevigo/pr-warden/internal/snapshot"
	"github.com/sevigo/pr-warden/internal/storage"
	"github.com/sevigo/pr-warden/internal/workspace"
)

const (
	diffFile  = "pr.diff"
	prFile    = "pr.md"
	rulesFile = "rules.md"
	indexFile = "files.txt"

	commentTruncatedNote = "\n\n_[output truncated]_"
	maxRepoConfigBytes   = 64 << 10
)

// SnapshotBuilder materializes the repository for the agent.
type SnapshotBuilder interface {
	Build(ctx context.Context, req snapshot.Request) *snapshot.Snapshot
}

// Deps are the collaborators shared by the review and chat jobs.
type Deps struct {
	Config   *config.Config
	Store    storage.RunStore
	Clients  github.ClientProvider
	Invoker  agent.Invoker
	Snapshot SnapshotBuilder
	Prompts  *llm.PromptManager
	Logger   *slog.Logger
}

// pipeline holds what both jobs do between loading the task context and
// calling the agent.
type pipeline struct {
	Deps
	now func() time.Time
}

func newPipeline(d Deps) pipeline {
	if d.Config == nil || d.Store == nil || d.Clients == nil || d.Invoker == nil || d.Prompts == nil || d.Logger == nil {
		panic("jobs: missing dependency")
	}
	return pipeline{Deps: d, now: time.Now}
}

// prContext is the material gathered for one agent call.
type prContext struct {
	ws          *workspace.Workspace
	workDir     string
	attachments []string
	files       llm.Attachments
	rules       string
	note        string
	hasSnapshot bool
	style       llm.Style
}

// prepare fetches the diff and metadata, builds the snapshot and writes the
// workspace files. The caller must close pc.ws.
func (p *pipeline) prepare(ctx context.Context, tc *core.TaskContext, client github.Client, token, headSHA string) (*prContext, error) {
	repo := &tc.Repository
	owner, name := repo.Owner(), repo.Name()
	number := tc.PullRequest.Number

	pr, err := client.GetPullRequest(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull request metadata: %w", err)
	}
	if sha := pr.GetHead().GetSHA(); sha != "" {
		headSHA = sha
	}

	diff, err := client.GetPullRequestDiff(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull request diff: %w", err)
	}
	diff, note := truncateDiff(diff, p.Config.Review.MaxDiffChars)

	sets, err := p.Store.ActiveRuleSets(ctx, repo.ID)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.New("prw-task")
	if err != nil {
		return nil, err
	}
	pc := &prContext{ws: ws, workDir: ws.Root(), note: note}
	ok := false
	defer func() {
		if !ok {
			ws.Close()
		}
	}()

	var snap *snapshot.Snapshot
	if p.Snapshot != nil {
		snap = p.Snapshot.Build(ctx, snapshot.Request{
			Repo:      repo.FullName,
			Ref:       headSHA,
			Token:     token,
			Workspace: ws.Root(),
			Archive:   client,
		})
	} else {
		snap = &snapshot.Snapshot{Source: snapshot.SourceNone, RepoConfig: core.DefaultRepoConfig()}
	}
	repoCfg := snap.RepoConfig
	if snap.Dir != "" {
		pc.workDir = snap.Dir
		pc.hasSnapshot = true
	} else {
		repoCfg = p.remoteRepoConfig(ctx, client, owner, name, headSHA)
	}

	pc.rules = core.BuildInstructions(sets, repoCfg.CustomInstructions)
	pc.style = llm.Style(p.Config.Review.Style)
	if repoCfg.Style != "" {
		pc.style = llm.Style(repoCfg.Style)
	}

	write := func(rel, content string) (string, error) {
		path, err := ws.WriteFile(rel, []byte(content))
		if err != nil {
			return "", err
		}
		pc.attachments = append(pc.attachments, path)
		return rel, nil
	}
	if pc.files.Diff, err = write(diffFile, diff); err != nil {
		return nil, err
	}
	if pc.files.PR, err = write(prFile, describePullRequest(pr, repo.FullName, headSHA, snap.Summary)); err != nil {
		return nil, err
	}
	if pc.rules != "" {
		if pc.files.Rules, err = write(rulesFile, "# Review rules\n\n"+pc.rules+"\n"); err != nil {
			return nil, err
		}
	}
	if snap.Index != "" {
		if pc.files.Index, err = write(indexFile, snap.Index); err != nil {
			return nil, err
		}
	}

	ok = true
	return pc, nil
}

// remoteRepoConfig reads the repository config through the contents API when
// no snapshot is available. Problems fall back to defaults.
func (p *pipeline) remoteRepoConfig(ctx context.Context, client github.Client, owner, name, ref string) *core.RepoConfig {
	text, ok, err := client.GetFileText(ctx, owner, name, config.RepoConfigFile, ref, maxRepoConfigBytes)
	if err != nil || !ok {
		if err != nil {
			p.Logger.Warn("failed to fetch repository config", "repo", owner+"/"+name, "error", err)
		}
		return core.DefaultRepoConfig()
	}
	cfg, err := config.ParseRepoConfig([]byte(text))
	if err != nil {
		p.Logger.Warn("ignoring invalid repository config", "repo", owner+"/"+name, "error", err)
		return core.DefaultRepoConfig()
	}
	return cfg
}

// invoke runs the agent with the owner's provider key.
func (p *pipeline) invoke(ctx context.Context, cred *core.ProviderCredential, pc *prContext, prompt string) (string, error) {
	agentCfg := p.Config.Agent
	auth, err := agent.AuthMaterial(agentCfg.ProviderID, cred.APIKey)
	if err != nil {
		return "", fmt.Errorf("failed to encode agent credentials: %w", err)
	}
	env := map[string]string{}
	if agentCfg.ProviderEnvVar != "" {
		env[agentCfg.ProviderEnvVar] = cred.APIKey
	}

	res, err := p.Invoker.Invoke(ctx, agent.Request{
		Prompt:       prompt,
		Attachments:  pc.attachments,
		Env:          env,
		WorkDir:      pc.workDir,
		AuthMaterial: auth,
	})
	if err != nil {
		return "", err
	}
	p.Logger.Info("agent answered", "events", res.Events, "duration", res.Duration, "exit_code", res.ExitCode)
	return res.Text, nil
}

func requireCredential(tc *core.TaskContext) (*core.ProviderCredential, error) {
	if tc.OwnerCredential == nil || strings.TrimSpace(tc.OwnerCredential.APIKey) == "" {
		owner := tc.Installation.AccountLogin
		if tc.Owner != nil {
			owner = tc.Owner.Login
		}
		return nil, fmt.Errorf("%w for %s", core.ErrMissingCredential, owner)
	}
	return tc.OwnerCredential, nil
}

// truncateDiff keeps the first limit runes of diff and returns a note
// describing the cut, or "" when nothing was cut.
func truncateDiff(diff string, limit int) (string, string) {
	if limit <= 0 {
		return diff, ""
	}
	runes := []rune(diff)
	if len(runes) <= limit {
		return diff, ""
	}
	note := fmt.Sprintf("[diff truncated: showing first %d of %d characters]", limit, len(runes))
	return string(runes[:limit]) + "\n" + note + "\n", note
}

// truncateComment keeps comment bodies under GitHub's size limit.
func truncateComment(body string, limit int) string {
	if limit <= 0 {
		return body
	}
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	keep := limit - len([]rune(commentTruncatedNote))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + commentTruncatedNote
}

var authFailureMarkers = []string{
	"unauthorized",
	"invalid api key",
	"invalid_api_key",
	"authentication",
	"incorrect api key",
}

// statusTokenRe matches 401 as a standalone status, not inside a path,
// number or identifier.
var statusTokenRe = regexp.MustCompile(`(?:^|[^\w/.-])401(?:$|[^\w/.-])`)

const authFailureMessage = "The AI provider rejected the configured API key. Update the key for your account and re-run the review."

// classifyFailure turns an error into the text shown on the pull request.
// Only failures reported by the agent can mean the provider key was
// rejected; GitHub and git errors are shown as they are.
func classifyFailure(err error) string {
	if errors.Is(err, core.ErrMissingCredential) {
		return "No API key for the AI provider is configured for the owner of this installation. Add one and re-run the review."
	}
	msg := err.Error()
	if fromAgent(err) && providerRejected(msg) {
		return authFailureMessage
	}
	return msg
}

func fromAgent(err error) bool {
	var evErr *agent.EventError
	return errors.As(err, &evErr) ||
		errors.Is(err, agent.ErrNoOutput) ||
		errors.Is(err, agent.ErrNoAssistantText)
}

func providerRejected(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range authFailureMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return statusTokenRe.MatchString(lower)
}

func failureComment(what, reason string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ pr-warden could not complete this %s.\n\n", what)
	fmt.Fprintf(&sb, "**Reason:** %s\n\n", reason)
	sb.WriteString("Troubleshooting:\n")
	sb.WriteString("- Check that an AI provider API key is configured for the installation owner.\n")
	sb.WriteString("- Push a new commit or reopen the pull request to trigger a fresh review.\n")
	sb.WriteString("- Ask the server operator to check the logs if the problem persists.\n")
	return sb.String()
}

// describePullRequest renders pr.md.
func describePullRequest(pr *gh.PullRequest, fullName, headSHA, snapshotSummary string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", pr.GetTitle())
	fmt.Fprintf(&sb, "- Repository: %s\n", fullName)
	fmt.Fprintf(&sb, "- Pull request: #%d (%s)\n", pr.GetNumber(), pr.GetHTMLURL())
	fmt.Fprintf(&sb, "- Author: @%s\n", pr.GetUser().GetLogin())
	fmt.Fprintf(&sb, "- Branches: %s → %s\n", pr.GetHead().GetRef(), pr.GetBase().GetRef())
	fmt.Fprintf(&sb, "- Head commit: %s\n", headSHA)
	fmt.Fprintf(&sb, "- Changes: %s files, +%s/-%s lines\n",
		humanize.Comma(int64(pr.GetChangedFiles())),
		humanize.Comma(int64(pr.GetAdditions())),
		humanize.Comma(int64(pr.GetDeletions())))

	sb.WriteString("\n## Description\n\n")
	if body := strings.TrimSpace(pr.GetBody()); body != "" {
		sb.WriteString(body)
		sb.WriteString("\n")
	} else {
		sb.WriteString("_No description provided._\n")
	}
	if snapshotSummary != "" {
		sb.WriteString("\n")
		sb.WriteString(snapshotSummary)
	}
	return sb.String()
}
