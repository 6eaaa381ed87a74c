package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/github"
	"github.com/sevigo/pr-warden/internal/gitutil"
	"github.com/sevigo/pr-warden/internal/jobs"
	"github.com/sevigo/pr-warden/internal/storage"
	"github.com/sevigo/pr-warden/internal/wire"
)

var reviewOpts struct {
	verbose bool
	post    bool
	raw     bool
	apiKey  string
}

var reviewCmd = &cobra.Command{
	Use:   "review [pr-url]",
	Short: "Preview the agent's review for a GitHub Pull Request",
	Long: `Preview the agent's review for a GitHub Pull Request.

The review command fetches the PR diff, builds a snapshot of the head
commit, runs the agent with your provider key and prints the result. No run
is recorded; pass --post to publish the review as a PR comment.

Examples:
  prw review https://github.com/owner/repo/pull/123
  prw review --verbose --post https://github.com/owner/repo/pull/123`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	reviewCmd.Flags().BoolVarP(&reviewOpts.verbose, "verbose", "v", false, "Enable verbose output with timing information")
	reviewCmd.Flags().BoolVar(&reviewOpts.post, "post", false, "Post the review as a comment on the pull request")
	reviewCmd.Flags().BoolVar(&reviewOpts.raw, "raw", false, "Print the markdown without rendering it")
	reviewCmd.Flags().StringVar(&reviewOpts.apiKey, "api-key", "", "Provider API key (defaults to $ZAI_API_KEY)")
	rootCmd.AddCommand(reviewCmd)
}

// stepTimer tracks timing for verbose output
type stepTimer struct {
	stepNum    int
	totalSteps int
	start      time.Time
	verbose    bool
}

func newStepTimer(totalSteps int, verbose bool) *stepTimer {
	return &stepTimer{totalSteps: totalSteps, verbose: verbose}
}

func (t *stepTimer) step(name string) {
	t.stepNum++
	t.start = time.Now()
	if t.verbose {
		titleColor.Printf("\nStep %d/%d: %s...\n", t.stepNum, t.totalSteps, name)
	} else {
		fmt.Printf("%s...\n", name)
	}
}

func (t *stepTimer) done(details ...string) {
	if t.verbose {
		elapsed := time.Since(t.start).Round(time.Millisecond)
		successColor.Printf("   ✓ Done (%s)\n", elapsed)
		for _, d := range details {
			dimColor.Printf("   └── %s\n", d)
		}
	}
}

func (t *stepTimer) info(format string, args ...any) {
	if t.verbose {
		dimColor.Printf("   ├── "+format+"\n", args...)
	}
}

// staticClients hands out one PAT-backed client regardless of installation.
type staticClients struct {
	client github.Client
	token  string
}

func (s staticClients) ForInstallation(context.Context, int64) (github.Client, string, error) {
	return s.client, s.token, nil
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	prURL := args[0]
	steps := 4
	if reviewOpts.post {
		steps++
	}
	timer := newStepTimer(steps, reviewOpts.verbose)
	overallStart := time.Now()

	titleColor.Println("pr-warden review preview")
	dimColor.Printf("   Target: %s\n\n", prURL)

	owner, repoName, prNumber, err := gitutil.ParsePullRequestURL(prURL)
	if err != nil {
		return fmt.Errorf("invalid PR URL: %w\n\nExpected format: https://github.com/owner/repo/pull/123", err)
	}
	apiKey := strings.TrimSpace(reviewOpts.apiKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("ZAI_API_KEY"))
	}
	if apiKey == "" {
		return errors.New("no provider key: pass --api-key or set ZAI_API_KEY")
	}

	// 1. Initialize
	timer.step("Initializing")
	tools, cleanup, err := wire.InitializeTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize tools: %w\n\nTip: Check your .env and PRW_* variables", err)
	}
	defer cleanup()

	token := resolveGitHubToken(tools.Cfg.GitHub.Token)
	if token == "" {
		return errors.New("no GitHub token\n\nTip: pass --github-token or set PRW_GITHUB_TOKEN")
	}
	client, err := github.NewPATClient(ctx, token, tools.Cfg.GitHub.APIURL, tools.Logger,
		github.WithMaxChangedFiles(tools.Cfg.Review.MaxChangedFiles))
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}
	timer.done()

	// 2. Metadata
	timer.step("Fetching PR metadata")
	pr, err := client.GetPullRequest(ctx, owner, repoName, prNumber)
	if err != nil {
		return fmt.Errorf("failed to fetch PR: %w\n\nTip: Check that the PR exists and your token has access", err)
	}
	fullName := owner + "/" + repoName
	repo, err := tools.Store.GetRepositoryByFullName(ctx, fullName)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		repo = &core.Repository{FullName: fullName}
		timer.info("Repository is not installed; no stored rule sets apply")
	case err != nil:
		return err
	}
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = pr.GetBase().GetRepo().GetDefaultBranch()
	}
	timer.info("PR #%d: %s", pr.GetNumber(), pr.GetTitle())
	timer.info("Head SHA: %s", shortSHA(pr.GetHead().GetSHA()))
	timer.done()

	tc := &core.TaskContext{
		Run: &core.ReviewRun{HeadSHA: pr.GetHead().GetSHA()},
		PullRequest: core.PullRequest{
			Number:  prNumber,
			Title:   pr.GetTitle(),
			State:   pr.GetState(),
			HTMLURL: pr.GetHTMLURL(),
			HeadSHA: pr.GetHead().GetSHA(),
		},
		Repository:      *repo,
		Installation:    core.Installation{AccountLogin: owner},
		OwnerCredential: &core.ProviderCredential{Provider: core.ProviderZAI, APIKey: apiKey, IsActive: true},
	}

	// 3. Review
	timer.step("Running the agent")
	job := jobs.NewReviewJob(jobs.Deps{
		Config:   tools.Cfg,
		Store:    tools.Store,
		Clients:  staticClients{client: client, token: token},
		Invoker:  tools.Invoker,
		Snapshot: tools.Snapshot,
		Prompts:  tools.Prompts,
		Logger:   tools.Logger,
	})
	body, err := job.Preview(ctx, tc, client, token)
	if err != nil {
		return fmt.Errorf("review failed: %w", err)
	}
	timer.info("Length: %d characters", len([]rune(body)))
	timer.done()

	// 4. Render
	timer.step("Rendering")
	out := body
	if !reviewOpts.raw {
		out, err = renderMarkdown(body)
		if err != nil {
			warnColor.Printf("   could not render markdown: %v\n", err)
			out = body
		}
	}
	timer.done()

	if reviewOpts.post {
		timer.step("Posting comment")
		if _, err := client.CreateComment(ctx, owner, repoName, prNumber, body); err != nil {
			return fmt.Errorf("failed to post review: %w", err)
		}
		timer.done()
	}

	if reviewOpts.verbose {
		dimColor.Printf("\nTotal time: %s\n", time.Since(overallStart).Round(time.Millisecond))
	}
	fmt.Println()
	boldColor.Println(strings.Repeat("═", 60))
	fmt.Println(out)
	return nil
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
