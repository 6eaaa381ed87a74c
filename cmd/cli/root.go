package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	githubToken string
)

// Color definitions
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dimColor     = color.New(color.FgHiBlack)
	boldColor    = color.New(color.Bold)
)

var rootCmd = &cobra.Command{
	Use:   "prw",
	Short: "prw is the operator command-line interface for pr-warden.",
	Long: `A CLI for operating pr-warden: probe the review agent, preview a review
for any pull request, inspect and reconcile review runs, and manage the
provider keys reviews are billed to.`,
	SilenceUsage: true,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&githubToken, "github-token", "t", "", "GitHub token used by commands that call the API")

	if err := viper.BindPFlag("GITHUB_TOKEN", rootCmd.PersistentFlags().Lookup("github-token")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
}

// initConfig reads in ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("PRW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// resolveGitHubToken prefers the flag or PRW_GITHUB_TOKEN over the
// configured github.token.
func resolveGitHubToken(configured string) string {
	if tok := strings.TrimSpace(viper.GetString("GITHUB_TOKEN")); tok != "" {
		return tok
	}
	return strings.TrimSpace(configured)
}
