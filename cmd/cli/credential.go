package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/storage"
	"github.com/sevigo/pr-warden/internal/wire"
)

var credOpts struct {
	login    string
	githubID int64
	apiKey   string
	provider string
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage the provider keys reviews run with",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a new active provider key for a GitHub user",
	Long: `Store a new active provider key for a GitHub user. Any previous key for
the same provider is deactivated.

Examples:
  prw credential set --login octocat --api-key sk-...
  ZAI_API_KEY=sk-... prw credential set --login octocat --github-id 583231`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		login := strings.TrimSpace(credOpts.login)
		if login == "" {
			return errors.New("--login is required")
		}
		key := strings.TrimSpace(credOpts.apiKey)
		if key == "" {
			key = strings.TrimSpace(os.Getenv("ZAI_API_KEY"))
		}
		if key == "" {
			return errors.New("no API key: pass --api-key or set ZAI_API_KEY")
		}

		tools, cleanup, err := wire.InitializeTools(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize tools: %w", err)
		}
		defer cleanup()

		user, err := tools.Store.GetUserByLogin(ctx, login)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if credOpts.githubID == 0 {
				return fmt.Errorf("user %s is not known yet; pass --github-id to create it", login)
			}
			user = &core.User{GitHubID: credOpts.githubID, Login: login}
			if err := tools.Store.UpsertUser(ctx, user); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		cred := &core.ProviderCredential{
			UserID:   user.ID,
			Provider: credOpts.provider,
			APIKey:   key,
			IsActive: true,
		}
		if err := tools.Store.SaveCredential(ctx, cred); err != nil {
			return fmt.Errorf("failed to save credential: %w", err)
		}
		successColor.Printf("Stored %s key for %s.\n", cred.Provider, user.Login)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	credentialSetCmd.Flags().StringVar(&credOpts.login, "login", "", "GitHub login of the key owner")
	credentialSetCmd.Flags().Int64Var(&credOpts.githubID, "github-id", 0, "GitHub user ID, needed when the user is not known yet")
	credentialSetCmd.Flags().StringVar(&credOpts.apiKey, "api-key", "", "Provider API key (defaults to $ZAI_API_KEY)")
	credentialSetCmd.Flags().StringVar(&credOpts.provider, "provider", core.ProviderZAI, "Provider the key belongs to")
	credentialCmd.AddCommand(credentialSetCmd)
	rootCmd.AddCommand(credentialCmd)
}
