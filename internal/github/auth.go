package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/sevigo/pr-warden/internal/config"
)

var (
	// ErrTokenEgress means GitHub could not be reached at all.
	ErrTokenEgress = errors.New("could not reach GitHub to create an installation token; check outbound network access, proxy, firewall and DNS settings")
	// ErrTokenExchange means GitHub answered but refused the token request.
	ErrTokenExchange = errors.New("failed to exchange the app JWT for an installation token")
)

// InstallationTokens exchanges the app's JWT for installation access tokens.
type InstallationTokens struct {
	apps     *github.Client
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewInstallationTokens reads the app's private key and prepares a JWT-signed
// client for the token endpoint.
func NewInstallationTokens(cfg *config.GitHubConfig, httpClient *http.Client, logger *slog.Logger) (*InstallationTokens, error) {
	privateKey, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.PrivateKeyPath, err)
	}

	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	appTransport, err := ghinstallation.NewAppsTransport(base, cfg.AppID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}
	if cfg.APIURL != "" {
		appTransport.BaseURL = strings.TrimSuffix(cfg.APIURL, "/")
	}

	apps, err := newRESTClient(&http.Client{Transport: appTransport, Timeout: httpClient.Timeout}, cfg.APIURL)
	if err != nil {
		return nil, err
	}
	return newInstallationTokens(apps, cfg.TokenAttempts, cfg.TokenBackoff, logger), nil
}

func newInstallationTokens(apps *github.Client, attempts int, backoff time.Duration, logger *slog.Logger) *InstallationTokens {
	if attempts < 1 {
		attempts = 1
	}
	return &InstallationTokens{apps: apps, attempts: attempts, backoff: backoff, logger: logger}
}

// Token returns a fresh installation token. Gateway errors and network
// failures are retried with doubling backoff; other HTTP errors are not.
func (t *InstallationTokens) Token(ctx context.Context, installationID int64) (string, error) {
	var (
		lastErr error
		network bool
	)
	for attempt := 1; attempt <= t.attempts; attempt++ {
		token, _, err := t.apps.Apps.CreateInstallationToken(ctx, installationID, nil)
		if err == nil {
			if token.GetToken() == "" {
				return "", fmt.Errorf("%w: received an empty installation token", ErrTokenExchange)
			}
			t.logger.Info("created installation token", "installation_id", installationID, "expires_at", token.GetExpiresAt())
			return token.GetToken(), nil
		}

		lastErr = err
		var retry bool
		retry, network = classifyTokenError(ctx, err)
		if !retry || attempt == t.attempts {
			break
		}

		wait := t.backoff << (attempt - 1)
		t.logger.Warn("installation token request failed, retrying",
			"installation_id", installationID, "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrTokenExchange, ctx.Err())
		case <-time.After(wait):
		}
	}

	if network {
		return "", fmt.Errorf("%w (installation %d): %w", ErrTokenEgress, installationID, lastErr)
	}
	return "", fmt.Errorf("%w (installation %d): %w", ErrTokenExchange, installationID, lastErr)
}

// classifyTokenError reports whether err is worth retrying and whether it
// happened below HTTP.
func classifyTokenError(ctx context.Context, err error) (retry, network bool) {
	if ctx.Err() != nil {
		return false, false
	}
	switch statusCode(err) {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, false
	case 0:
	default:
		return false, false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, true
	}
	return false, false
}

// ClientProvider hands out clients authenticated as an app installation.
//
//go:generate mockgen -destination=../../mocks/mock_client_provider.go -package=mocks . ClientProvider
type ClientProvider interface {
	// ForInstallation returns a client and the raw token, which git also
	// needs for fetching over HTTPS.
	ForInstallation(ctx context.Context, installationID int64) (Client, string, error)
}

type appClientProvider struct {
	tokens     *InstallationTokens
	httpClient *http.Client
	apiURL     string
	opts       []Option
	logger     *slog.Logger
}

// NewClientProvider creates the installation client factory used by jobs.
func NewClientProvider(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (ClientProvider, error) {
	tokens, err := NewInstallationTokens(&cfg.GitHub, httpClient, logger)
	if err != nil {
		return nil, err
	}
	return &appClientProvider{
		tokens:     tokens,
		httpClient: httpClient,
		apiURL:     cfg.GitHub.APIURL,
		opts: []Option{
			WithMaxChangedFiles(cfg.Review.MaxChangedFiles),
			WithDownloadClient(DownloadClient(httpClient)),
		},
		logger: logger,
	}, nil
}

// ForInstallation creates a GitHub client that is authenticated as a specific application installation.
func (p *appClientProvider) ForInstallation(ctx context.Context, installationID int64) (Client, string, error) {
	token, err := p.tokens.Token(ctx, installationID)
	if err != nil {
		return nil, "", err
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient), ts)
	tc.Timeout = p.httpClient.Timeout

	client, err := newRESTClient(tc, p.apiURL)
	if err != nil {
		return nil, "", err
	}
	return NewGitHubClient(client, p.logger, p.opts...), token, nil
}
