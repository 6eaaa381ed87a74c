// Package config loads pr-warden's configuration from defaults, an optional
// config.yaml, an optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/pr-warden/internal/logger"
)

const envPrefix = "PRW"

// Config holds the application's configuration values.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Database DBConfig       `mapstructure:"database"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Review   ReviewConfig   `mapstructure:"review"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logging  logger.Config  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GitHubConfig covers the GitHub App identity and the REST client budgets.
type GitHubConfig struct {
	AppID          int64         `mapstructure:"app_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	WebhookSecret  string        `mapstructure:"webhook_secret"`
	APIURL         string        `mapstructure:"api_url"`
	WebURL         string        `mapstructure:"web_url"`
	BotLogin       string        `mapstructure:"bot_login"`
	Token          string        `mapstructure:"token"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenAttempts  int           `mapstructure:"token_attempts"`
	TokenBackoff   time.Duration `mapstructure:"token_backoff"`
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AgentConfig controls how the opencode subprocess is launched.
type AgentConfig struct {
	Binary         string        `mapstructure:"binary"`
	Model          string        `mapstructure:"model"`
	Agent          string        `mapstructure:"agent"`
	ProviderID     string        `mapstructure:"provider_id"`
	ProviderEnvVar string        `mapstructure:"provider_env_var"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type ReviewConfig struct {
	Style            string `mapstructure:"style"`
	MaxDiffChars     int    `mapstructure:"max_diff_chars"`
	MaxCommentChars  int    `mapstructure:"max_comment_chars"`
	ChatHistoryLimit int    `mapstructure:"chat_history_limit"`
	MaxChangedFiles  int    `mapstructure:"max_changed_files"`
	ReviewDrafts     bool   `mapstructure:"review_drafts"`
}

type SnapshotConfig struct {
	Disabled        bool          `mapstructure:"disabled"`
	GitBinary       string        `mapstructure:"git_binary"`
	GitTimeout      time.Duration `mapstructure:"git_timeout"`
	ArchiveTimeout  time.Duration `mapstructure:"archive_timeout"`
	MaxArchiveBytes int64         `mapstructure:"max_archive_bytes"`
	MaxIndexPaths   int           `mapstructure:"max_index_paths"`
}

type WorkerConfig struct {
	MaxWorkers    int           `mapstructure:"max_workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	StaleQueued   time.Duration `mapstructure:"stale_queued"`
	StaleRunning  time.Duration `mapstructure:"stale_running"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// envAliases maps config keys to the unprefixed variable names operators
// already use for GitHub Apps and opencode.
var envAliases = map[string]string{
	"github.app_id":           "GITHUB_APP_ID",
	"github.private_key_path": "GITHUB_PRIVATE_KEY_PATH",
	"github.webhook_secret":   "GITHUB_WEBHOOK_SECRET",
	"github.token":            "GITHUB_TOKEN",
	"database.url":            "DATABASE_URL",
	"agent.binary":            "OPENCODE_BIN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("github.app_id", 0)
	v.SetDefault("github.private_key_path", "keys/pr-warden.private-key.pem")
	v.SetDefault("github.webhook_secret", "")
	v.SetDefault("github.api_url", "https://api.github.com/")
	v.SetDefault("github.web_url", "https://github.com")
	v.SetDefault("github.bot_login", "pr-warden")
	v.SetDefault("github.token", "")
	v.SetDefault("github.connect_timeout", 5*time.Second)
	v.SetDefault("github.request_timeout", 30*time.Second)
	v.SetDefault("github.token_attempts", 3)
	v.SetDefault("github.token_backoff", 500*time.Millisecond)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "warden")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "pr_warden")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "pr-warden.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("agent.binary", "")
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.agent", "")
	v.SetDefault("agent.provider_id", "zai")
	v.SetDefault("agent.provider_env_var", "ZAI_API_KEY")
	v.SetDefault("agent.timeout", 900*time.Second)

	v.SetDefault("review.style", "default")
	v.SetDefault("review.max_diff_chars", 160000)
	v.SetDefault("review.max_comment_chars", 60000)
	v.SetDefault("review.chat_history_limit", 30)
	v.SetDefault("review.max_changed_files", 3000)
	v.SetDefault("review.review_drafts", false)

	v.SetDefault("snapshot.disabled", false)
	v.SetDefault("snapshot.git_binary", "git")
	v.SetDefault("snapshot.git_timeout", 2*time.Minute)
	v.SetDefault("snapshot.archive_timeout", 3*time.Minute)
	v.SetDefault("snapshot.max_archive_bytes", int64(512<<20))
	v.SetDefault("snapshot.max_index_paths", 8000)

	v.SetDefault("worker.max_workers", 4)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.stale_queued", time.Hour)
	v.SetDefault("worker.stale_running", 2*time.Hour)
	v.SetDefault("worker.sweep_interval", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "")
}

// LoadConfig reads config.yaml (from . or $HOME/.pr-warden), .env and the
// environment, then validates the result for the server.
func LoadConfig() (*Config, error) {
	cfg, err := Load(viper.New(), ".env")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load populates cfg from v without validating. dotEnvPath may be empty.
func Load(v *viper.Viper, dotEnvPath string) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.pr-warden")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range envAliases {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}

	if dotEnvPath != "" {
		if err := applyDotEnv(v, dotEnvPath); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

// applyDotEnv copies values from a .env file for keys the real environment
// does not already set.
func applyDotEnv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	for _, key := range v.AllKeys() {
		names := []string{envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if alias, ok := envAliases[key]; ok {
			names = append(names, alias)
		}
		for _, name := range names {
			if _, set := os.LookupEnv(name); set {
				break
			}
			if val := env.GetString(strings.ToLower(name)); val != "" {
				v.Set(key, val)
				break
			}
		}
	}
	return nil
}

// Validate checks everything the webhook server needs.
func (c *Config) Validate() error {
	if c.GitHub.AppID == 0 {
		return errors.New("GITHUB_APP_ID must be set")
	}
	if c.GitHub.WebhookSecret == "" {
		return errors.New("GITHUB_WEBHOOK_SECRET must be set")
	}
	if c.GitHub.PrivateKeyPath == "" {
		return errors.New("GITHUB_PRIVATE_KEY_PATH must be set")
	}
	if c.GitHub.BotLogin == "" {
		return errors.New("github.bot_login must be set")
	}
	if _, err := url.Parse(c.GitHub.APIURL); err != nil {
		return fmt.Errorf("invalid github.api_url: %w", err)
	}
	if c.Worker.MaxWorkers <= 0 {
		return fmt.Errorf("worker.max_workers must be positive, got %d", c.Worker.MaxWorkers)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be positive, got %d", c.Worker.QueueSize)
	}
	if c.GitHub.TokenAttempts < 1 {
		return fmt.Errorf("github.token_attempts must be at least 1, got %d", c.GitHub.TokenAttempts)
	}
	return c.ValidateForCLI()
}

// ValidateForCLI checks the subset needed by the operator tools, which never
// receive webhooks.
func (c *Config) ValidateForCLI() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q (expected postgres or sqlite)", c.Database.Driver)
	}
	switch c.Review.Style {
	case "default", "simple":
	default:
		return fmt.Errorf("unsupported review.style %q (expected default or simple)", c.Review.Style)
	}
	if c.Review.MaxDiffChars <= 0 {
		return fmt.Errorf("review.max_diff_chars must be positive, got %d", c.Review.MaxDiffChars)
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive, got %s", c.Agent.Timeout)
	}
	return nil
}

// DSN returns the driver-specific data source name.
func (d DBConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Driver == "sqlite" {
		return d.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
}
