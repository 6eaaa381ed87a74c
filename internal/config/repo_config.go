package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sevigo/pr-warden/internal/core"
)

// RepoConfigFile is the per-repository settings file read from snapshots.
const RepoConfigFile = ".prw.yml"

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParsing  = errors.New("config parsing failed")
)

// LoadRepoConfig parses RepoConfigFile under repoPath. A missing file yields
// the defaults together with ErrConfigNotFound.
func LoadRepoConfig(repoPath string) (*core.RepoConfig, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, RepoConfigFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.DefaultRepoConfig(), ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", RepoConfigFile, err)
	}

	return ParseRepoConfig(data)
}

// ParseRepoConfig decodes the contents of a RepoConfigFile.
func ParseRepoConfig(data []byte) (*core.RepoConfig, error) {
	cfg := core.DefaultRepoConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParsing, err)
	}
	switch cfg.Style {
	case "", "default", "simple":
	default:
		return nil, fmt.Errorf("%w: unknown style %q", ErrConfigParsing, cfg.Style)
	}
	return cfg, nil
}
