package gitutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var prURLRegex = regexp.MustCompile(`^(?:https?://)?[^/]+/([^/]+)/([^/]+)/pull/(\d+)$`)

// ParsePullRequestURL parses a pull request URL and extracts the owner, repo, and PR number.
// Supported format: https://<host>/{owner}/{repo}/pull/{number}
func ParsePullRequestURL(url string) (owner, repo string, prNumber int, err error) {
	url = strings.TrimSuffix(url, "/")

	matches := prURLRegex.FindStringSubmatch(url)
	if len(matches) != 4 {
		return "", "", 0, fmt.Errorf("invalid pull request URL format: %s", url)
	}

	prNumber, err = strconv.Atoi(matches[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid PR number '%s': %w", matches[3], err)
	}
	return matches[1], matches[2], prNumber, nil
}

// RemoteURL builds the HTTPS clone URL for "owner/name" on webURL.
func RemoteURL(webURL, fullName string) string {
	return strings.TrimSuffix(webURL, "/") + "/" + strings.Trim(fullName, "/") + ".git"
}

// validateRemote accepts http(s) URLs without embedded credentials and local
// paths. Other schemes are rejected.
func validateRemote(remote string) error {
	if remote == "" {
		return fmt.Errorf("empty remote URL")
	}
	if !strings.Contains(remote, "://") {
		return nil
	}
	u, err := url.Parse(remote)
	if err != nil {
		return fmt.Errorf("failed to parse remote URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported remote URL scheme %q", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("remote URL must not embed credentials")
	}
	return nil
}
