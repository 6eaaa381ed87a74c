package github

import (
	"net"
	"net/http"
	"time"

	"github.com/sevigo/pr-warden/internal/config"
)

// NewHTTPClient returns the client used for every REST call. The connect
// and overall budgets come from config.
func NewHTTPClient(cfg *config.GitHubConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}
	return &http.Client{Transport: transport, Timeout: cfg.RequestTimeout}
}

// DownloadClient shares c's transport but drops the overall timeout, so
// archive downloads are bounded only by their context.
func DownloadClient(c *http.Client) *http.Client {
	return &http.Client{Transport: c.Transport}
}
