package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/logger"
)

func newTestTokens(t *testing.T, srv *httptest.Server) *InstallationTokens {
	t.Helper()
	apps, err := newRESTClient(srv.Client(), srv.URL)
	require.NoError(t, err)
	return newInstallationTokens(apps, 3, time.Millisecond, logger.Nop())
}

func TestInstallationTokens_RetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app/installations/7/access_tokens", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"message":"unavailable"}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"token":"ghs_secret","expires_at":"2030-01-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	token, err := newTestTokens(t, srv).Token(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "ghs_secret", token)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInstallationTokens_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Bad credentials"}`)
	}))
	defer srv.Close()

	_, err := newTestTokens(t, srv).Token(context.Background(), 7)
	require.ErrorIs(t, err, ErrTokenExchange)
	assert.NotErrorIs(t, err, ErrTokenEgress)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInstallationTokens_ExhaustedGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestTokens(t, srv).Token(context.Background(), 7)
	require.ErrorIs(t, err, ErrTokenExchange)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInstallationTokens_Egress(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	tokens := newTestTokens(t, srv)
	srv.Close()

	_, err := tokens.Token(context.Background(), 7)
	require.ErrorIs(t, err, ErrTokenEgress)
	assert.Contains(t, err.Error(), "proxy")
}
