package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/logger"
)

func newTestClient(t *testing.T, mux *http.ServeMux, opts ...Option) (Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	rest, err := newRESTClient(srv.Client(), srv.URL)
	require.NoError(t, err)
	return NewGitHubClient(rest, logger.Nop(), opts...), srv
}

func isDiffRequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "diff")
}

func TestGetPullRequestDiff_Primary(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/widgets/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, isDiffRequest(r))
		fmt.Fprint(w, "diff --git a/x.go b/x.go\n+hello\n")
	})
	client, _ := newTestClient(t, mux)

	diff, err := client.GetPullRequestDiff(context.Background(), "octo", "widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, "diff --git a/x.go b/x.go\n+hello\n", diff)
}

func TestGetPullRequestDiff_Fallback(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantNote   string
		wantErr    bool
		wantListed bool
	}{
		{name: "406 too large", status: http.StatusNotAcceptable, body: `{"message":"diff too large"}`, wantNote: "(HTTP 406)", wantListed: true},
		{name: "415", status: http.StatusUnsupportedMediaType, body: `{"message":"nope"}`, wantNote: "(HTTP 415)", wantListed: true},
		{name: "422", status: http.StatusUnprocessableEntity, body: `{"message":"nope"}`, wantNote: "(HTTP 422)", wantListed: true},
		{name: "500 on huge diff", status: http.StatusInternalServerError, body: `{"message":"timeout"}`, wantNote: "(HTTP 500)", wantListed: true},
		{name: "json body instead of diff", status: http.StatusOK, body: `{"url":"https://api.github.com/repos/octo/widgets/pulls/7"}`, wantNote: "(HTTP 200)", wantListed: true},
		{name: "404 is a real error", status: http.StatusNotFound, body: `{"message":"Not Found"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listed := false
			mux := http.NewServeMux()
			mux.HandleFunc("/repos/octo/widgets/pulls/7", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			mux.HandleFunc("/repos/octo/widgets/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
				listed = true
				w.Header().Set("Content-Type", "application/json")
				if r.URL.Query().Get("page") == "2" {
					fmt.Fprint(w, `[{"filename":"c.go","status":"removed","patch":"@@ -1 +0,0 @@\n-gone"}]`)
					return
				}
				w.Header().Set("Link", fmt.Sprintf(`<%s/repos/octo/widgets/pulls/7/files?page=2>; rel="next"`, "http://"+r.Host))
				fmt.Fprint(w, `[
					{"filename":"b.go","status":"modified","patch":"@@ -1 +1 @@\n-a\n+b","additions":1,"deletions":1},
					{"filename":"a.png","status":"added","additions":0,"deletions":0}
				]`)
			})
			client, _ := newTestClient(t, mux)

			diff, err := client.GetPullRequestDiff(context.Background(), "octo", "widgets", 7)
			assert.Equal(t, tt.wantListed, listed)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(diff, "# NOTE: unified diff unavailable "+tt.wantNote+"; reconstructed from per-file patches.\n"))
			assert.Equal(t, 3, strings.Count(diff, "diff --git "))

			b := strings.Index(diff, "diff --git a/b.go b/b.go")
			png := strings.Index(diff, "diff --git a/a.png b/a.png")
			c := strings.Index(diff, "diff --git a/c.go b/c.go")
			require.True(t, b >= 0 && png >= 0 && c >= 0, diff)
			assert.Less(t, b, png)
			assert.Less(t, png, c)
			assert.Contains(t, diff, omittedPatch)
			assert.Contains(t, diff, "+++ /dev/null")
		})
	}
}

func TestListChangedFiles_Limit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/widgets/pulls/3/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/octo/widgets/pulls/3/files?page=2>; rel="next"`, "http://"+r.Host))
		fmt.Fprint(w, `[{"filename":"one.go"},{"filename":"two.go"},{"filename":"three.go"}]`)
	})
	client, _ := newTestClient(t, mux)

	files, err := client.ListChangedFiles(context.Background(), "octo", "widgets", 3, 2)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "two.go", files[1].Filename)
}

func TestGetFileText(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		maxBytes int
		wantOK   bool
		wantText string
	}{
		{name: "text file", status: 200, body: `{"type":"file","encoding":"base64","size":12,"content":"aGVsbG8gd29ybGQK"}`, maxBytes: 100, wantOK: true, wantText: "hello world\n"},
		{name: "too large", status: 200, body: `{"type":"file","encoding":"base64","size":12,"content":"aGVsbG8gd29ybGQK"}`, maxBytes: 4},
		{name: "binary with NUL", status: 200, body: `{"type":"file","encoding":"base64","size":5,"content":"AAFiaW4="}`, maxBytes: 100},
		{name: "invalid utf-8", status: 200, body: `{"type":"file","encoding":"base64","size":2,"content":"//4="}`, maxBytes: 100},
		{name: "bad base64", status: 200, body: `{"type":"file","encoding":"base64","size":3,"content":"%%%"}`, maxBytes: 100},
		{name: "symlink", status: 200, body: `{"type":"symlink","target":"x","size":1}`, maxBytes: 100},
		{name: "missing", status: 404, body: `{"message":"Not Found"}`, maxBytes: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/repos/octo/widgets/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "abc123", r.URL.Query().Get("ref"))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			client, _ := newTestClient(t, mux)

			text, ok, err := client.GetFileText(context.Background(), "octo", "widgets", "README.md", "abc123", tt.maxBytes)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func TestCommentsAndReactions(t *testing.T) {
	var reactionStatus int
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 4242}`)
	})
	mux.HandleFunc("/repos/octo/widgets/issues/comments/4242", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		fmt.Fprint(w, `{"id": 4242}`)
	})
	mux.HandleFunc("/repos/octo/widgets/issues/comments/99/reactions", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reactionStatus)
		fmt.Fprint(w, `{"message":"x"}`)
	})
	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	id, err := client.CreateComment(ctx, "octo", "widgets", 7, "placeholder")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), id)
	require.NoError(t, client.UpdateComment(ctx, "octo", "widgets", id, "final"))

	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusConflict, http.StatusUnprocessableEntity} {
		reactionStatus = status
		assert.NoError(t, client.AddCommentReaction(ctx, "octo", "widgets", 99, "eyes"), "status %d", status)
	}
	reactionStatus = http.StatusForbidden
	assert.Error(t, client.AddCommentReaction(ctx, "octo", "widgets", 99, "eyes"))
}

func TestDownloadZipball(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/widgets/zipball/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://"+r.Host+"/codeload/widgets.zip")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/codeload/widgets.zip", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "PK-not-really-a-zip")
	})
	client, _ := newTestClient(t, mux)

	dest := filepath.Join(t.TempDir(), "repo.zip")
	require.NoError(t, client.DownloadZipball(context.Background(), "octo", "widgets", "abc123", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "PK-not-really-a-zip", string(data))
}
