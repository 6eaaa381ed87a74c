package snapshot

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/gitutil"
	"github.com/sevigo/pr-warden/internal/logger"
)

type zipEntry struct {
	name string
	body string
}

func writeZip(t *testing.T, path string, entries []zipEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if !strings.HasSuffix(e.name, "/") {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

type fakeFetcher struct {
	files map[string]string
	err   error
	got   gitutil.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req gitutil.FetchRequest) error {
	f.got = req
	if f.err != nil {
		return f.err
	}
	for name, body := range f.files {
		path := filepath.Join(req.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			return err
		}
	}
	return nil
}

type fakeArchive struct {
	entries []zipEntry
	err     error
	t       *testing.T
	calls   int
}

func (a *fakeArchive) DownloadZipball(_ context.Context, owner, repo, ref, dest string) error {
	a.calls++
	if a.err != nil {
		return a.err
	}
	assert.Equal(a.t, "octo", owner)
	assert.Equal(a.t, "widgets", repo)
	assert.Equal(a.t, "abc1234", ref)
	writeZip(a.t, dest, a.entries)
	return nil
}

func newBuilder(fetcher Fetcher) *Builder {
	return NewBuilder(config.SnapshotConfig{}, "https://github.com", fetcher, logger.Nop())
}

func TestBuild_EmptyRef(t *testing.T) {
	fetcher := &fakeFetcher{}
	snap := newBuilder(fetcher).Build(context.Background(), Request{Repo: "octo/widgets", Workspace: t.TempDir()})

	assert.Empty(t, snap.Dir)
	assert.Equal(t, SourceNone, snap.Source)
	assert.Contains(t, snap.Summary, "unknown")
	assert.Empty(t, fetcher.got.Dir, "no fetch without a ref")
}

func TestBuild_Disabled(t *testing.T) {
	b := NewBuilder(config.SnapshotConfig{Disabled: true}, "https://github.com", &fakeFetcher{}, logger.Nop())
	snap := b.Build(context.Background(), Request{Repo: "octo/widgets", Ref: "abc1234", Workspace: t.TempDir()})
	assert.Empty(t, snap.Dir)
	assert.Contains(t, snap.Summary, "disabled")
}

func TestBuild_GitSucceeds(t *testing.T) {
	ws := t.TempDir()
	fetcher := &fakeFetcher{files: map[string]string{
		"main.go":             "package main\n",
		"internal/a.go":       "package internal\n",
		"node_modules/x/y.js": "skip me",
	}}
	archive := &fakeArchive{t: t}

	snap := newBuilder(fetcher).Build(context.Background(), Request{
		Repo: "octo/widgets", Ref: "abc1234", Token: "tok", Workspace: ws, Archive: archive,
	})

	assert.Equal(t, SourceGit, snap.Source)
	assert.Equal(t, filepath.Join(ws, "repo"), snap.Dir)
	assert.Equal(t, "internal/a.go\nmain.go\n", snap.Index)
	assert.Equal(t, 2, snap.FileCount)
	assert.Contains(t, snap.Summary, "shallow git fetch")
	assert.Contains(t, snap.Summary, "- Files: 2 (")
	assert.Zero(t, archive.calls)

	assert.Equal(t, "https://github.com/octo/widgets.git", fetcher.got.RemoteURL)
	assert.Equal(t, "tok", fetcher.got.Token)
	assert.Equal(t, ws, fetcher.got.HelperDir)
}

func TestBuild_FallsBackToZipball(t *testing.T) {
	ws := t.TempDir()
	fetcher := &fakeFetcher{err: errors.New("git fetch failed: could not resolve host")}
	archive := &fakeArchive{t: t, entries: []zipEntry{
		{name: "octo-widgets-abc1234/"},
		{name: "octo-widgets-abc1234/README.md", body: "# widgets\n"},
		{name: "octo-widgets-abc1234/cmd/main.go", body: "package main\n"},
		{name: "octo-widgets-abc1234/../../escape.txt", body: "pwned"},
	}}

	snap := newBuilder(fetcher).Build(context.Background(), Request{
		Repo: "octo/widgets", Ref: "abc1234", Workspace: ws, Archive: archive,
	})

	require.Equal(t, SourceZipball, snap.Source)
	assert.Equal(t, "README.md\ncmd/main.go\n", snap.Index)
	assert.Contains(t, snap.Summary, "zipball archive")

	data, err := os.ReadFile(filepath.Join(snap.Dir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# widgets\n", string(data))

	_, err = os.Stat(filepath.Join(filepath.Dir(ws), "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(ws, "repo.zip"))
	assert.True(t, os.IsNotExist(err), "downloaded archive is removed")
}

func TestBuild_BothFail(t *testing.T) {
	ws := t.TempDir()
	fetcher := &fakeFetcher{err: errors.New("git fetch failed")}
	archive := &fakeArchive{t: t, err: errors.New("zipball: 404 Not Found")}

	snap := newBuilder(fetcher).Build(context.Background(), Request{
		Repo: "octo/widgets", Ref: "abc1234", Workspace: ws, Archive: archive,
	})

	assert.Empty(t, snap.Dir)
	assert.Equal(t, SourceNone, snap.Source)
	assert.Contains(t, snap.Summary, "`octo/widgets`")
	assert.Contains(t, snap.Summary, "`abc1234`")
	assert.Contains(t, snap.Summary, "404 Not Found")
	_, err := os.Stat(filepath.Join(ws, "repo"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuild_RepoConfigExcludesDirs(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string]string{
		".prw.yml":             "exclude_dirs:\n  - generated\n  - docs/api\ncustom_instructions:\n  - Prefer table-driven tests.\n",
		"generated/big.pb.go":  "x",
		"docs/api/index.html":  "x",
		"docs/guide.md":        "x",
		"service/handler.go":   "x",
		"service/generated.go": "x",
	}}

	snap := newBuilder(fetcher).Build(context.Background(), Request{Repo: "octo/widgets", Ref: "abc1234", Workspace: t.TempDir()})

	assert.Equal(t, ".prw.yml\ndocs/guide.md\nservice/generated.go\nservice/handler.go\n", snap.Index)
	assert.Equal(t, []string{"Prefer table-driven tests."}, snap.RepoConfig.CustomInstructions)
}

func TestExtract_Budget(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "a.zip")
	writeZip(t, zipPath, []zipEntry{
		{name: "a.txt", body: strings.Repeat("a", 60)},
		{name: "b.txt", body: strings.Repeat("b", 60)},
		{name: "c.txt", body: "c"},
	})

	dest := filepath.Join(dir, "out")
	res, err := Extract(zipPath, dest, 100, logger.Nop())
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, int64(60), res.Bytes)

	_, err = os.Stat(filepath.Join(dest, "a.txt"))
	assert.NoError(t, err, "entries before the budget are kept")
	_, err = os.Stat(filepath.Join(dest, "b.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtract_EscapesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	writeZip(t, zipPath, []zipEntry{
		{name: "ok/inside.txt", body: "fine"},
		{name: "../outside.txt", body: "bad"},
		{name: "ok/../../outside2.txt", body: "bad"},
		{name: "/abs.txt", body: "bad"},
	})

	dest := filepath.Join(dir, "out")
	res, err := Extract(zipPath, dest, 1<<20, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 3, res.Skipped)

	data, err := os.ReadFile(filepath.Join(dest, "ok", "inside.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fine", string(data))
	for _, name := range []string{"outside.txt", "outside2.txt"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}
}

func TestCommonPrefix(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{names: []string{"repo-sha/", "repo-sha/a.go", "repo-sha/b/c.go"}, want: "repo-sha/"},
		{names: []string{"repo-sha/a.go", "other/b.go"}, want: ""},
		{names: []string{"a.go", "b.go"}, want: ""},
		{names: []string{"src/a.go"}, want: "src/"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.names, ","), func(t *testing.T) {
			files := make([]*zip.File, len(tt.names))
			for i, n := range tt.names {
				files[i] = &zip.File{FileHeader: zip.FileHeader{Name: n}}
			}
			assert.Equal(t, tt.want, commonPrefix(files))
		})
	}
}

func TestBuildIndex_Truncates(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, fmt.Sprintf("f%d.txt", i)), []byte("12345"), 0o600))
	}

	idx, err := BuildIndex(root, 3, nil)
	require.NoError(t, err)
	assert.True(t, idx.Truncated)
	assert.Equal(t, 5, idx.FileCount)
	assert.Equal(t, int64(25), idx.TotalBytes)
	assert.Equal(t, "f0.txt\nf1.txt\nf2.txt\n... (truncated after 3 paths)\n", idx.Text)
}

func TestBuild_RealGitFallsBackWhenRemoteMissing(t *testing.T) {
	ws := t.TempDir()
	fetcher := gitutil.NewShallowFetcher(filepath.Join(ws, "missing-git"), 0, logger.Nop())
	archive := &fakeArchive{t: t, entries: []zipEntry{{name: "w/x.go", body: "package x\n"}}}

	snap := newBuilder(fetcher).Build(context.Background(), Request{
		Repo: "octo/widgets", Ref: "abc1234", Workspace: ws, Archive: archive,
	})
	assert.Equal(t, SourceZipball, snap.Source)
	assert.Equal(t, "x.go\n", snap.Index)
}
