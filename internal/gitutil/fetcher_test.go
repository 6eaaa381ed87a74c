package gitutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/pr-warden/internal/logger"
)

// newSourceRepo creates a repository with two commits and returns its path
// and both commit SHAs.
func newSourceRepo(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	commit := func(name, content string) string {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.Dir(name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
		_, err := wt.Add(name)
		require.NoError(t, err)
		hash, err := wt.Commit("add "+name, &git.CommitOptions{
			Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
		})
		require.NoError(t, err)
		return hash.String()
	}
	first := commit("README.md", "hello\n")
	second := commit("pkg/main.go", "package main\n")
	return dir, first, second
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git CLI not available")
	}
}

func TestShallowFetcher_Fetch(t *testing.T) {
	requireGit(t)
	src, _, head := newSourceRepo(t)

	work := t.TempDir()
	dest := filepath.Join(work, "repo")
	f := NewShallowFetcher("git", 30*time.Second, logger.Nop())

	err := f.Fetch(context.Background(), FetchRequest{
		RemoteURL: src,
		Ref:       head,
		Token:     "unused-for-local",
		Dir:       dest,
		HelperDir: work,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "pkg", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	_, err = os.Stat(filepath.Join(dest, ".git"))
	assert.True(t, os.IsNotExist(err), ".git must be stripped")

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "credential helper must be removed")
}

func TestShallowFetcher_FailureRemovesCheckout(t *testing.T) {
	requireGit(t)
	src, _, _ := newSourceRepo(t)

	work := t.TempDir()
	dest := filepath.Join(work, "repo")
	f := NewShallowFetcher("git", 30*time.Second, logger.Nop())

	err := f.Fetch(context.Background(), FetchRequest{
		RemoteURL: src,
		Ref:       "0123456789abcdef0123456789abcdef01234567",
		Dir:       dest,
		HelperDir: work,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git fetch failed")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestShallowFetcher_MissingBinary(t *testing.T) {
	work := t.TempDir()
	f := NewShallowFetcher(filepath.Join(work, "no-git"), time.Second, logger.Nop())

	err := f.Fetch(context.Background(), FetchRequest{
		RemoteURL: "https://github.com/octo/widgets.git",
		Ref:       "abc1234",
		Dir:       filepath.Join(work, "repo"),
		HelperDir: work,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git init failed")
}

func TestShallowFetcher_RejectsBadInput(t *testing.T) {
	f := NewShallowFetcher("git", time.Second, logger.Nop())
	work := t.TempDir()

	err := f.Fetch(context.Background(), FetchRequest{RemoteURL: "file:///etc", Ref: "abc1234", Dir: filepath.Join(work, "r"), HelperDir: work})
	assert.Error(t, err)

	err = f.Fetch(context.Background(), FetchRequest{RemoteURL: "https://github.com/o/r.git", Dir: filepath.Join(work, "r"), HelperDir: work})
	assert.Error(t, err)
}

func TestHeadSHA(t *testing.T) {
	src, _, head := newSourceRepo(t)
	got, err := HeadSHA(src)
	require.NoError(t, err)
	assert.Equal(t, head, got)

	_, err = HeadSHA(t.TempDir())
	assert.Error(t, err)
}

func TestSubcommand(t *testing.T) {
	assert.Equal(t, "fetch", subcommand([]string{"-c", "credential.helper=", "-c", "x=y", "fetch", "origin"}))
	assert.Equal(t, "init", subcommand([]string{"init"}))
}

func TestIsHex(t *testing.T) {
	assert.True(t, isHex("abc1234"))
	assert.True(t, isHex("0123456789ABCDEF0123456789abcdef01234567"))
	assert.False(t, isHex("main"))
	assert.False(t, isHex("abc"))
}

func TestWriteHelper_ReadsTokenFromEnv(t *testing.T) {
	helper, err := writeHelper(t.TempDir())
	require.NoError(t, err)

	info, err := os.Stat(helper)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	tests := []struct {
		name string
		arg  string
		want string
	}{
		{name: "get", arg: "get", want: "username=x-access-token\npassword=tok-123\n"},
		{name: "store is ignored", arg: "store", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := exec.Command(helper, tt.arg)
			cmd.Env = append(os.Environ(), TokenEnv+"=tok-123")
			out, err := cmd.Output()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}
