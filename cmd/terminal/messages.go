package main

import (
	"github.com/sevigo/pr-warden/internal/app"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/storage"
)

// Indicates that the store and sweeper are ready.
type toolsReadyMsg struct {
	tools   *app.Tools
	cleanup func()
	err     error
}

type runsLoadedMsg struct {
	runs []storage.RunOverview
	err  error
}

// runDetailMsg carries one run and, when the review was posted, its comment.
type runDetailMsg struct {
	run     *core.ReviewRun
	comment *core.ReviewComment
	err     error
}

type sweptMsg struct {
	count int
	err   error
}

// A generic error message for reporting failures from commands.
type errorMsg struct{ err error }

func (e errorMsg) Error() string {
	return e.err.Error()
}
