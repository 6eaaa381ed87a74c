package main

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sevigo/pr-warden/internal/app"
	"github.com/sevigo/pr-warden/internal/storage"
	"github.com/sevigo/pr-warden/internal/wire"
)

const commandTimeout = 30 * time.Second

func initializeToolsCmd() tea.Cmd {
	return func() tea.Msg {
		tools, cleanup, err := wire.InitializeTools(context.Background())
		if err != nil {
			return toolsReadyMsg{err: err}
		}
		return toolsReadyMsg{tools: tools, cleanup: cleanup}
	}
}

func loadRunsCmd(tools *app.Tools, limit int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		runs, err := tools.Store.ListRuns(ctx, limit)
		return runsLoadedMsg{runs: runs, err: err}
	}
}

func showRunCmd(tools *app.Tools, id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		run, err := tools.Store.GetRun(ctx, id)
		if err != nil {
			return runDetailMsg{err: err}
		}
		comment, err := tools.Store.GetReviewComment(ctx, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return runDetailMsg{err: err}
		}
		return runDetailMsg{run: run, comment: comment}
	}
}

func sweepCmd(tools *app.Tools) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		n, err := tools.Sweeper.Sweep(ctx, time.Now())
		return sweptMsg{count: n, err: err}
	}
}
