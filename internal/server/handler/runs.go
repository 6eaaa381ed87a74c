package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sevigo/pr-warden/internal/storage"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// StaleSweeper fails runs that stopped making progress.
type StaleSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// RunsHandler serves the recent run list.
type RunsHandler struct {
	store   storage.Store
	sweeper StaleSweeper
	logger  *slog.Logger
}

func NewRunsHandler(store storage.Store, sweeper StaleSweeper, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{store: store, sweeper: sweeper, logger: logger}
}

type runsResponse struct {
	Swept int                   `json:"swept"`
	Runs  []storage.RunOverview `json:"runs"`
}

// List reconciles stale runs and returns the most recent ones, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunLimit)
	}

	resp := runsResponse{Runs: []storage.RunOverview{}}
	if h.sweeper != nil {
		swept, err := h.sweeper.Sweep(r.Context(), time.Now())
		if err != nil {
			h.logger.Warn("stale sweep failed", "error", err)
		}
		resp.Swept = swept
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs != nil {
		resp.Runs = runs
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("failed to write runs response", "error", err)
	}
}
