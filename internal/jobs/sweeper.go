package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/storage"
)

// Sweeper fails runs that have been queued or running for too long, such as
// runs orphaned by a crashed worker. It does not stop the task itself.
type Sweeper struct {
	store  storage.RunStore
	policy core.StalePolicy
	logger *slog.Logger
}

func NewSweeper(store storage.RunStore, policy core.StalePolicy, logger *slog.Logger) *Sweeper {
	if policy.Queued <= 0 {
		policy.Queued = core.DefaultStalePolicy.Queued
	}
	if policy.Running <= 0 {
		policy.Running = core.DefaultStalePolicy.Running
	}
	return &Sweeper{store: store, policy: policy, logger: logger}
}

// Sweep marks every stale in-flight run failed and returns how many it
// changed.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	runs, err := s.store.ListInFlightRuns(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range runs {
		run := &runs[i]
		limit, stale := run.StaleFor(now, s.policy)
		if !stale {
			continue
		}
		status := run.Status
		if err := run.Fail(now, fmt.Sprintf("marked stale: run stayed %s for more than %s", status, limit)); err != nil {
			continue
		}
		if err := s.store.SaveRun(ctx, run); err != nil {
			return swept, fmt.Errorf("failed to mark run %d stale: %w", run.ID, err)
		}
		s.logger.Warn("marked run stale", "run_id", run.ID, "status", status, "limit", limit)
		swept++
	}
	return swept, nil
}

// Loop sweeps every interval until ctx is cancelled.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx, time.Now()); err != nil {
			s.logger.Error("stale sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
