package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/mtzanidakis/realtymesh/internal/config"
	"github.com/mtzanidakis/realtymesh/internal/natsbus"
)

// Pruner deletes runs older than a cutoff.
type Pruner interface {
	PruneRuns(before time.Time) (int64, error)
}

// Scheduler prunes expired run history on a cron schedule.
type Scheduler struct {
	pruner    Pruner
	events    *natsbus.Client
	expr      string
	retention time.Duration
	now       func() time.Time
}

// New validates the prune schedule. A zero retention disables pruning and
// Start returns immediately.
func New(p Pruner, events *natsbus.Client, cfg config.StoreConfig) (*Scheduler, error) {
	if cfg.Retention > 0 && !gronx.New().IsValid(cfg.PruneSchedule) {
		return nil, fmt.Errorf("invalid prune schedule %q", cfg.PruneSchedule)
	}
	return &Scheduler{
		pruner:    p,
		events:    events,
		expr:      cfg.PruneSchedule,
		retention: cfg.Retention,
		now:       time.Now,
	}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.retention <= 0 {
		slog.Info("run retention disabled, pruner not started")
		return
	}
	slog.Info("run pruner started", "schedule", s.expr, "retention", s.retention)

	for {
		next, err := s.Next(s.now())
		if err != nil {
			slog.Error("failed to compute next prune", "schedule", s.expr, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("run pruner stopped")
			return
		case <-timer.C:
			s.Prune()
		}
	}
}

// Prune deletes runs older than the retention window and reports how many
// were removed.
func (s *Scheduler) Prune() int64 {
	cutoff := s.now().Add(-s.retention)
	n, err := s.pruner.PruneRuns(cutoff)
	if err != nil {
		slog.Error("failed to prune runs", "error", err)
		return 0
	}
	slog.Info("pruned run history", "removed", n, "before", cutoff.UTC().Format(time.RFC3339))

	if s.events != nil {
		_ = s.events.PublishEvent(natsbus.TopicEventsStore, natsbus.NewEvent("runs_pruned", "", map[string]any{
			"removed": n,
			"before":  cutoff.UTC().Format(time.RFC3339),
		}))
	}
	return n
}
