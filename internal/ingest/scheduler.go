package ingest

import (
	"context"
	"time"

	"pixie-engine/internal/contextutil"
)

// Scheduler runs full reconciliation passes on a fixed interval in the
// background, independent of request traffic.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
}

func NewScheduler(reconciler *Reconciler, interval time.Duration) *Scheduler {
	return &Scheduler{reconciler: reconciler, interval: interval}
}

// Start blocks until the context is canceled, running one pass per interval.
// Callers run it in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	logger := contextutil.LoggerFromContext(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("reconciliation scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			rec, err := s.reconciler.RunAll(ctx)
			if err != nil {
				logger.Error("scheduled reconciliation failed", "error", err)
				continue
			}
			logger.Info("scheduled reconciliation complete",
				"orphans", rec.OrphanCount,
				"missing", rec.MissingCount,
				"repaired", rec.RepairedCount)
		}
	}
}
