// Package telemetry emits routing and reconciliation records as structured
// logs. It is the default sink for the Metrics and Reporter boundaries; a
// metrics backend can replace it without touching the callers.
package telemetry

import (
	"context"
	"log/slog"

	"pixie-engine/internal/ingest"
	"pixie-engine/internal/router"
)

// LogSink writes telemetry records to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// RecordRouting implements router.Metrics.
func (s *LogSink) RecordRouting(ctx context.Context, dec router.Decision, res router.Result, err error) {
	attrs := []any{
		"tier_used", string(res.TierUsed),
		"complexity_score", dec.ComplexityScore,
		"latency_ms", res.LatencyMS,
		"retry_count", res.RetryCount,
		"fallback_used", res.FallbackUsed,
		"budget_state", dec.BudgetState,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		s.logger.WarnContext(ctx, "routing telemetry", attrs...)
		return
	}
	s.logger.InfoContext(ctx, "routing telemetry", attrs...)
}

// ReportReconciliation implements ingest.Reporter.
func (s *LogSink) ReportReconciliation(ctx context.Context, rec ingest.Record) {
	s.logger.InfoContext(ctx, "reconciliation report",
		"owner_id", rec.OwnerID,
		"orphan_count", rec.OrphanCount,
		"missing_count", rec.MissingCount,
		"repaired_count", rec.RepairedCount,
		"timestamp", rec.Timestamp,
	)
}
