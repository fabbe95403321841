package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pixie-engine/internal/contextutil"
	"pixie-engine/internal/docstore"
	"pixie-engine/internal/vectorstore"
)

// Record summarizes one reconciliation pass for one owner (or "all").
type Record struct {
	OwnerID       string    `json:"owner_id"`
	OrphanCount   int       `json:"orphan_count"`
	MissingCount  int       `json:"missing_count"`
	RepairedCount int       `json:"repaired_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// Reporter receives reconciliation records. Implementations must not block.
type Reporter interface {
	ReportReconciliation(ctx context.Context, rec Record)
}

// Drift names the documents whose index state disagrees with the docstore.
// Orphans exist only in the index; missing exist only in the docstore.
type Drift struct {
	OwnerID string
	Orphans []string
	Missing []string
}

// Reconciler detects and repairs drift between the docstore and the vector
// index. It reads a snapshot of both id sets and never holds locks that
// query traffic depends on.
type Reconciler struct {
	docs        docstore.DocumentStore
	vectors     vectorstore.VectorStore
	pipeline    *Pipeline
	reporter    Reporter
	parallelism int
}

func NewReconciler(docs docstore.DocumentStore, vectors vectorstore.VectorStore, pipeline *Pipeline, reporter Reporter, parallelism int) *Reconciler {
	if parallelism < 1 {
		parallelism = 4
	}
	return &Reconciler{
		docs:        docs,
		vectors:     vectors,
		pipeline:    pipeline,
		reporter:    reporter,
		parallelism: parallelism,
	}
}

// Reconcile computes the exact set difference between the authoritative id
// set and the indexed id set for one owner. It does not modify anything.
func (r *Reconciler) Reconcile(ctx context.Context, ownerID string) (Drift, error) {
	authoritative, err := r.docs.ListIDs(ctx, ownerID)
	if err != nil {
		return Drift{}, fmt.Errorf("listing authoritative ids for owner %s: %w", ownerID, err)
	}
	indexed, err := r.vectors.ListDocumentIDs(ctx, ownerID)
	if err != nil {
		return Drift{}, fmt.Errorf("listing indexed ids for owner %s: %w", ownerID, err)
	}

	authSet := make(map[string]bool, len(authoritative))
	for _, id := range authoritative {
		authSet[id] = true
	}
	idxSet := make(map[string]bool, len(indexed))
	for _, id := range indexed {
		idxSet[id] = true
	}

	drift := Drift{OwnerID: ownerID}
	for id := range idxSet {
		if !authSet[id] {
			drift.Orphans = append(drift.Orphans, id)
		}
	}
	for id := range authSet {
		if !idxSet[id] {
			drift.Missing = append(drift.Missing, id)
		}
	}
	sort.Strings(drift.Orphans)
	sort.Strings(drift.Missing)
	return drift, nil
}

// Repair deletes orphaned vectors and re-indexes missing documents. A single
// document failure is logged and skipped so one bad record cannot stall the
// rest of the pass. Returns the number of corrections applied.
func (r *Reconciler) Repair(ctx context.Context, drift Drift) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)
	var repaired atomic.Int64

	if len(drift.Orphans) > 0 {
		if err := r.vectors.Delete(ctx, drift.Orphans); err != nil {
			logger.Error("failed to delete orphaned vectors",
				"owner_id", drift.OwnerID, "count", len(drift.Orphans), "error", err)
		} else {
			repaired.Add(int64(len(drift.Orphans)))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, id := range drift.Missing {
		id := id
		g.Go(func() error {
			doc, err := r.docs.Get(gctx, id)
			if err != nil {
				logger.Error("failed to load missing document for repair",
					"document_id", id, "error", err)
				return nil
			}
			if err := r.pipeline.indexDocument(gctx, doc); err != nil {
				logger.Error("failed to re-index missing document",
					"document_id", id, "error", err)
				return nil
			}
			repaired.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(repaired.Load()), err
	}
	return int(repaired.Load()), nil
}

// Run reconciles and repairs a single owner and reports the result.
func (r *Reconciler) Run(ctx context.Context, ownerID string) (Record, error) {
	drift, err := r.Reconcile(ctx, ownerID)
	if err != nil {
		return Record{}, err
	}
	repaired, err := r.Repair(ctx, drift)
	rec := Record{
		OwnerID:       ownerID,
		OrphanCount:   len(drift.Orphans),
		MissingCount:  len(drift.Missing),
		RepairedCount: repaired,
		Timestamp:     time.Now().UTC(),
	}
	if r.reporter != nil {
		r.reporter.ReportReconciliation(ctx, rec)
	}
	return rec, err
}

// RunAll reconciles every known owner, continuing past per-owner failures,
// and reports an aggregate record under owner "all".
func (r *Reconciler) RunAll(ctx context.Context) (Record, error) {
	logger := contextutil.LoggerFromContext(ctx)

	owners, err := r.docs.ListOwners(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("listing owners: %w", err)
	}

	total := Record{OwnerID: "all", Timestamp: time.Now().UTC()}
	for _, owner := range owners {
		rec, err := r.Run(ctx, owner)
		if err != nil {
			logger.Error("reconciliation failed for owner", "owner_id", owner, "error", err)
			continue
		}
		total.OrphanCount += rec.OrphanCount
		total.MissingCount += rec.MissingCount
		total.RepairedCount += rec.RepairedCount
	}
	if r.reporter != nil {
		r.reporter.ReportReconciliation(ctx, total)
	}
	return total, nil
}
