package ingest

import (
	"context"
	"fmt"

	"pixie-engine/internal/contextutil"
	"pixie-engine/internal/docstore"
	"pixie-engine/internal/embedding"
	"pixie-engine/internal/vectorstore"
)

// Pipeline moves documents from the system of record into the vector index.
// The docstore write is the authoritative step; the index write derives from
// whatever version the docstore assigned.
type Pipeline struct {
	docs    docstore.DocumentStore
	embed   embedding.Embedder
	vectors vectorstore.VectorStore
}

func NewPipeline(docs docstore.DocumentStore, embed embedding.Embedder, vectors vectorstore.VectorStore) *Pipeline {
	return &Pipeline{docs: docs, embed: embed, vectors: vectors}
}

// IngestDocument stores the document and upserts its embedding. Re-ingesting
// identical content is idempotent: the version does not change and the point
// overwrites itself in place.
func (p *Pipeline) IngestDocument(ctx context.Context, doc *docstore.Document) (*docstore.Document, error) {
	stored, err := p.docs.Put(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("storing document %s: %w", doc.ID, err)
	}
	if err := p.indexDocument(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// indexDocument embeds a stored document and upserts it into the vector
// index. Used both by live ingestion and by reconciliation repair.
func (p *Pipeline) indexDocument(ctx context.Context, doc *docstore.Document) error {
	vec, err := p.embed.Embed(ctx, NormalizeContent(doc.Kind, doc.Content))
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}
	err = p.vectors.Upsert(ctx, []vectorstore.Point{{
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		Kind:       doc.Kind,
		Version:    doc.Version,
		Vector:     vec,
		Meta:       doc.Metadata,
	}})
	if err != nil {
		return fmt.Errorf("indexing document %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteDocument removes a document from both stores. The docstore delete
// runs first so a failure between the two leaves an orphan in the index,
// which reconciliation cleans up.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) error {
	if err := p.docs.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	if err := p.vectors.Delete(ctx, []string{documentID}); err != nil {
		return fmt.Errorf("removing document %s from index: %w", documentID, err)
	}
	return nil
}

// Backfill re-indexes every document for an owner. The index is switched to
// bulk-load mode for the duration so graph maintenance does not throttle the
// writes, and switched back even on failure.
func (p *Pipeline) Backfill(ctx context.Context, ownerID string) (indexed int, err error) {
	logger := contextutil.LoggerFromContext(ctx)

	ids, err := p.docs.ListIDs(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("listing documents for owner %s: %w", ownerID, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := p.vectors.SetBulkLoad(ctx, true); err != nil {
		return 0, fmt.Errorf("enabling bulk load: %w", err)
	}
	defer func() {
		if restoreErr := p.vectors.SetBulkLoad(context.WithoutCancel(ctx), false); restoreErr != nil {
			logger.Error("failed to restore indexing after backfill", "error", restoreErr)
			if err == nil {
				err = fmt.Errorf("restoring indexing: %w", restoreErr)
			}
		}
	}()

	docs, err := p.docs.GetBatch(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("loading documents for owner %s: %w", ownerID, err)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = NormalizeContent(doc.Kind, doc.Content)
	}
	vecs, err := p.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding backfill batch: %w", err)
	}

	points := make([]vectorstore.Point, len(docs))
	for i, doc := range docs {
		points[i] = vectorstore.Point{
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			Kind:       doc.Kind,
			Version:    doc.Version,
			Vector:     vecs[i],
			Meta:       doc.Metadata,
		}
	}
	if err := p.vectors.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("upserting backfill batch: %w", err)
	}

	logger.Info("backfill complete", "owner_id", ownerID, "documents", len(points))
	return len(points), nil
}
