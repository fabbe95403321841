package docstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks pixie-engine/internal/docstore DocumentStore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DocumentStore is the authoritative-store boundary used by ingestion and
// retrieval.
type DocumentStore interface {
	// Put creates or updates a document. The stored document is returned
	// with its version: 1 on create, unchanged when content is identical,
	// incremented when content changed.
	Put(ctx context.Context, doc *Document) (*Document, error)

	// Get returns a document by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)

	// GetBatch returns the documents for the given ids. Missing ids are
	// omitted from the result, not errors.
	GetBatch(ctx context.Context, ids []string) ([]*Document, error)

	// Delete removes a document by id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// ListIDs returns all document ids, scoped to an owner when ownerID is
	// non-empty.
	ListIDs(ctx context.Context, ownerID string) ([]string, error)

	// ListOwners returns the distinct owner ids present in the store.
	ListOwners(ctx context.Context) ([]string, error)
}

// DocumentRepo is the SQLite implementation of DocumentStore.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a DocumentRepo backed by the given database.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Put creates or updates a document. The write runs in a transaction so two
// concurrent upserts of the same id serialize instead of losing an update.
func (r *DocumentRepo) Put(ctx context.Context, doc *Document) (*Document, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if doc.OwnerID == "" {
		return nil, fmt.Errorf("document owner is required")
	}
	if !ValidKind(doc.Kind) {
		return nil, fmt.Errorf("invalid document kind %q", doc.Kind)
	}

	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existingOwner, existingContent string
	var existingVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, content, version FROM documents WHERE id = ?`, doc.ID).
		Scan(&existingOwner, &existingContent, &existingVersion)

	now := time.Now().UTC()
	stored := *doc
	stored.UpdatedAt = now

	switch {
	case err == sql.ErrNoRows:
		stored.Version = 1
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (id, owner_id, kind, content, metadata, version, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.OwnerID, doc.Kind, doc.Content, string(metadata), stored.Version, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert document: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read existing document: %w", err)
	default:
		if existingOwner != doc.OwnerID {
			return nil, ErrOwnerImmutable
		}
		stored.Version = existingVersion
		if existingContent != doc.Content {
			stored.Version = existingVersion + 1
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET kind = ?, content = ?, metadata = ?, version = ?, updated_at = ? WHERE id = ?`,
			doc.Kind, doc.Content, string(metadata), stored.Version, now, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &stored, nil
}

// Get returns a document by id, or ErrNotFound.
func (r *DocumentRepo) Get(ctx context.Context, id string) (*Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, kind, content, metadata, version, updated_at FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// GetBatch returns the documents for the given ids, omitting missing ones.
func (r *DocumentRepo) GetBatch(ctx context.Context, ids []string) ([]*Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, kind, content, metadata, version, updated_at FROM documents WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes a document by id.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// ListIDs returns all document ids, scoped to an owner when non-empty.
func (r *DocumentRepo) ListIDs(ctx context.Context, ownerID string) ([]string, error) {
	query := `SELECT id FROM documents`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list document ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListOwners returns the distinct owner ids present in the store.
func (r *DocumentRepo) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM documents ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func scanDocument(scan func(dest ...any) error) (*Document, error) {
	var doc Document
	var metadata string
	if err := scan(&doc.ID, &doc.OwnerID, &doc.Kind, &doc.Content, &metadata, &doc.Version, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}
