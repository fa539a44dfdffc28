package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

const documentColumns = `id, account_id, uploaded_by, name, storage_key,
	content_type, size_bytes, category, created_at, deleted_at`

func scanDocument(scanner interface {
	Scan(dest ...interface{}) error
}) (*domain.Document, error) {
	var d domain.Document
	var deletedAt sql.NullTime
	err := scanner.Scan(
		&d.ID, &d.AccountID, &d.UploadedBy, &d.Name, &d.StorageKey,
		&d.ContentType, &d.SizeBytes, &d.Category, &d.CreatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	d.DeletedAt = timePtr(deletedAt)
	return &d, nil
}

// CreateDocumentParams holds the fields for a document row.
type CreateDocumentParams struct {
	AccountID   uuid.UUID
	UploadedBy  uuid.UUID
	Name        string
	StorageKey  string
	ContentType string
	SizeBytes   int64
}

// CreateDocument inserts a document row after the bytes are stored.
func (q *Queries) CreateDocument(ctx context.Context, params CreateDocumentParams) (*domain.Document, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO documents (account_id, uploaded_by, name, storage_key, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+documentColumns,
		params.AccountID, params.UploadedBy, params.Name, params.StorageKey,
		params.ContentType, params.SizeBytes,
	)
	return scanDocument(row)
}

// GetDocument fetches a non-deleted document scoped to an account.
func (q *Queries) GetDocument(ctx context.Context, accountID, id uuid.UUID) (*domain.Document, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL`,
		id, accountID,
	)
	return scanDocument(row)
}

// TotalBytesOwned totals the stored size of an account's non-deleted
// documents. Storage usage is always derived here rather than kept as a
// counter, so it cannot drift from the actual document set.
func (q *Queries) TotalBytesOwned(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(size_bytes), 0) FROM documents
		WHERE account_id = $1 AND deleted_at IS NULL`,
		accountID,
	).Scan(&total)
	return total, err
}

// SoftDeleteDocument marks a document deleted, releasing its bytes from
// the account's storage usage.
func (q *Queries) SoftDeleteDocument(ctx context.Context, accountID, id uuid.UUID, now time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE documents SET deleted_at = $3
		WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL`,
		id, accountID, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetDocumentCategory records the classifier's result for a document.
func (q *Queries) SetDocumentCategory(ctx context.Context, id uuid.UUID, category string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE documents SET category = $2 WHERE id = $1`, id, category)
	return err
}
