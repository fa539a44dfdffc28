package domain

import (
	"time"

	"github.com/google/uuid"
)

// Document is one stored file owned by an account. The engine only cares
// about ownership, byte size, and soft deletion: storage quota is the sum
// of SizeBytes over an account's non-deleted documents. Classification
// metadata is filled in by the external AI collaborator after upload.
type Document struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	UploadedBy  uuid.UUID
	Name        string
	StorageKey  string
	ContentType string
	SizeBytes   int64
	Category    string // Set by the classifier, empty until then
	CreatedAt   time.Time
	DeletedAt   *time.Time
}
