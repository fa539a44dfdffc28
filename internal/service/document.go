package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/metrics"
	"github.com/mhollis/docvault/internal/repository"
	"github.com/mhollis/docvault/internal/storage"
)

// =============================================================================
// Interface Definition
// =============================================================================

// DocumentService stores and retrieves documents behind the enforcement
// gate. Upload is the only path that consumes quota; it reserves a slot on
// the uploader's home account before touching blob storage so that two
// concurrent uploads can never both land inside the last free slot.
type DocumentService interface {
	// Upload runs the enforcement gate, reserves quota, stores the blob,
	// and records the document. A denied decision is returned with a nil
	// document and nil error; denial is an expected outcome, not a failure.
	Upload(ctx context.Context, params UploadParams) (*domain.Document, domain.Decision, error)

	// Get fetches a document's metadata, scoped to the caller's home account.
	Get(ctx context.Context, userID, documentID uuid.UUID) (*domain.Document, error)

	// Open returns the document's content stream.
	Open(ctx context.Context, userID, documentID uuid.UUID) (io.ReadCloser, *domain.Document, error)

	// Delete soft-deletes a document, releasing its bytes from the
	// account's storage usage, and removes the blob best-effort.
	Delete(ctx context.Context, userID, documentID uuid.UUID) error
}

// UploadParams carries one upload request.
type UploadParams struct {
	UserID      uuid.UUID
	Name        string
	ContentType string
	SizeBytes   int64
	Data        io.Reader

	// Source labels where the document came from ("web" or "email").
	Source string
}

// DocumentStore is the slice of the repository the document service uses.
type DocumentStore interface {
	CreateDocument(ctx context.Context, params repository.CreateDocumentParams) (*domain.Document, error)
	GetDocument(ctx context.Context, accountID, id uuid.UUID) (*domain.Document, error)
	SoftDeleteDocument(ctx context.Context, accountID, id uuid.UUID, now time.Time) (bool, error)
}

// =============================================================================
// Implementation
// =============================================================================

type documentService struct {
	store   DocumentStore
	gate    Gate
	links   LinkService
	usage   UsageService
	catalog domain.Catalog
	blobs   storage.Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(
	store DocumentStore,
	gate Gate,
	links LinkService,
	usage UsageService,
	catalog domain.Catalog,
	blobs storage.Storage,
	logger *slog.Logger,
) DocumentService {
	return &documentService{
		store:   store,
		gate:    gate,
		links:   links,
		usage:   usage,
		catalog: catalog,
		blobs:   blobs,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *documentService) Upload(ctx context.Context, params UploadParams) (*domain.Document, domain.Decision, error) {
	const op = "document.upload"

	if params.Name == "" {
		return nil, domain.Decision{}, domain.Invalid(op, "A document name is required.")
	}
	if params.SizeBytes <= 0 {
		return nil, domain.Decision{}, domain.Invalid(op, "The document is empty.")
	}
	if !storage.IsAllowedDocumentType(params.ContentType) {
		return nil, domain.Decision{}, domain.Invalid(op, "This file type is not supported.")
	}

	decision := s.gate.CheckCanUpload(ctx, params.UserID)
	if !decision.Allowed {
		return nil, decision, nil
	}

	// Counter increments always land on the uploader's home account,
	// even when a link makes another account's plan effective. The pool
	// aggregation reads both counters, so attribution stays per account
	// while enforcement stays pooled.
	home, err := s.links.HomeAccount(ctx, params.UserID)
	if err != nil {
		return nil, domain.Decision{}, err
	}
	effective, err := s.links.ResolveEffectiveAccount(ctx, params.UserID)
	if err != nil {
		return nil, domain.Decision{}, err
	}
	plan, err := s.catalog.Get(effective.Account.Plan)
	if err != nil {
		return nil, domain.Decision{}, domain.Internal(err, op, "plan catalog lookup failed")
	}

	if _, err := s.usage.ReserveUpload(ctx, home.ID); err != nil {
		return nil, domain.Decision{}, err
	}

	// The gate's check and this reservation are not one atomic step, so a
	// concurrent upload may have consumed the slot in between. Re-read
	// the pool with the reservation included and roll back on overshoot.
	pool, err := s.usage.AggregatePool(ctx, effective.Account)
	if err != nil {
		s.release(ctx, home.ID)
		return nil, domain.Decision{}, err
	}
	if pool.UploadsThisMonth > plan.MaxUploadsPerMonth {
		s.release(ctx, home.ID)
		metrics.UploadReservationRollbacks.Inc()
		return nil, domain.DenyQuota(domain.DenyMonthlyUploadLimit, plan.ID, plan.MaxUploadsPerMonth, pool.UploadsThisMonth-1), nil
	}
	if pool.StorageBytesTotal+params.SizeBytes > plan.MaxStorageBytes {
		s.release(ctx, home.ID)
		metrics.UploadReservationRollbacks.Inc()
		return nil, domain.DenyQuota(domain.DenyStorageLimit, plan.ID, plan.MaxStorageBytes, pool.StorageBytesTotal), nil
	}

	docID := uuid.New()
	key := storage.DocumentKey(home.ID, docID, params.Name)
	err = s.blobs.Put(ctx, key, params.Data, storage.PutOptions{
		ContentType: params.ContentType,
		MaxSize:     params.SizeBytes,
	})
	if err != nil {
		s.release(ctx, home.ID)
		if storage.IsTooLarge(err) {
			return nil, domain.Decision{}, domain.Errorf(domain.ETOOLARGE, op, "The uploaded file is larger than declared.")
		}
		return nil, domain.Decision{}, domain.Unavailable(err, op)
	}

	doc, err := s.store.CreateDocument(ctx, repository.CreateDocumentParams{
		AccountID:   home.ID,
		UploadedBy:  params.UserID,
		Name:        params.Name,
		StorageKey:  key,
		ContentType: params.ContentType,
		SizeBytes:   params.SizeBytes,
	})
	if err != nil {
		// The blob is stored but the row failed: remove the blob and give
		// the reservation back so the failed attempt costs nothing.
		s.release(ctx, home.ID)
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.logger.Error("Orphaned blob cleanup failed", "key", key, "error", derr)
		}
		return nil, domain.Decision{}, domain.Unavailable(err, op)
	}

	source := params.Source
	if source == "" {
		source = "web"
	}
	metrics.DocumentsUploaded.WithLabelValues(source).Inc()
	s.logger.Info("Document stored",
		"document_id", doc.ID,
		"account_id", home.ID,
		"size_bytes", doc.SizeBytes,
		"source", source,
	)
	return doc, decision, nil
}

func (s *documentService) Get(ctx context.Context, userID, documentID uuid.UUID) (*domain.Document, error) {
	const op = "document.get"

	home, err := s.links.HomeAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, home.ID, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "document", documentID.String())
	}
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	return doc, nil
}

func (s *documentService) Open(ctx context.Context, userID, documentID uuid.UUID) (io.ReadCloser, *domain.Document, error) {
	const op = "document.open"

	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return nil, nil, err
	}
	body, _, err := s.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil, domain.NotFound(op, "document content", documentID.String())
		}
		return nil, nil, domain.Unavailable(err, op)
	}
	return body, doc, nil
}

func (s *documentService) Delete(ctx context.Context, userID, documentID uuid.UUID) error {
	const op = "document.delete"

	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return err
	}

	deleted, err := s.store.SoftDeleteDocument(ctx, doc.AccountID, doc.ID, s.now())
	if err != nil {
		return domain.Unavailable(err, op)
	}
	if !deleted {
		return domain.NotFound(op, "document", documentID.String())
	}

	// The row is the source of truth for quota; the blob removal is
	// best-effort and a leftover object only wastes bucket space.
	if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil {
		s.logger.Error("Blob deletion failed after soft delete", "key", doc.StorageKey, "error", err)
	}

	s.logger.Info("Document deleted", "document_id", doc.ID, "account_id", doc.AccountID)
	return nil
}

// release rolls back a reserved upload, logging rather than propagating
// failure. An unreleased slot self-corrects at the next monthly reset.
func (s *documentService) release(ctx context.Context, accountID uuid.UUID) {
	if err := s.usage.ReleaseUpload(ctx, accountID); err != nil {
		s.logger.Error("Upload reservation release failed", "account_id", accountID, "error", err)
	}
}
