package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageService aggregates consumption across a quota pool and records new
// usage. Pool membership and usage are always computed at read time: link
// status, plans, and the document set can all change between requests, so
// nothing here is cached.
type UsageService interface {
	// PoolAccountIDs returns the effective account plus every account
	// joined to it via an active link in either direction.
	// Surfaces domain.EINVARIANT when a primary has more than one active
	// link, since the model allows at most one.
	PoolAccountIDs(ctx context.Context, effective *domain.Account) ([]uuid.UUID, error)

	// AggregatePool sums monthly uploads and storage bytes across the
	// pool. Every pool member's counter is rolled over to the current
	// month first — including idle members, whose stale counters would
	// otherwise overstate the pool's usage.
	AggregatePool(ctx context.Context, effective *domain.Account) (*domain.PoolUsage, error)

	// ReserveUpload atomically adds one upload to the account's monthly
	// counter and returns the account's new count. Callers re-aggregate
	// the pool afterwards and call ReleaseUpload on overshoot.
	ReserveUpload(ctx context.Context, accountID uuid.UUID) (int64, error)

	// ReleaseUpload rolls back one reserved upload.
	ReleaseUpload(ctx context.Context, accountID uuid.UUID) error
}

// UsageStore is the slice of the repository the usage service needs.
type UsageStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListActiveLinksByPrimary(ctx context.Context, accountID uuid.UUID) ([]*domain.AccountLink, error)
	GetActiveLinkByLinkedAccount(ctx context.Context, accountID uuid.UUID) (*domain.AccountLink, error)
	ResetUploadCounterIfStale(ctx context.Context, id uuid.UUID, now time.Time) error
	ReserveUploads(ctx context.Context, id uuid.UUID, n int64) (int64, error)
	ReleaseUploads(ctx context.Context, id uuid.UUID, n int64) error
}

// StorageUsage is the storage-size collaborator: total bytes owned by an
// account's non-deleted documents. Backed by the document table in this
// deployment, but the aggregator only depends on this interface.
type StorageUsage interface {
	TotalBytesOwned(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// =============================================================================
// Implementation
// =============================================================================

type usageService struct {
	store  UsageStore
	sizes  StorageUsage
	logger *slog.Logger
	now    func() time.Time
}

// NewUsageService creates a new UsageService.
func NewUsageService(store UsageStore, sizes StorageUsage, logger *slog.Logger) UsageService {
	return &usageService{
		store:  store,
		sizes:  sizes,
		logger: logger,
		now:    time.Now,
	}
}

func (s *usageService) PoolAccountIDs(ctx context.Context, effective *domain.Account) ([]uuid.UUID, error) {
	const op = "usage.pool_accounts"

	// A mutually linked pair reaches the partner both outbound and
	// inbound; each pool member must be summed exactly once.
	ids := []uuid.UUID{effective.ID}
	seen := map[uuid.UUID]bool{effective.ID: true}

	outbound, err := s.store.ListActiveLinksByPrimary(ctx, effective.ID)
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	if len(outbound) > 1 {
		return nil, domain.Invariant(op, "account %s has %d active links, at most one is allowed", effective.ID, len(outbound))
	}
	for _, link := range outbound {
		if link.LinkedAccountID != nil && !seen[*link.LinkedAccountID] {
			seen[*link.LinkedAccountID] = true
			ids = append(ids, *link.LinkedAccountID)
		}
	}

	inbound, err := s.store.GetActiveLinkByLinkedAccount(ctx, effective.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Unavailable(err, op)
	}
	if inbound != nil && !seen[inbound.PrimaryAccountID] {
		ids = append(ids, inbound.PrimaryAccountID)
	}

	return ids, nil
}

func (s *usageService) AggregatePool(ctx context.Context, effective *domain.Account) (*domain.PoolUsage, error) {
	const op = "usage.aggregate_pool"
	now := s.now()

	ids, err := s.PoolAccountIDs(ctx, effective)
	if err != nil {
		return nil, err
	}

	usage := &domain.PoolUsage{AccountIDs: ids}
	for _, id := range ids {
		// Roll the counter over before reading it. Skipping an idle
		// member here would carry last month's count into this month's
		// pool total.
		if err := s.store.ResetUploadCounterIfStale(ctx, id, now); err != nil {
			return nil, domain.Unavailable(err, op)
		}

		account, err := s.store.GetAccount(ctx, id)
		if err != nil {
			return nil, domain.Unavailable(err, op)
		}
		usage.UploadsThisMonth += account.UploadedThisMonth

		bytes, err := s.sizes.TotalBytesOwned(ctx, id)
		if err != nil {
			return nil, domain.Unavailable(err, op)
		}
		usage.StorageBytesTotal += bytes
	}
	return usage, nil
}

func (s *usageService) ReserveUpload(ctx context.Context, accountID uuid.UUID) (int64, error) {
	const op = "usage.reserve_upload"

	// Keep the counter month-correct before adding to it; the reset and
	// the increment are each single store-side statements, so they order
	// safely against concurrent requests.
	if err := s.store.ResetUploadCounterIfStale(ctx, accountID, s.now()); err != nil {
		return 0, domain.Unavailable(err, op)
	}
	count, err := s.store.ReserveUploads(ctx, accountID, 1)
	if err != nil {
		return 0, domain.Unavailable(err, op)
	}
	return count, nil
}

func (s *usageService) ReleaseUpload(ctx context.Context, accountID uuid.UUID) error {
	const op = "usage.release_upload"
	if err := s.store.ReleaseUploads(ctx, accountID, 1); err != nil {
		return domain.Unavailable(err, op)
	}
	return nil
}
