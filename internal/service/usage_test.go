package service

import (
	"context"
	"testing"
	"time"

	"github.com/mhollis/docvault/internal/domain"
)

func newTestUsage(f *fakeStore, now time.Time) *usageService {
	return &usageService{
		store:  f,
		sizes:  f,
		logger: discardLogger(),
		now:    func() time.Time { return now },
	}
}

// =============================================================================
// Pool Membership
// =============================================================================

// Both members of a link see the same pool regardless of which side the
// aggregation starts from.
func TestPoolAccountIDsSymmetric(t *testing.T) {
	f := newFakeStore()
	_, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	_, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linked.ID)

	usage := newTestUsage(f, time.Now())

	fromPrimary, err := usage.PoolAccountIDs(context.Background(), primary)
	if err != nil {
		t.Fatalf("from primary: %v", err)
	}
	fromLinked, err := usage.PoolAccountIDs(context.Background(), linked)
	if err != nil {
		t.Fatalf("from linked: %v", err)
	}

	if len(fromPrimary) != 2 || len(fromLinked) != 2 {
		t.Fatalf("pool sizes = %d/%d, want 2/2", len(fromPrimary), len(fromLinked))
	}

	want := map[string]bool{primary.ID.String(): true, linked.ID.String(): true}
	for _, id := range append(fromPrimary, fromLinked...) {
		if !want[id.String()] {
			t.Errorf("unexpected pool member %s", id)
		}
	}
}

// A mutual link pair (A→B and B→A both active) reaches the partner through
// both the outbound and the inbound lookup; the partner must still count
// once, not twice.
func TestPoolAccountIDsMutualLinkCountsPartnerOnce(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	_, a := f.addUserAccount("a@example.com", domain.PlanFamily, nil)
	_, b := f.addUserAccount("b@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(a.ID, b.ID)
	f.activateLinkBetween(b.ID, a.ID)

	a.UploadedThisMonth = 10
	a.UploadCounterResetAt = &now
	b.UploadedThisMonth = 60
	b.UploadCounterResetAt = &now

	usage := newTestUsage(f, now)

	ids, err := usage.PoolAccountIDs(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("pool size = %d, want 2 (got %v)", len(ids), ids)
	}

	pool, err := usage.AggregatePool(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if pool.UploadsThisMonth != 70 {
		t.Errorf("pool uploads = %d, want 70", pool.UploadsThisMonth)
	}
}

func TestPoolAccountIDsUnlinked(t *testing.T) {
	f := newFakeStore()
	_, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)

	ids, err := newTestUsage(f, time.Now()).PoolAccountIDs(context.Background(), account)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != account.ID {
		t.Errorf("pool = %v, want just %s", ids, account.ID)
	}
}

func TestPoolAccountIDsMultipleActiveLinksIsInvariantViolation(t *testing.T) {
	f := newFakeStore()
	_, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	_, linkedA := f.addUserAccount("a@example.com", domain.PlanSolo, nil)
	_, linkedB := f.addUserAccount("b@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linkedA.ID)
	f.activateLinkBetween(primary.ID, linkedB.ID)

	_, err := newTestUsage(f, time.Now()).PoolAccountIDs(context.Background(), primary)
	if err == nil {
		t.Fatal("expected error for two active links")
	}
	if domain.ErrorCode(err) != domain.EINVARIANT {
		t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.EINVARIANT)
	}
}

// =============================================================================
// Monthly Rollover
// =============================================================================

func TestAggregatePoolResetsStaleCounters(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 30, 0, 0, time.UTC)
	lastMonth := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	f := newFakeStore()
	_, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	_, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linked.ID)

	primary.UploadedThisMonth = 180
	primary.UploadCounterResetAt = &lastMonth
	// The linked member is idle this month; its stale counter must not
	// leak into the new month's pool.
	linked.UploadedThisMonth = 60
	linked.UploadCounterResetAt = &lastMonth

	usage, err := newTestUsage(f, now).AggregatePool(context.Background(), primary)
	if err != nil {
		t.Fatal(err)
	}
	if usage.UploadsThisMonth != 0 {
		t.Errorf("pool uploads after rollover = %d, want 0", usage.UploadsThisMonth)
	}
	if primary.UploadedThisMonth != 0 || linked.UploadedThisMonth != 0 {
		t.Errorf("counters = %d/%d, want 0/0", primary.UploadedThisMonth, linked.UploadedThisMonth)
	}
}

func TestAggregatePoolResetIsIdempotent(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 30, 0, 0, time.UTC)
	lastMonth := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	f := newFakeStore()
	_, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
	account.UploadedThisMonth = 40
	account.UploadCounterResetAt = &lastMonth

	usage := newTestUsage(f, now)
	if _, err := usage.AggregatePool(context.Background(), account); err != nil {
		t.Fatal(err)
	}

	// New usage recorded after the rollover must survive later aggregations.
	if _, err := usage.ReserveUpload(context.Background(), account.ID); err != nil {
		t.Fatal(err)
	}
	got, err := usage.AggregatePool(context.Background(), account)
	if err != nil {
		t.Fatal(err)
	}
	if got.UploadsThisMonth != 1 {
		t.Errorf("uploads = %d, want 1", got.UploadsThisMonth)
	}
}

// =============================================================================
// Storage Aggregation
// =============================================================================

func TestAggregatePoolSumsStorageAcrossPool(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	_, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	_, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linked.ID)

	f.docBytes[primary.ID] = 10 << 30
	f.docBytes[linked.ID] = 3 << 30

	usage, err := newTestUsage(f, now).AggregatePool(context.Background(), primary)
	if err != nil {
		t.Fatal(err)
	}
	if usage.StorageBytesTotal != 13<<30 {
		t.Errorf("storage = %d, want %d", usage.StorageBytesTotal, int64(13<<30))
	}
}

// =============================================================================
// Reserve and Release
// =============================================================================

func TestReserveAndReleaseUpload(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	_, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
	account.UploadedThisMonth = 5
	account.UploadCounterResetAt = &now

	usage := newTestUsage(f, now)

	count, err := usage.ReserveUpload(context.Background(), account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 6 {
		t.Errorf("count after reserve = %d, want 6", count)
	}

	if err := usage.ReleaseUpload(context.Background(), account.ID); err != nil {
		t.Fatal(err)
	}
	if account.UploadedThisMonth != 5 {
		t.Errorf("count after release = %d, want 5", account.UploadedThisMonth)
	}
}

func TestReleaseUploadNeverGoesNegative(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	_, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
	account.UploadCounterResetAt = &now

	usage := newTestUsage(f, now)
	if err := usage.ReleaseUpload(context.Background(), account.ID); err != nil {
		t.Fatal(err)
	}
	if account.UploadedThisMonth != 0 {
		t.Errorf("count = %d, want 0", account.UploadedThisMonth)
	}
}
