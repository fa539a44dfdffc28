package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/storage"
)

// fakeBlobStore is an in-memory storage.Storage.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (b *fakeBlobStore) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if opts.MaxSize > 0 && int64(len(buf)) > opts.MaxSize {
		return &storage.StorageError{Op: "Put", Key: key, Err: storage.ErrTooLarge}
	}
	b.objects[key] = buf
	return nil
}

func (b *fakeBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, &storage.StorageError{Op: "Get", Key: key, Err: storage.ErrNotFound}
	}
	info := storage.ObjectInfo{Key: key, Size: int64(len(buf))}
	return io.NopCloser(bytes.NewReader(buf)), info, nil
}

func (b *fakeBlobStore) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobStore) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

func (b *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func newTestDocuments(f *fakeStore, blobs storage.Storage, now time.Time) *documentService {
	logger := discardLogger()
	nowFn := func() time.Time { return now }
	links := &linkService{store: f, logger: logger, now: nowFn}
	usage := &usageService{store: f, sizes: f, logger: logger, now: nowFn}
	catalog := domain.DefaultCatalog()
	gate := &gate{links: links, usage: usage, store: f, catalog: catalog, logger: logger, now: nowFn}
	return &documentService{
		store:   f,
		gate:    gate,
		links:   links,
		usage:   usage,
		catalog: catalog,
		blobs:   blobs,
		logger:  logger,
		now:     nowFn,
	}
}

// =============================================================================
// Upload
// =============================================================================

func TestUploadStoresDocumentAndConsumesQuota(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	blobs := newFakeBlobStore()
	user, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
	account.UploadCounterResetAt = &now

	docs := newTestDocuments(f, blobs, now)
	content := "tax return 2025"
	doc, decision, err := docs.Upload(context.Background(), UploadParams{
		UserID:      user.ID,
		Name:        "tax-return.pdf",
		ContentType: "application/pdf",
		SizeBytes:   int64(len(content)),
		Data:        strings.NewReader(content),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Fatalf("upload denied: %q", decision.Reason)
	}
	if doc.AccountID != account.ID {
		t.Errorf("document account = %s, want %s", doc.AccountID, account.ID)
	}
	if account.UploadedThisMonth != 1 {
		t.Errorf("counter = %d, want 1", account.UploadedThisMonth)
	}
	if exists, _ := blobs.Exists(context.Background(), doc.StorageKey); !exists {
		t.Error("blob not stored")
	}
}

func TestUploadDeniedByGateLeavesNoTrace(t *testing.T) {
	f := newFakeStore()
	blobs := newFakeBlobStore()
	user, account := f.addUserAccount("free@example.com", domain.PlanFree, nil)

	docs := newTestDocuments(f, blobs, time.Now())
	doc, decision, err := docs.Upload(context.Background(), UploadParams{
		UserID:      user.ID,
		Name:        "note.pdf",
		ContentType: "application/pdf",
		SizeBytes:   10,
		Data:        strings.NewReader("0123456789"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed || doc != nil {
		t.Fatal("read-only plan must not upload")
	}
	if account.UploadedThisMonth != 0 {
		t.Errorf("counter = %d, want 0", account.UploadedThisMonth)
	}
	if len(blobs.objects) != 0 {
		t.Error("no blob should be stored on denial")
	}
}

// The gate passes on current storage but the new document's size pushes
// the pool over the plan ceiling: the reservation must be rolled back.
func TestUploadStorageOvershootRollsBack(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	blobs := newFakeBlobStore()
	user, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
	account.UploadCounterResetAt = &now
	f.docBytes[account.ID] = 5<<30 - 10 // ten bytes under the 5 GiB solo cap

	docs := newTestDocuments(f, blobs, now)
	doc, decision, err := docs.Upload(context.Background(), UploadParams{
		UserID:      user.ID,
		Name:        "big.pdf",
		ContentType: "application/pdf",
		SizeBytes:   100,
		Data:        strings.NewReader(strings.Repeat("x", 100)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed || doc != nil {
		t.Fatal("expected storage denial")
	}
	if decision.Reason != domain.DenyStorageLimit {
		t.Errorf("reason = %q, want %q", decision.Reason, domain.DenyStorageLimit)
	}
	if account.UploadedThisMonth != 0 {
		t.Errorf("counter after rollback = %d, want 0", account.UploadedThisMonth)
	}
	if len(blobs.objects) != 0 {
		t.Error("no blob should be stored on denial")
	}
}

func TestUploadBlobFailureReleasesReservation(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	blobs := newFakeBlobStore()
	blobs.putErr = errors.New("bucket unreachable")
	user, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
	account.UploadCounterResetAt = &now

	docs := newTestDocuments(f, blobs, now)
	_, _, err := docs.Upload(context.Background(), UploadParams{
		UserID:      user.ID,
		Name:        "doc.pdf",
		ContentType: "application/pdf",
		SizeBytes:   4,
		Data:        strings.NewReader("data"),
	})
	if err == nil {
		t.Fatal("expected error from blob failure")
	}
	if domain.ErrorCode(err) != domain.EUNAVAILABLE {
		t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.EUNAVAILABLE)
	}
	if account.UploadedThisMonth != 0 {
		t.Errorf("counter after failed upload = %d, want 0", account.UploadedThisMonth)
	}
}

// reservationRaceStore interleaves a rival action between a caller's gate
// check and its counter reservation, reproducing two requests racing for
// the same monthly slot in a deterministic order.
type reservationRaceStore struct {
	*fakeStore
	beforeReserve func()
}

func (s *reservationRaceStore) ReserveUploads(ctx context.Context, id uuid.UUID, n int64) (int64, error) {
	if hook := s.beforeReserve; hook != nil {
		s.beforeReserve = nil
		hook()
	}
	return s.fakeStore.ReserveUploads(ctx, id, n)
}

// Two uploads race for the last slot of the month: both pass the gate at
// 49 of 50, the rival finishes first, and the loser must detect the
// overshoot after reserving and release its own reservation without
// touching the winner's.
func TestUploadConcurrentReservationRollsBackLoser(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	blobs := newFakeBlobStore()
	user, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
	account.UploadCounterResetAt = &now
	account.UploadedThisMonth = 49

	store := &reservationRaceStore{fakeStore: f}
	logger := discardLogger()
	nowFn := func() time.Time { return now }
	links := &linkService{store: store, logger: logger, now: nowFn}
	usage := &usageService{store: store, sizes: store, logger: logger, now: nowFn}
	catalog := domain.DefaultCatalog()
	g := &gate{links: links, usage: usage, store: store, catalog: catalog, logger: logger, now: nowFn}
	docs := &documentService{
		store:   store,
		gate:    g,
		links:   links,
		usage:   usage,
		catalog: catalog,
		blobs:   blobs,
		logger:  logger,
		now:     nowFn,
	}

	var rivalDoc *domain.Document
	var rivalDecision domain.Decision
	store.beforeReserve = func() {
		var err error
		rivalDoc, rivalDecision, err = docs.Upload(context.Background(), UploadParams{
			UserID:      user.ID,
			Name:        "rival.pdf",
			ContentType: "application/pdf",
			SizeBytes:   5,
			Data:        strings.NewReader("rival"),
		})
		if err != nil {
			t.Errorf("rival upload: %v", err)
		}
	}

	doc, decision, err := docs.Upload(context.Background(), UploadParams{
		UserID:      user.ID,
		Name:        "loser.pdf",
		ContentType: "application/pdf",
		SizeBytes:   5,
		Data:        strings.NewReader("loser"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if !rivalDecision.Allowed || rivalDoc == nil {
		t.Fatalf("rival should take the last slot, got %q", rivalDecision.Reason)
	}
	if decision.Allowed || doc != nil {
		t.Fatal("loser must be denied after the rival takes the slot")
	}
	if decision.Reason != domain.DenyMonthlyUploadLimit {
		t.Errorf("reason = %q, want %q", decision.Reason, domain.DenyMonthlyUploadLimit)
	}
	if decision.Limit != 50 || decision.Current != 50 {
		t.Errorf("denial limit/current = %d/%d, want 50/50", decision.Limit, decision.Current)
	}
	if account.UploadedThisMonth != 50 {
		t.Errorf("counter = %d, want 50 (loser released, winner kept)", account.UploadedThisMonth)
	}
	if len(f.documents) != 1 {
		t.Errorf("documents = %d, want only the rival's", len(f.documents))
	}
	if len(blobs.objects) != 1 {
		t.Errorf("blobs = %d, want only the rival's", len(blobs.objects))
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	f := newFakeStore()
	user, _ := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)

	docs := newTestDocuments(f, newFakeBlobStore(), time.Now())
	_, _, err := docs.Upload(context.Background(), UploadParams{
		UserID:      user.ID,
		Name:        "malware.exe",
		ContentType: "application/x-msdownload",
		SizeBytes:   4,
		Data:        strings.NewReader("MZ.."),
	})
	if domain.ErrorCode(err) != domain.EINVALID {
		t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.EINVALID)
	}
}

// =============================================================================
// Delete
// =============================================================================

func TestDeleteReleasesStorage(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	blobs := newFakeBlobStore()
	user, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
	account.UploadCounterResetAt = &now

	docs := newTestDocuments(f, blobs, now)
	doc, _, err := docs.Upload(context.Background(), UploadParams{
		UserID:      user.ID,
		Name:        "receipt.pdf",
		ContentType: "application/pdf",
		SizeBytes:   7,
		Data:        strings.NewReader("receipt"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := docs.Delete(context.Background(), user.ID, doc.ID); err != nil {
		t.Fatal(err)
	}
	if f.docBytes[account.ID] != 0 {
		t.Errorf("bytes after delete = %d, want 0", f.docBytes[account.ID])
	}
	if exists, _ := blobs.Exists(context.Background(), doc.StorageKey); exists {
		t.Error("blob should be removed")
	}

	// Double delete reports not found, not success.
	err = docs.Delete(context.Background(), user.ID, doc.ID)
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		t.Errorf("error code = %q, want %q", domain.ErrorCode(err), domain.ENOTFOUND)
	}
}

// Uploads by a linked user land on their own account, not the primary's.
func TestUploadLandsOnHomeAccount(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	reset := now.Add(-time.Hour)

	f := newFakeStore()
	blobs := newFakeBlobStore()
	_, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	linkedUser, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linked.ID)
	primary.UploadCounterResetAt = &reset
	linked.UploadCounterResetAt = &reset

	docs := newTestDocuments(f, blobs, now)
	doc, decision, err := docs.Upload(context.Background(), UploadParams{
		UserID:      linkedUser.ID,
		Name:        "shared.pdf",
		ContentType: "application/pdf",
		SizeBytes:   5,
		Data:        strings.NewReader("12345"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !decision.Allowed {
		t.Fatalf("denied: %q", decision.Reason)
	}
	if doc.AccountID != linked.ID {
		t.Errorf("document account = %s, want linked home %s", doc.AccountID, linked.ID)
	}
	if linked.UploadedThisMonth != 1 || primary.UploadedThisMonth != 0 {
		t.Errorf("counters = linked %d / primary %d, want 1 / 0",
			linked.UploadedThisMonth, primary.UploadedThisMonth)
	}
}
