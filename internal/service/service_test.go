package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/repository"
)

// fakeStore is an in-memory stand-in for the repository, implementing the
// store slices the services depend on. State-changing methods mimic the
// SQL guards (status checks, month rollover) so service tests exercise the
// same sequencing the real store enforces.
type fakeStore struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]*domain.Account
	users        map[uuid.UUID]*domain.User
	links        []*domain.AccountLink
	members      []*domain.AccountMember
	invites      []*domain.Invite
	entitlements map[uuid.UUID]map[string]int64
	documents    []*domain.Document
	docBytes     map[uuid.UUID]int64

	// Error injection for fail-closed tests.
	errGetAccount error
	errListLinks  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:     make(map[uuid.UUID]*domain.Account),
		users:        make(map[uuid.UUID]*domain.User),
		entitlements: make(map[uuid.UUID]map[string]int64),
		docBytes:     make(map[uuid.UUID]int64),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// addUserAccount seeds a user owning an account on the given plan and
// seats them as its owner, the shape registration produces.
func (f *fakeStore) addUserAccount(email string, plan domain.PlanID, trialEndsAt *time.Time) (*domain.User, *domain.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user := &domain.User{ID: uuid.New(), Email: email, Name: email, CreatedAt: time.Now()}
	f.users[user.ID] = user

	account := &domain.Account{
		ID:          uuid.New(),
		OwnerID:     user.ID,
		Plan:        plan,
		TrialEndsAt: trialEndsAt,
		CreatedAt:   time.Now(),
	}
	f.accounts[account.ID] = account

	f.members = append(f.members, &domain.AccountMember{
		ID:        uuid.New(),
		AccountID: account.ID,
		UserID:    user.ID,
		Role:      domain.MemberRoleOwner,
		CanUpload: true,
		CreatedAt: time.Now(),
	})
	return user, account
}

// addSeatUser seeds a user who holds a plain member seat in the account
// and owns no account of their own.
func (f *fakeStore) addSeatUser(email string, accountID uuid.UUID) *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()

	user := &domain.User{ID: uuid.New(), Email: email, Name: email, CreatedAt: time.Now()}
	f.users[user.ID] = user
	f.members = append(f.members, &domain.AccountMember{
		ID:        uuid.New(),
		AccountID: accountID,
		UserID:    user.ID,
		Role:      domain.MemberRoleMember,
		CanUpload: true,
		CreatedAt: time.Now(),
	})
	return user
}

// activateLinkBetween wires an already-active link from primary to linked.
func (f *fakeStore) activateLinkBetween(primaryID, linkedID uuid.UUID) *domain.AccountLink {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	link := &domain.AccountLink{
		ID:               uuid.New(),
		PrimaryAccountID: primaryID,
		LinkedAccountID:  &linkedID,
		Status:           domain.LinkStatusActive,
		TokenExpiresAt:   now.Add(domain.LinkTokenDuration),
		CreatedAt:        now,
		AcceptedAt:       &now,
	}
	f.links = append(f.links, link)
	return link
}

// =============================================================================
// Account methods
// =============================================================================

func (f *fakeStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errGetAccount != nil {
		return nil, f.errGetAccount
	}
	account, ok := f.accounts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return account, nil
}

func (f *fakeStore) GetAccountByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, account := range f.accounts {
		if account.OwnerID == ownerID {
			return account, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) DowngradeExpiredTrial(ctx context.Context, id uuid.UUID, from, to domain.PlanID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account, ok := f.accounts[id]; ok && account.Plan == from {
		account.Plan = to
	}
	return nil
}

func (f *fakeStore) ResetUploadCounterIfStale(ctx context.Context, id uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	baseline := account.CounterBaseline().UTC()
	cur := now.UTC()
	if baseline.Year()*12+int(baseline.Month()) < cur.Year()*12+int(cur.Month()) {
		account.UploadedThisMonth = 0
		account.UploadCounterResetAt = &now
	}
	return nil
}

func (f *fakeStore) ReserveUploads(ctx context.Context, id uuid.UUID, n int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	account.UploadedThisMonth += n
	return account.UploadedThisMonth, nil
}

func (f *fakeStore) ReleaseUploads(ctx context.Context, id uuid.UUID, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	account.UploadedThisMonth -= n
	if account.UploadedThisMonth < 0 {
		account.UploadedThisMonth = 0
	}
	return nil
}

// =============================================================================
// User and membership methods
// =============================================================================

func (f *fakeStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetMembershipByUser(ctx context.Context, userID uuid.UUID) (*domain.AccountMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.UserID == userID {
			return m, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) CountMembers(ctx context.Context, accountID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countMembersLocked(accountID), nil
}

func (f *fakeStore) countMembersLocked(accountID uuid.UUID) int {
	n := 0
	for _, m := range f.members {
		if m.AccountID == accountID {
			n++
		}
	}
	return n
}

func (f *fakeStore) ListMembers(ctx context.Context, accountID uuid.UUID) ([]*domain.AccountMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AccountMember
	for _, m := range f.members {
		if m.AccountID == accountID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMember(ctx context.Context, accountID, memberID uuid.UUID) (*domain.AccountMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.AccountID == accountID && m.ID == memberID {
			return m, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) DeleteMember(ctx context.Context, accountID, memberID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.members {
		if m.AccountID == accountID && m.ID == memberID && m.Role != domain.MemberRoleOwner {
			f.members = append(f.members[:i], f.members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// Link methods
// =============================================================================

func (f *fakeStore) CreateLink(ctx context.Context, params repository.CreateLinkParams) (*domain.AccountLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link := &domain.AccountLink{
		ID:               uuid.New(),
		PrimaryAccountID: params.PrimaryAccountID,
		Status:           domain.LinkStatusPending,
		InvitedEmail:     params.InvitedEmail,
		TokenHash:        params.TokenHash,
		TokenExpiresAt:   params.TokenExpiresAt,
		CreatedAt:        time.Now(),
	}
	f.links = append(f.links, link)
	return link, nil
}

func (f *fakeStore) GetLinkByTokenHash(ctx context.Context, tokenHash string) (*domain.AccountLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.TokenHash == tokenHash {
			return l, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) ListActiveLinksByPrimary(ctx context.Context, accountID uuid.UUID) ([]*domain.AccountLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errListLinks != nil {
		return nil, f.errListLinks
	}
	var out []*domain.AccountLink
	for _, l := range f.links {
		if l.PrimaryAccountID == accountID && l.Status == domain.LinkStatusActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) GetActiveLinkByLinkedAccount(ctx context.Context, accountID uuid.UUID) (*domain.AccountLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errListLinks != nil {
		return nil, f.errListLinks
	}
	for _, l := range f.links {
		if l.Status == domain.LinkStatusActive && l.LinkedAccountID != nil && *l.LinkedAccountID == accountID {
			return l, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) ActivateLink(ctx context.Context, id, linkedAccountID uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.ID == id && l.Status == domain.LinkStatusPending && now.Before(l.TokenExpiresAt) {
			l.Status = domain.LinkStatusActive
			l.LinkedAccountID = &linkedAccountID
			l.AcceptedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) RevokeActiveLinks(ctx context.Context, primaryAccountID uuid.UUID, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, l := range f.links {
		if l.PrimaryAccountID == primaryAccountID && l.Status == domain.LinkStatusActive {
			l.Status = domain.LinkStatusRevoked
			l.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Entitlement methods
// =============================================================================

func (f *fakeStore) GetEntitlementValue(ctx context.Context, accountID uuid.UUID, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entitlements[accountID][key], nil
}

func (f *fakeStore) AddEntitlement(ctx context.Context, accountID uuid.UUID, key string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entitlements[accountID] == nil {
		f.entitlements[accountID] = make(map[string]int64)
	}
	f.entitlements[accountID][key] += delta
	return f.entitlements[accountID][key], nil
}

// =============================================================================
// Invite methods
// =============================================================================

func (f *fakeStore) CreateInvite(ctx context.Context, params repository.CreateInviteParams) (*domain.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite := &domain.Invite{
		ID:        uuid.New(),
		AccountID: params.AccountID,
		InvitedBy: params.InvitedBy,
		Email:     params.Email,
		Role:      params.Role,
		CanUpload: params.CanUpload,
		Status:    domain.InviteStatusPending,
		TokenHash: params.TokenHash,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: time.Now(),
	}
	f.invites = append(f.invites, invite)
	return invite, nil
}

func (f *fakeStore) GetInviteByTokenHash(ctx context.Context, tokenHash string) (*domain.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.invites {
		if i.TokenHash == tokenHash {
			return i, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) CountPendingInvites(ctx context.Context, accountID uuid.UUID, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countPendingInvitesLocked(accountID, now), nil
}

func (f *fakeStore) countPendingInvitesLocked(accountID uuid.UUID, now time.Time) int {
	n := 0
	for _, i := range f.invites {
		if i.AccountID == accountID && i.Status == domain.InviteStatusPending && i.ExpiresAt.After(now) {
			n++
		}
	}
	return n
}

func (f *fakeStore) ListPendingInvites(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*domain.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Invite
	for _, i := range f.invites {
		if i.AccountID == accountID && i.Status == domain.InviteStatusPending && i.ExpiresAt.After(now) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *fakeStore) AcceptInviteSeat(ctx context.Context, params repository.AcceptInviteSeatParams) (*domain.AccountMember, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	used := f.countMembersLocked(params.AccountID)
	pending := f.countPendingInvitesLocked(params.AccountID, params.Now)
	if pending > 0 {
		pending--
	}
	if used+pending >= params.TotalSeats {
		return nil, false, nil
	}

	var invite *domain.Invite
	for _, i := range f.invites {
		if i.ID == params.InviteID && i.Status == domain.InviteStatusPending {
			invite = i
			break
		}
	}
	if invite == nil {
		return nil, false, nil
	}
	invite.Status = domain.InviteStatusAccepted
	invite.AcceptedAt = &params.Now

	member := &domain.AccountMember{
		ID:        uuid.New(),
		AccountID: params.AccountID,
		UserID:    params.UserID,
		Role:      params.Role,
		CanUpload: params.CanUpload,
		CreatedAt: params.Now,
	}
	f.members = append(f.members, member)
	return member, true, nil
}

// =============================================================================
// Document methods
// =============================================================================

func (f *fakeStore) CreateDocument(ctx context.Context, params repository.CreateDocumentParams) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := &domain.Document{
		ID:          uuid.New(),
		AccountID:   params.AccountID,
		UploadedBy:  params.UploadedBy,
		Name:        params.Name,
		StorageKey:  params.StorageKey,
		ContentType: params.ContentType,
		SizeBytes:   params.SizeBytes,
		CreatedAt:   time.Now(),
	}
	f.documents = append(f.documents, doc)
	f.docBytes[params.AccountID] += params.SizeBytes
	return doc, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, accountID, id uuid.UUID) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.documents {
		if d.ID == id && d.AccountID == accountID && d.DeletedAt == nil {
			return d, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) SoftDeleteDocument(ctx context.Context, accountID, id uuid.UUID, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.documents {
		if d.ID == id && d.AccountID == accountID && d.DeletedAt == nil {
			d.DeletedAt = &now
			f.docBytes[accountID] -= d.SizeBytes
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// Storage size collaborator
// =============================================================================

func (f *fakeStore) TotalBytesOwned(ctx context.Context, accountID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docBytes[accountID], nil
}
