package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/metrics"
	"github.com/mhollis/docvault/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// InviteResult is the outcome of a seat invite creation attempt. Policy
// denials (no seats available) are data on the Decision, not errors.
type InviteResult struct {
	Invite   *domain.Invite
	RawToken string // Only returned once, for the invitation email
	Decision domain.Decision
}

// AcceptResult is the outcome of a seat invite acceptance attempt.
type AcceptResult struct {
	Member   *domain.AccountMember
	Decision domain.Decision
}

// SeatService manages the seat pool of an account: base seats from the
// plan, add-on seats from entitlements, occupied seats, and the pending
// invites that optimistically reserve seats.
type SeatService interface {
	// TotalSeats returns plan base seats plus purchased add-on seats.
	TotalSeats(ctx context.Context, account *domain.Account) (int, error)

	// CanInviteMore reports whether usedSeats + pendingSeats < totalSeats.
	CanInviteMore(ctx context.Context, accountID uuid.UUID) (bool, error)

	// CreateInvite issues a seat invite if capacity allows. A pending
	// invite reserves its seat immediately, before anyone occupies it.
	CreateInvite(ctx context.Context, accountID, invitedBy uuid.UUID, email string, role domain.MemberRole, canUpload bool) (*InviteResult, error)

	// AcceptInvite redeems an invite token for the given user. Capacity
	// is re-checked atomically at acceptance because other invites may
	// have been accepted since this one was issued.
	AcceptInvite(ctx context.Context, token string, userID uuid.UUID) (*AcceptResult, error)

	// AddSeats applies a purchased seat add-on as an atomic
	// increment-in-place, returning the new add-on total.
	AddSeats(ctx context.Context, accountID uuid.UUID, seats int64) (int64, error)

	// GetAccountDetails returns the seat and membership summary for the
	// account-management UI.
	GetAccountDetails(ctx context.Context, accountID uuid.UUID) (*domain.AccountDetails, error)

	// RemoveMember removes a non-owner member, freeing their seat.
	// Returns domain.EFORBIDDEN when the target is the owner.
	RemoveMember(ctx context.Context, accountID, memberID uuid.UUID) error
}

// SeatStore is the slice of the repository the seat service needs.
type SeatStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetEntitlementValue(ctx context.Context, accountID uuid.UUID, key string) (int64, error)
	AddEntitlement(ctx context.Context, accountID uuid.UUID, key string, delta int64) (int64, error)

	CountMembers(ctx context.Context, accountID uuid.UUID) (int, error)
	ListMembers(ctx context.Context, accountID uuid.UUID) ([]*domain.AccountMember, error)
	GetMember(ctx context.Context, accountID, memberID uuid.UUID) (*domain.AccountMember, error)
	DeleteMember(ctx context.Context, accountID, memberID uuid.UUID) (bool, error)

	CreateInvite(ctx context.Context, params repository.CreateInviteParams) (*domain.Invite, error)
	GetInviteByTokenHash(ctx context.Context, tokenHash string) (*domain.Invite, error)
	CountPendingInvites(ctx context.Context, accountID uuid.UUID, now time.Time) (int, error)
	ListPendingInvites(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*domain.Invite, error)

	AcceptInviteSeat(ctx context.Context, params repository.AcceptInviteSeatParams) (*domain.AccountMember, bool, error)
}

// =============================================================================
// Implementation
// =============================================================================

type seatService struct {
	store   SeatStore
	catalog domain.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewSeatService creates a new SeatService.
func NewSeatService(store SeatStore, catalog domain.Catalog, logger *slog.Logger) SeatService {
	return &seatService{
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *seatService) TotalSeats(ctx context.Context, account *domain.Account) (int, error) {
	const op = "seat.total"

	plan, err := s.catalog.Get(account.Plan)
	if err != nil {
		return 0, err
	}
	addon, err := s.store.GetEntitlementValue(ctx, account.ID, domain.EntitlementKeyAddonSeats)
	if err != nil {
		return 0, domain.Unavailable(err, op)
	}
	return plan.MaxSeats + int(addon), nil
}

// seatCounts returns (total, used, pending) for an account.
func (s *seatService) seatCounts(ctx context.Context, account *domain.Account) (total, used, pending int, err error) {
	const op = "seat.counts"

	total, err = s.TotalSeats(ctx, account)
	if err != nil {
		return 0, 0, 0, err
	}
	used, err = s.store.CountMembers(ctx, account.ID)
	if err != nil {
		return 0, 0, 0, domain.Unavailable(err, op)
	}
	pending, err = s.store.CountPendingInvites(ctx, account.ID, s.now())
	if err != nil {
		return 0, 0, 0, domain.Unavailable(err, op)
	}
	return total, used, pending, nil
}

func (s *seatService) CanInviteMore(ctx context.Context, accountID uuid.UUID) (bool, error) {
	const op = "seat.can_invite"

	account, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.NotFound(op, "account", accountID.String())
	}
	if err != nil {
		return false, domain.Unavailable(err, op)
	}
	total, used, pending, err := s.seatCounts(ctx, account)
	if err != nil {
		return false, err
	}
	return used+pending < total, nil
}

func (s *seatService) CreateInvite(ctx context.Context, accountID, invitedBy uuid.UUID, email string, role domain.MemberRole, canUpload bool) (*InviteResult, error) {
	const op = "seat.create_invite"

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.Invalid(op, "A valid email address is required.")
	}
	if role == domain.MemberRoleOwner {
		return nil, domain.Invalid(op, "An account can only have one owner.")
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "account", accountID.String())
	}
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}

	total, used, pending, err := s.seatCounts(ctx, account)
	if err != nil {
		return nil, err
	}
	if used+pending >= total {
		s.logger.Info("Seat invite denied, pool full",
			"account_id", accountID,
			"total", total, "used", used, "pending", pending,
		)
		return &InviteResult{Decision: domain.DenyQuota(
			domain.DenyNoSeatsAvailable, account.Plan, int64(total), int64(used+pending),
		)}, nil
	}

	raw, hash, err := generateToken()
	if err != nil {
		return nil, domain.Internal(err, op, "failed to generate invite token")
	}

	invite, err := s.store.CreateInvite(ctx, repository.CreateInviteParams{
		AccountID: accountID,
		InvitedBy: invitedBy,
		Email:     email,
		Role:      role,
		CanUpload: canUpload,
		TokenHash: hash,
		ExpiresAt: s.now().Add(domain.InviteDuration),
	})
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}

	metrics.SeatInvitesCreated.Inc()
	s.logger.Info("Seat invite created", "account_id", accountID, "invite_id", invite.ID)
	return &InviteResult{
		Invite:   invite,
		RawToken: raw,
		Decision: domain.Allow(account.Plan),
	}, nil
}

func (s *seatService) AcceptInvite(ctx context.Context, token string, userID uuid.UUID) (*AcceptResult, error) {
	const op = "seat.accept_invite"
	now := s.now()

	invite, err := s.store.GetInviteByTokenHash(ctx, hashToken(token))
	if errors.Is(err, sql.ErrNoRows) {
		return &AcceptResult{Decision: domain.Deny(domain.DenyTokenNotFound)}, nil
	}
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	if !invite.IsRedeemable(now) {
		return &AcceptResult{Decision: domain.Deny(domain.DenyTokenExpired)}, nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	if !strings.EqualFold(user.Email, invite.Email) {
		return &AcceptResult{Decision: domain.Deny(domain.DenyEmailMismatch)}, nil
	}

	// A user already running their own paid account keeps it; they cannot
	// also occupy a seat in someone else's pool.
	own, err := s.store.GetAccountByOwner(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Unavailable(err, op)
	}
	if own != nil {
		plan, err := s.catalog.Get(own.Plan)
		if err != nil {
			return nil, err
		}
		if plan.IsPaid() {
			return &AcceptResult{Decision: domain.Deny(domain.DenyAlreadyPrimary)}, nil
		}
	}

	account, err := s.store.GetAccount(ctx, invite.AccountID)
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	total, err := s.TotalSeats(ctx, account)
	if err != nil {
		return nil, err
	}

	member, seated, err := s.store.AcceptInviteSeat(ctx, repository.AcceptInviteSeatParams{
		InviteID:   invite.ID,
		AccountID:  invite.AccountID,
		UserID:     userID,
		Role:       invite.Role,
		CanUpload:  invite.CanUpload,
		TotalSeats: total,
		Now:        now,
	})
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	if !seated {
		s.logger.Info("Seat invite acceptance denied, pool full",
			"account_id", invite.AccountID, "invite_id", invite.ID)
		return &AcceptResult{Decision: domain.Deny(domain.DenyNoSeatsAvailable)}, nil
	}

	metrics.SeatInvitesAccepted.Inc()
	s.logger.Info("Seat invite accepted",
		"account_id", invite.AccountID, "invite_id", invite.ID, "user_id", userID)
	return &AcceptResult{Member: member, Decision: domain.Allow(account.Plan)}, nil
}

func (s *seatService) AddSeats(ctx context.Context, accountID uuid.UUID, seats int64) (int64, error) {
	const op = "seat.add"

	if seats <= 0 {
		return 0, domain.Invalid(op, "Seat count must be positive.")
	}
	value, err := s.store.AddEntitlement(ctx, accountID, domain.EntitlementKeyAddonSeats, seats)
	if err != nil {
		return 0, domain.Unavailable(err, op)
	}
	s.logger.Info("Add-on seats purchased", "account_id", accountID, "added", seats, "total_addon", value)
	return value, nil
}

func (s *seatService) GetAccountDetails(ctx context.Context, accountID uuid.UUID) (*domain.AccountDetails, error) {
	const op = "seat.account_details"

	account, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "account", accountID.String())
	}
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}

	total, used, _, err := s.seatCounts(ctx, account)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, accountID)
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	pendingInvites, err := s.store.ListPendingInvites(ctx, accountID, s.now())
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}

	available := total - used - len(pendingInvites)
	if available < 0 {
		available = 0
	}
	return &domain.AccountDetails{
		AccountID:      accountID,
		Plan:           account.Plan,
		TotalSeats:     total,
		UsedSeats:      used,
		AvailableSeats: available,
		Members:        members,
		PendingInvites: pendingInvites,
	}, nil
}

func (s *seatService) RemoveMember(ctx context.Context, accountID, memberID uuid.UUID) error {
	const op = "seat.remove_member"

	member, err := s.store.GetMember(ctx, accountID, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, "member", memberID.String())
	}
	if err != nil {
		return domain.Unavailable(err, op)
	}
	if member.Role == domain.MemberRoleOwner {
		return domain.Forbidden(op, "The account owner cannot be removed.")
	}

	removed, err := s.store.DeleteMember(ctx, accountID, memberID)
	if err != nil {
		return domain.Unavailable(err, op)
	}
	if !removed {
		return domain.NotFound(op, "member", memberID.String())
	}
	s.logger.Info("Member removed", "account_id", accountID, "member_id", memberID)
	return nil
}
