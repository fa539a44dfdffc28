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

// LinkService resolves users to their effective billing account and manages
// the account link lifecycle.
type LinkService interface {
	// ResolveEffectiveAccount returns the billing account whose plan and
	// quota pool apply to the user. Resolution runs on every check, never
	// cached at login, so a primary's plan change takes effect for linked
	// users immediately.
	// Returns domain.ENOTFOUND if the user has no resolvable account.
	ResolveEffectiveAccount(ctx context.Context, userID uuid.UUID) (*domain.EffectiveAccount, error)

	// HomeAccount returns the account that owns the user's documents and
	// upload counter: their own account, or the account they hold a seat
	// in. Unlike the effective account, this ignores account links.
	HomeAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error)

	// CreateLinkInvite issues a link invitation from the user's account to
	// the given email. Returns the pending link and the raw token to mail.
	// Returns domain.ECONFLICT if an active link already exists.
	CreateLinkInvite(ctx context.Context, primaryUserID uuid.UUID, email string) (*domain.AccountLink, string, error)

	// AcceptLinkInvite redeems a link invitation token for the accepting
	// user's own account.
	// Returns domain.ENOTFOUND for unknown tokens, domain.EGONE for
	// consumed or expired ones, domain.EFORBIDDEN when the accepting
	// user's registered email does not match the invitation.
	AcceptLinkInvite(ctx context.Context, token string, userID uuid.UUID) (*domain.AccountLink, error)

	// RevokeLink revokes the active link held by the user's account.
	// Returns domain.ENOTFOUND when no active link exists.
	RevokeLink(ctx context.Context, primaryUserID uuid.UUID) error
}

// LinkStore is the slice of the repository the link service reads and writes.
type LinkStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error)
	GetMembershipByUser(ctx context.Context, userID uuid.UUID) (*domain.AccountMember, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)

	CreateLink(ctx context.Context, params repository.CreateLinkParams) (*domain.AccountLink, error)
	GetLinkByTokenHash(ctx context.Context, tokenHash string) (*domain.AccountLink, error)
	ListActiveLinksByPrimary(ctx context.Context, accountID uuid.UUID) ([]*domain.AccountLink, error)
	GetActiveLinkByLinkedAccount(ctx context.Context, accountID uuid.UUID) (*domain.AccountLink, error)
	ActivateLink(ctx context.Context, id, linkedAccountID uuid.UUID, now time.Time) (bool, error)
	RevokeActiveLinks(ctx context.Context, primaryAccountID uuid.UUID, now time.Time) (int64, error)
}

// =============================================================================
// Implementation
// =============================================================================

type linkService struct {
	store  LinkStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLinkService creates a new LinkService.
func NewLinkService(store LinkStore, logger *slog.Logger) LinkService {
	return &linkService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// ResolveEffectiveAccount implements the resolution order:
//  1. the user owns an account -> that account;
//  2. the user occupies a seat in another account -> that account;
//  3. otherwise the user has no resolvable account.
//
// Whichever account resolution lands on, an active inbound link then makes
// the primary's account effective (IsLinked = true). Owners and seat
// members of a linked account read the same entitlements this way.
func (s *linkService) ResolveEffectiveAccount(ctx context.Context, userID uuid.UUID) (*domain.EffectiveAccount, error) {
	const op = "link.resolve_effective"

	own, err := s.store.GetAccountByOwner(ctx, userID)
	switch {
	case err == nil:
		return s.followInboundLink(ctx, op, own)

	case errors.Is(err, sql.ErrNoRows):
		// Seat members do not own an account of their own.
		membership, err := s.store.GetMembershipByUser(ctx, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "account for user", userID.String())
		}
		if err != nil {
			return nil, domain.Unavailable(err, op)
		}
		account, err := s.store.GetAccount(ctx, membership.AccountID)
		if err != nil {
			return nil, domain.Unavailable(err, op)
		}
		return s.followInboundLink(ctx, op, account)

	default:
		return nil, domain.Unavailable(err, op)
	}
}

// followInboundLink promotes an account to its primary's account when the
// account is the accepted party of an active link.
func (s *linkService) followInboundLink(ctx context.Context, op string, account *domain.Account) (*domain.EffectiveAccount, error) {
	link, err := s.store.GetActiveLinkByLinkedAccount(ctx, account.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.EffectiveAccount{Account: account}, nil
	}
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	primary, err := s.store.GetAccount(ctx, link.PrimaryAccountID)
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	return &domain.EffectiveAccount{Account: primary, IsLinked: true}, nil
}

func (s *linkService) HomeAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	const op = "link.home_account"

	own, err := s.store.GetAccountByOwner(ctx, userID)
	if err == nil {
		return own, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Unavailable(err, op)
	}

	membership, err := s.store.GetMembershipByUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "account for user", userID.String())
	}
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	account, err := s.store.GetAccount(ctx, membership.AccountID)
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	return account, nil
}

func (s *linkService) CreateLinkInvite(ctx context.Context, primaryUserID uuid.UUID, email string) (*domain.AccountLink, string, error) {
	const op = "link.create_invite"

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", domain.Invalid(op, "A valid email address is required.")
	}

	account, err := s.store.GetAccountByOwner(ctx, primaryUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", domain.NotFound(op, "account for user", primaryUserID.String())
	}
	if err != nil {
		return nil, "", domain.Unavailable(err, op)
	}

	active, err := s.store.ListActiveLinksByPrimary(ctx, account.ID)
	if err != nil {
		return nil, "", domain.Unavailable(err, op)
	}
	if len(active) > 0 {
		return nil, "", domain.Conflict(op, "This account already has an active link. Revoke it before issuing a new invitation.")
	}

	raw, hash, err := generateToken()
	if err != nil {
		return nil, "", domain.Internal(err, op, "failed to generate invitation token")
	}

	link, err := s.store.CreateLink(ctx, repository.CreateLinkParams{
		PrimaryAccountID: account.ID,
		InvitedEmail:     email,
		TokenHash:        hash,
		TokenExpiresAt:   s.now().Add(domain.LinkTokenDuration),
	})
	if err != nil {
		return nil, "", domain.Unavailable(err, op)
	}

	s.logger.Info("Account link invitation created",
		"primary_account_id", account.ID,
		"link_id", link.ID,
	)
	return link, raw, nil
}

func (s *linkService) AcceptLinkInvite(ctx context.Context, token string, userID uuid.UUID) (*domain.AccountLink, error) {
	const op = "link.accept_invite"
	now := s.now()

	link, err := s.store.GetLinkByTokenHash(ctx, hashToken(token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "link invitation", "token")
	}
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	if !link.IsRedeemable(now) {
		return nil, domain.Errorf(domain.EGONE, op, "This invitation is no longer valid.")
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	if !strings.EqualFold(user.Email, link.InvitedEmail) {
		return nil, domain.Forbidden(op, "This invitation was issued for a different email address.")
	}

	own, err := s.store.GetAccountByOwner(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Invalid(op, "Only a user with their own account can be linked.")
	}
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	if own.ID == link.PrimaryAccountID {
		return nil, domain.Invalid(op, "An account cannot be linked to itself.")
	}

	activated, err := s.store.ActivateLink(ctx, link.ID, own.ID, now)
	if err != nil {
		return nil, domain.Unavailable(err, op)
	}
	if !activated {
		return nil, domain.Errorf(domain.EGONE, op, "This invitation is no longer valid.")
	}

	link.Status = domain.LinkStatusActive
	link.LinkedAccountID = &own.ID
	link.AcceptedAt = &now

	metrics.AccountLinksActivated.Inc()
	s.logger.Info("Account link activated",
		"primary_account_id", link.PrimaryAccountID,
		"linked_account_id", own.ID,
	)
	return link, nil
}

func (s *linkService) RevokeLink(ctx context.Context, primaryUserID uuid.UUID) error {
	const op = "link.revoke"

	account, err := s.store.GetAccountByOwner(ctx, primaryUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, "account for user", primaryUserID.String())
	}
	if err != nil {
		return domain.Unavailable(err, op)
	}

	revoked, err := s.store.RevokeActiveLinks(ctx, account.ID, s.now())
	if err != nil {
		return domain.Unavailable(err, op)
	}
	if revoked == 0 {
		return domain.NotFound(op, "active link for account", account.ID.String())
	}

	s.logger.Info("Account link revoked", "primary_account_id", account.ID)
	return nil
}
