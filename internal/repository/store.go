package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

// Store combines single-statement queries with the multi-statement
// operations that need a transaction. Services depend on the slices of
// this type they use.
type Store struct {
	db *sql.DB
	*Queries
}

// NewStore creates a Store over the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, Queries: New(db)}
}

// CreateUserWithAccount registers a user together with their billing
// account and owner seat in one transaction, so a half-registered user
// (no account, or an account with no owner member) can never exist.
func (s *Store) CreateUserWithAccount(ctx context.Context, userParams CreateUserParams, plan domain.PlanID, trialEndsAt *time.Time) (*domain.User, *domain.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.Queries.WithTx(tx)

	user, err := qtx.CreateUser(ctx, userParams)
	if err != nil {
		return nil, nil, err
	}

	account, err := qtx.CreateAccount(ctx, CreateAccountParams{
		OwnerID:     user.ID,
		Plan:        plan,
		TrialEndsAt: trialEndsAt,
	})
	if err != nil {
		return nil, nil, err
	}

	if _, err := qtx.CreateMember(ctx, CreateMemberParams{
		AccountID: account.ID,
		UserID:    user.ID,
		Role:      domain.MemberRoleOwner,
		CanUpload: true,
	}); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit registration: %w", err)
	}
	return user, account, nil
}

// AcceptInviteSeatParams carries the pre-validated invite acceptance.
type AcceptInviteSeatParams struct {
	InviteID   uuid.UUID
	AccountID  uuid.UUID
	UserID     uuid.UUID
	Role       domain.MemberRole
	CanUpload  bool
	TotalSeats int
	Now        time.Time
}

// AcceptInviteSeat consumes a pending invite and seats the user, with the
// capacity re-check and the member insert inside one transaction behind a
// row lock on the account. Two invites accepted concurrently for the last
// free seat therefore cannot both succeed.
//
// Returns (nil, false, nil) when the pool has no capacity left or the
// invite was consumed by a concurrent acceptance.
func (s *Store) AcceptInviteSeat(ctx context.Context, params AcceptInviteSeatParams) (*domain.AccountMember, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.Queries.WithTx(tx)

	if err := qtx.LockAccount(ctx, params.AccountID); err != nil {
		return nil, false, err
	}

	used, err := qtx.CountMembers(ctx, params.AccountID)
	if err != nil {
		return nil, false, err
	}
	pending, err := qtx.CountPendingInvites(ctx, params.AccountID, params.Now)
	if err != nil {
		return nil, false, err
	}
	// The invite being accepted is still pending and should not count
	// against its own seat.
	if pending > 0 {
		pending--
	}
	if used+pending >= params.TotalSeats {
		return nil, false, nil
	}

	consumed, err := qtx.MarkInviteAccepted(ctx, params.InviteID, params.Now)
	if err != nil {
		return nil, false, err
	}
	if !consumed {
		return nil, false, nil
	}

	member, err := qtx.CreateMember(ctx, CreateMemberParams{
		AccountID: params.AccountID,
		UserID:    params.UserID,
		Role:      params.Role,
		CanUpload: params.CanUpload,
	})
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit invite acceptance: %w", err)
	}
	return member, true, nil
}
