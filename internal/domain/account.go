package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is the billing tenant: the unit that owns a plan, a trial window,
// and the monthly upload counter. Storage usage is never stored on the
// account; it is derived from the account's non-deleted documents at read
// time so it cannot drift from reality.
type Account struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Plan    PlanID

	TrialEndsAt        *time.Time
	SubscriptionEndsAt *time.Time

	StripeCustomerID string
	SubscriptionID   string

	UploadedThisMonth    int64
	UploadCounterResetAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CounterBaseline returns the instant the monthly counter was last reset,
// falling back to the account creation time if it never was. The counter
// reset scheduler compares this against the current calendar month.
func (a *Account) CounterBaseline() time.Time {
	if a.UploadCounterResetAt != nil {
		return *a.UploadCounterResetAt
	}
	return a.CreatedAt
}

// EffectiveAccount is the result of account link resolution: the billing
// account whose plan and quota pool apply to a user's request.
//
// Consumers receive this as an explicit value, never as implicit identity
// mutation, so every quota check acknowledges which account it is checking.
type EffectiveAccount struct {
	Account *Account

	// IsLinked is true when the user reaches this account as the accepted
	// party of an active account link rather than as its owner or member.
	// Linked users inherit the primary's plan and share its pool; billing
	// and seat management UI is suppressed for them.
	IsLinked bool
}

// PoolUsage is the summed consumption of a quota pool: the effective
// account plus every account joined to it by an active link.
type PoolUsage struct {
	AccountIDs        []uuid.UUID
	UploadsThisMonth  int64
	StorageBytesTotal int64
}

// AccountDetails is the seat and membership summary for the
// account-management UI.
type AccountDetails struct {
	AccountID      uuid.UUID
	Plan           PlanID
	TotalSeats     int
	UsedSeats      int
	AvailableSeats int
	Members        []*AccountMember
	PendingInvites []*Invite
}
