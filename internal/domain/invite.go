package domain

import (
	"time"

	"github.com/google/uuid"
)

// InviteStatus is the lifecycle status of a seat invite.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusExpired  InviteStatus = "expired"
)

// InviteDuration is how long a seat invite remains redeemable.
const InviteDuration = 7 * 24 * time.Hour

// MemberRole is the role a member holds within an account.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleMember MemberRole = "member"
)

// Invite is a pending seat reservation. A pending invite reserves a seat
// optimistically even though no member occupies it yet: counting pending
// invites against capacity is what keeps used + pending <= total at all
// times (see the seat service).
type Invite struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	InvitedBy uuid.UUID

	Email     string
	Role      MemberRole
	CanUpload bool

	Status    InviteStatus
	TokenHash string
	ExpiresAt time.Time

	CreatedAt  time.Time
	AcceptedAt *time.Time
}

// IsRedeemable reports whether the invite can still be accepted.
func (i *Invite) IsRedeemable(now time.Time) bool {
	return i.Status == InviteStatusPending && now.Before(i.ExpiresAt)
}

// AccountMember is the occupation of one seat by one user. Exactly one
// member per account holds the owner role; owners cannot be removed.
type AccountMember struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	UserID    uuid.UUID
	Role      MemberRole
	CanUpload bool
	CreatedAt time.Time
}
