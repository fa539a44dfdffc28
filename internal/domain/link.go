package domain

import (
	"time"

	"github.com/google/uuid"
)

// LinkStatus is the lifecycle status of an account link.
type LinkStatus string

const (
	LinkStatusPending LinkStatus = "pending"
	LinkStatusActive  LinkStatus = "active"
	LinkStatusRevoked LinkStatus = "revoked"
	LinkStatusExpired LinkStatus = "expired"
)

// LinkTokenDuration is how long a link invitation token stays redeemable.
const LinkTokenDuration = 7 * 24 * time.Hour

// AccountLink is the directed relation joining a primary account to a
// linked account. While active, both accounts share one upload-counter and
// storage pool, and the linked account's effective plan is read as the
// primary's plan.
//
// A primary account has at most one active link at a time. This is a
// documented product limit of the current schema, not something the engine
// generalizes past; finding more than one active link is an EINVARIANT
// condition.
type AccountLink struct {
	ID               uuid.UUID
	PrimaryAccountID uuid.UUID

	// LinkedAccountID is set when the invitation is accepted.
	LinkedAccountID *uuid.UUID

	Status LinkStatus

	// InvitedEmail must match the accepting user's registered email.
	InvitedEmail   string
	TokenHash      string
	TokenExpiresAt time.Time

	CreatedAt  time.Time
	AcceptedAt *time.Time
	RevokedAt  *time.Time
}

// IsRedeemable reports whether a pending invitation can still be accepted.
func (l *AccountLink) IsRedeemable(now time.Time) bool {
	return l.Status == LinkStatusPending && now.Before(l.TokenExpiresAt)
}
