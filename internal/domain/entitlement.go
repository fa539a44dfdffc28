package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement is a per-account keyed override additive to the plan's base
// allowance, e.g. "addon_seats" -> 2. At most one row exists per
// (account, key) pair; purchases increment the value in place at the store
// so concurrent purchases cannot lose updates.
type Entitlement struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Key       string
	Value     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
