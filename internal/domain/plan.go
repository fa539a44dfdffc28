// Package domain contains core business types and interfaces.
//
// This file defines the plan catalog: the static, immutable mapping from
// plan identifier to entitlement limits. The catalog is built once at
// startup and never mutated; lookups of unknown plans fail loudly because
// a silently-defaulted entry would grant unlimited access.
package domain

// PlanID identifies a subscription plan.
type PlanID string

const (
	PlanTrial  PlanID = "trial"
	PlanFree   PlanID = "free"
	PlanSolo   PlanID = "solo"
	PlanFamily PlanID = "family"
	PlanPro    PlanID = "pro"
)

// EntitlementKeyAddonSeats is the per-account override key for purchased
// add-on seats, additive to the plan's base seat count.
const EntitlementKeyAddonSeats = "addon_seats"

// Plan holds the limits and feature flags for one subscription plan.
type Plan struct {
	ID                 PlanID
	MaxUploadsPerMonth int64
	MaxStorageBytes    int64
	MaxSeats           int
	CanUpload          bool // false makes the plan read-only by design
	CanUseEmailInbound bool
}

// IsPaid reports whether the plan is a purchased (non-trial, non-free) plan.
func (p Plan) IsPaid() bool {
	return p.ID != PlanTrial && p.ID != PlanFree
}

// Catalog is the static plan catalog.
type Catalog map[PlanID]Plan

// DefaultCatalog returns the production plan catalog.
func DefaultCatalog() Catalog {
	const gib = 1 << 30
	return Catalog{
		PlanTrial: {
			ID:                 PlanTrial,
			MaxUploadsPerMonth: 30,
			MaxStorageBytes:    1 * gib,
			MaxSeats:           1,
			CanUpload:          true,
		},
		PlanFree: {
			ID:       PlanFree,
			MaxSeats: 1,
			// Read-only: existing documents stay accessible, no new uploads.
			CanUpload: false,
		},
		PlanSolo: {
			ID:                 PlanSolo,
			MaxUploadsPerMonth: 50,
			MaxStorageBytes:    5 * gib,
			MaxSeats:           1,
			CanUpload:          true,
		},
		PlanFamily: {
			ID:                 PlanFamily,
			MaxUploadsPerMonth: 200,
			MaxStorageBytes:    25 * gib,
			MaxSeats:           4,
			CanUpload:          true,
			CanUseEmailInbound: true,
		},
		PlanPro: {
			ID:                 PlanPro,
			MaxUploadsPerMonth: 1000,
			MaxStorageBytes:    100 * gib,
			MaxSeats:           10,
			CanUpload:          true,
			CanUseEmailInbound: true,
		},
	}
}

// Get looks up a plan by ID.
// Returns an EINTERNAL error for unknown plans: a missing catalog entry is a
// configuration bug (stored data out of sync with the catalog), and callers
// must deny rather than default.
func (c Catalog) Get(id PlanID) (Plan, error) {
	plan, ok := c[id]
	if !ok {
		return Plan{}, Errorf(EINTERNAL, "plan.lookup", "unknown plan %q", id)
	}
	return plan, nil
}

// ReadOnlyPlan returns the plan accounts are lazily downgraded to once
// their trial fully expires.
func (c Catalog) ReadOnlyPlan() PlanID {
	return PlanFree
}
