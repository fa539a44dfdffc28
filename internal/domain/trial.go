package domain

import "time"

// Trial lifecycle durations.
const (
	// TrialDuration is the length of the free trial started at signup.
	TrialDuration = 14 * 24 * time.Hour

	// GraceDuration is the window after trial expiry during which uploads
	// and edits are blocked but reads remain available, before the account
	// is downgraded to the read-only plan.
	GraceDuration = 3 * 24 * time.Hour
)

// TrialPhase is the time-derived lifecycle phase of a trial account.
type TrialPhase string

const (
	TrialPhaseActive  TrialPhase = "active"
	TrialPhaseGrace   TrialPhase = "grace_period"
	TrialPhaseExpired TrialPhase = "expired"
)

// TrialState is the resolved lifecycle phase plus the remaining-day counters
// used for UI display and reminder scheduling.
type TrialState struct {
	Phase TrialPhase

	// TrialDaysRemaining is the number of whole-or-partial days until the
	// trial ends. Zero outside the active phase.
	TrialDaysRemaining int

	// GraceDaysRemaining is the number of whole-or-partial days until the
	// grace period ends. Zero outside the grace phase.
	GraceDaysRemaining int
}

// ResolveTrialPhase computes the lifecycle phase for an account from its
// trial end timestamp. It is a pure function of (trialEndsAt, now) so that
// every call site shares the same boundary behavior.
//
// Boundary instants resolve to the later state: now == trialEndsAt is
// already grace_period, and now == trialEndsAt + GraceDuration is already
// expired. Ties favor restriction, not permission.
//
// A nil trialEndsAt means the resolver does not apply (the account is on a
// provider-managed plan); callers bypass the trial gate in that case.
func ResolveTrialPhase(trialEndsAt *time.Time, now time.Time) TrialState {
	if trialEndsAt == nil {
		return TrialState{Phase: TrialPhaseActive}
	}

	if now.Before(*trialEndsAt) {
		return TrialState{
			Phase:              TrialPhaseActive,
			TrialDaysRemaining: ceilDays(trialEndsAt.Sub(now)),
		}
	}

	graceEndsAt := trialEndsAt.Add(GraceDuration)
	if now.Before(graceEndsAt) {
		return TrialState{
			Phase:              TrialPhaseGrace,
			GraceDaysRemaining: ceilDays(graceEndsAt.Sub(now)),
		}
	}

	return TrialState{Phase: TrialPhaseExpired}
}

// ceilDays converts a positive duration to days, rounding any partial day up.
func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	const day = 24 * time.Hour
	return int((d + day - 1) / day)
}
