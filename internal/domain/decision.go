package domain

// DenyReason classifies why the enforcement gate denied a request.
// Denials are expected, common outcomes and travel as data, not errors.
type DenyReason string

const (
	// Policy denials (user-facing, never retried automatically)
	DenyGracePeriod        DenyReason = "grace_period"
	DenyReadOnly           DenyReason = "read_only"
	DenyUploadNotAllowed   DenyReason = "upload_not_allowed"
	DenyMonthlyUploadLimit DenyReason = "monthly_upload_limit"
	DenyStorageLimit       DenyReason = "storage_limit"
	DenyEmailNotAllowed    DenyReason = "email_inbound_not_allowed"
	DenyNoSeatsAvailable   DenyReason = "no_seats_available"
	DenyTokenNotFound      DenyReason = "token_not_found"
	DenyTokenExpired       DenyReason = "token_expired"
	DenyEmailMismatch      DenyReason = "email_mismatch"
	DenyAlreadyPrimary     DenyReason = "already_primary_of_own_account"

	// Infrastructure failures fold into a fail-closed retryable denial.
	DenyAccountNotFound        DenyReason = "account_not_found"
	DenyTemporarilyUnavailable DenyReason = "temporarily_unavailable"
)

// Decision is the result of an enforcement gate check. A denied decision
// carries enough context (limit, current usage, plan, days remaining) for
// the caller to render a precise user message.
type Decision struct {
	Allowed bool
	Reason  DenyReason

	Plan          PlanID
	Limit         int64
	Current       int64
	DaysRemaining int

	// Retryable marks denials caused by infrastructure failures rather
	// than policy; the caller may retry the request.
	Retryable bool
}

// Allow returns an allowing decision for the given plan.
func Allow(plan PlanID) Decision {
	return Decision{Allowed: true, Plan: plan}
}

// Deny returns a denying decision with the given reason.
func Deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// DenyQuota returns a denial for an exhausted consumption quota.
func DenyQuota(reason DenyReason, plan PlanID, limit, current int64) Decision {
	return Decision{
		Allowed: false,
		Reason:  reason,
		Plan:    plan,
		Limit:   limit,
		Current: current,
	}
}

// DenyUnavailable returns the fail-closed denial used when a lookup failed.
// A billing gate must never coerce an infrastructure failure into an allow.
func DenyUnavailable() Decision {
	return Decision{
		Allowed:   false,
		Reason:    DenyTemporarilyUnavailable,
		Retryable: true,
	}
}
