package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

func newTestGate(f *fakeStore, now time.Time) *gate {
	logger := discardLogger()
	nowFn := func() time.Time { return now }
	return &gate{
		links:   &linkService{store: f, logger: logger, now: nowFn},
		usage:   &usageService{store: f, sizes: f, logger: logger, now: nowFn},
		store:   f,
		catalog: domain.DefaultCatalog(),
		logger:  logger,
		now:     nowFn,
	}
}

// =============================================================================
// Monthly Upload Limit
// =============================================================================

func TestCheckCanUploadMonthlyLimit(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	reset := now.Add(-24 * time.Hour)

	tests := []struct {
		name        string
		uploaded    int64
		wantAllowed bool
	}{
		{"one below limit allows", 49, true},
		{"at limit denies", 50, false},
		{"over limit denies", 51, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeStore()
			user, account := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
			account.UploadedThisMonth = tt.uploaded
			account.UploadCounterResetAt = &reset

			d := newTestGate(f, now).CheckCanUpload(context.Background(), user.ID)
			if d.Allowed != tt.wantAllowed {
				t.Fatalf("allowed = %v, want %v (reason %q)", d.Allowed, tt.wantAllowed, d.Reason)
			}
			if !tt.wantAllowed {
				if d.Reason != domain.DenyMonthlyUploadLimit {
					t.Errorf("reason = %q, want %q", d.Reason, domain.DenyMonthlyUploadLimit)
				}
				if d.Limit != 50 || d.Current != tt.uploaded {
					t.Errorf("limit/current = %d/%d, want 50/%d", d.Limit, d.Current, tt.uploaded)
				}
			}
		})
	}
}

// =============================================================================
// Pooled Quota Across Linked Accounts
// =============================================================================

func TestCheckCanUploadPoolsLinkedAccounts(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	reset := now.Add(-time.Hour)

	f := newFakeStore()
	primaryUser, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	linkedUser, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linked.ID)

	primary.UploadedThisMonth = 150
	primary.UploadCounterResetAt = &reset
	linked.UploadedThisMonth = 60
	linked.UploadCounterResetAt = &reset

	gate := newTestGate(f, now)

	// Pool is 210 against the family limit of 200: both sides are denied,
	// and the linked user is judged against the primary's plan.
	for _, tt := range []struct {
		name   string
		userID uuid.UUID
	}{
		{"primary owner", primaryUser.ID},
		{"linked owner", linkedUser.ID},
	} {
		t.Run(tt.name, func(t *testing.T) {
			d := gate.CheckCanUpload(context.Background(), tt.userID)
			if d.Allowed {
				t.Fatal("expected denial")
			}
			if d.Reason != domain.DenyMonthlyUploadLimit {
				t.Errorf("reason = %q, want %q", d.Reason, domain.DenyMonthlyUploadLimit)
			}
			if d.Current != 210 {
				t.Errorf("pooled current = %d, want 210", d.Current)
			}
			if d.Plan != domain.PlanFamily {
				t.Errorf("plan = %q, want %q", d.Plan, domain.PlanFamily)
			}
		})
	}
}

func TestCheckCanUploadAllowsUnderPooledLimit(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	reset := now.Add(-time.Hour)

	f := newFakeStore()
	_, primary := f.addUserAccount("primary@example.com", domain.PlanFamily, nil)
	linkedUser, linked := f.addUserAccount("linked@example.com", domain.PlanSolo, nil)
	f.activateLinkBetween(primary.ID, linked.ID)

	primary.UploadedThisMonth = 120
	primary.UploadCounterResetAt = &reset
	linked.UploadedThisMonth = 60
	linked.UploadCounterResetAt = &reset

	d := newTestGate(f, now).CheckCanUpload(context.Background(), linkedUser.ID)
	if !d.Allowed {
		t.Fatalf("expected allow, got %q", d.Reason)
	}
	if d.Plan != domain.PlanFamily {
		t.Errorf("plan = %q, want %q", d.Plan, domain.PlanFamily)
	}
}

// =============================================================================
// Trial Lifecycle
// =============================================================================

func TestCheckCanUploadTrialGrace(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	trialEnd := now.Add(-24 * time.Hour) // one day into the grace period

	f := newFakeStore()
	user, _ := f.addUserAccount("trial@example.com", domain.PlanTrial, &trialEnd)

	d := newTestGate(f, now).CheckCanUpload(context.Background(), user.ID)
	if d.Allowed {
		t.Fatal("expected denial during grace period")
	}
	if d.Reason != domain.DenyGracePeriod {
		t.Errorf("reason = %q, want %q", d.Reason, domain.DenyGracePeriod)
	}
	if d.DaysRemaining != 2 {
		t.Errorf("days remaining = %d, want 2", d.DaysRemaining)
	}
}

func TestCheckCanUploadTrialExpiredDowngrades(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	trialEnd := now.Add(-5 * 24 * time.Hour) // past trial and grace

	f := newFakeStore()
	user, account := f.addUserAccount("expired@example.com", domain.PlanTrial, &trialEnd)

	gate := newTestGate(f, now)
	d := gate.CheckCanUpload(context.Background(), user.ID)
	if d.Allowed {
		t.Fatal("expected denial after trial expiry")
	}
	if d.Reason != domain.DenyReadOnly {
		t.Errorf("reason = %q, want %q", d.Reason, domain.DenyReadOnly)
	}
	if account.Plan != domain.PlanFree {
		t.Errorf("plan after downgrade = %q, want %q", account.Plan, domain.PlanFree)
	}

	// A second check hits the already-downgraded plan and stays denied.
	d = gate.CheckCanUpload(context.Background(), user.ID)
	if d.Allowed || d.Reason != domain.DenyUploadNotAllowed {
		t.Errorf("second check = %v/%q, want deny/%q", d.Allowed, d.Reason, domain.DenyUploadNotAllowed)
	}
}

func TestCheckCanUploadActiveTrialAllows(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	trialEnd := now.Add(10 * 24 * time.Hour)

	f := newFakeStore()
	user, _ := f.addUserAccount("active@example.com", domain.PlanTrial, &trialEnd)

	d := newTestGate(f, now).CheckCanUpload(context.Background(), user.ID)
	if !d.Allowed {
		t.Fatalf("expected allow, got %q", d.Reason)
	}
}

// =============================================================================
// Plan Flags and Subscription State
// =============================================================================

func TestCheckCanUploadReadOnlyPlan(t *testing.T) {
	f := newFakeStore()
	user, _ := f.addUserAccount("free@example.com", domain.PlanFree, nil)

	d := newTestGate(f, time.Now()).CheckCanUpload(context.Background(), user.ID)
	if d.Allowed || d.Reason != domain.DenyUploadNotAllowed {
		t.Errorf("got %v/%q, want deny/%q", d.Allowed, d.Reason, domain.DenyUploadNotAllowed)
	}
}

func TestCheckCanUploadLapsedSubscription(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Hour)

	f := newFakeStore()
	user, account := f.addUserAccount("lapsed@example.com", domain.PlanSolo, nil)
	account.SubscriptionEndsAt = &ended

	d := newTestGate(f, now).CheckCanUpload(context.Background(), user.ID)
	if d.Allowed || d.Reason != domain.DenyReadOnly {
		t.Errorf("got %v/%q, want deny/%q", d.Allowed, d.Reason, domain.DenyReadOnly)
	}
}

func TestCheckCanUploadUnknownPlanFailsClosed(t *testing.T) {
	f := newFakeStore()
	user, account := f.addUserAccount("odd@example.com", domain.PlanSolo, nil)
	account.Plan = "legacy_gold"

	d := newTestGate(f, time.Now()).CheckCanUpload(context.Background(), user.ID)
	if d.Allowed {
		t.Fatal("unknown plan must be denied, never defaulted")
	}
	if d.Reason != domain.DenyTemporarilyUnavailable {
		t.Errorf("reason = %q, want %q", d.Reason, domain.DenyTemporarilyUnavailable)
	}
}

// =============================================================================
// Fail-Closed Behavior
// =============================================================================

func TestCheckCanUploadInfraFailureFailsClosed(t *testing.T) {
	f := newFakeStore()
	user, _ := f.addUserAccount("solo@example.com", domain.PlanSolo, nil)
	f.errListLinks = errors.New("connection refused")

	d := newTestGate(f, time.Now()).CheckCanUpload(context.Background(), user.ID)
	if d.Allowed {
		t.Fatal("infrastructure failure must deny, never allow")
	}
	if d.Reason != domain.DenyTemporarilyUnavailable {
		t.Errorf("reason = %q, want %q", d.Reason, domain.DenyTemporarilyUnavailable)
	}
	if !d.Retryable {
		t.Error("infrastructure denial should be marked retryable")
	}
}

func TestCheckCanUploadUnknownUser(t *testing.T) {
	f := newFakeStore()
	d := newTestGate(f, time.Now()).CheckCanUpload(context.Background(), uuid.New())
	if d.Allowed || d.Reason != domain.DenyAccountNotFound {
		t.Errorf("got %v/%q, want deny/%q", d.Allowed, d.Reason, domain.DenyAccountNotFound)
	}
}

// =============================================================================
// Email Inbound
// =============================================================================

func TestCheckCanUseEmailInbound(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		plan        domain.PlanID
		wantAllowed bool
		wantReason  domain.DenyReason
	}{
		{"family plan allows", domain.PlanFamily, true, ""},
		{"pro plan allows", domain.PlanPro, true, ""},
		{"solo plan denies", domain.PlanSolo, false, domain.DenyEmailNotAllowed},
		{"trial denies", domain.PlanTrial, false, domain.DenyEmailNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeStore()
			user, _ := f.addUserAccount("u@example.com", tt.plan, nil)

			d := newTestGate(f, now).CheckCanUseEmailInbound(context.Background(), user.ID)
			if d.Allowed != tt.wantAllowed {
				t.Fatalf("allowed = %v, want %v", d.Allowed, tt.wantAllowed)
			}
			if !tt.wantAllowed && d.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

// Email inbound is a binary entitlement: a family-plan pool that exhausted
// its upload quota can still ingest by email.
func TestCheckCanUseEmailInboundIgnoresQuota(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	f := newFakeStore()
	user, account := f.addUserAccount("full@example.com", domain.PlanFamily, nil)
	account.UploadedThisMonth = 500
	account.UploadCounterResetAt = &now

	d := newTestGate(f, now).CheckCanUseEmailInbound(context.Background(), user.ID)
	if !d.Allowed {
		t.Fatalf("expected allow despite exhausted upload quota, got %q", d.Reason)
	}
}
