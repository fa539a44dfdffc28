package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Gate is the enforcement gate: the single decision point invoked at the
// top of every quota-relevant request path. It never returns an error to
// its callers; infrastructure failures fold into a fail-closed,
// retryable denial, because the default-safe posture for a billing gate
// is restrictive.
type Gate interface {
	// CheckCanUpload decides whether the user may store a new document
	// right now, considering trial lifecycle, plan flags, and the pooled
	// monthly-upload and storage quotas.
	CheckCanUpload(ctx context.Context, userID uuid.UUID) domain.Decision

	// CheckCanUseEmailInbound decides whether the user may ingest
	// documents by email. This is a binary plan entitlement, not a
	// consumable quota: no trial-phase gate and no pooled-usage check.
	// The asymmetry with CheckCanUpload is intentional.
	CheckCanUseEmailInbound(ctx context.Context, userID uuid.UUID) domain.Decision
}

// GateStore is the slice of the repository the gate writes through for the
// lazy trial downgrade.
type GateStore interface {
	DowngradeExpiredTrial(ctx context.Context, id uuid.UUID, from, to domain.PlanID) error
}

// =============================================================================
// Implementation
// =============================================================================

type gate struct {
	links   LinkService
	usage   UsageService
	store   GateStore
	catalog domain.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewGate creates the enforcement gate.
func NewGate(links LinkService, usage UsageService, store GateStore, catalog domain.Catalog, logger *slog.Logger) Gate {
	return &gate{
		links:   links,
		usage:   usage,
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

func (g *gate) CheckCanUpload(ctx context.Context, userID uuid.UUID) domain.Decision {
	decision := g.evaluateUpload(ctx, userID)
	observe("upload", decision)
	return decision
}

func (g *gate) CheckCanUseEmailInbound(ctx context.Context, userID uuid.UUID) domain.Decision {
	decision := g.evaluateEmailInbound(ctx, userID)
	observe("email_inbound", decision)
	return decision
}

func (g *gate) evaluateUpload(ctx context.Context, userID uuid.UUID) domain.Decision {
	const op = "gate.check_upload"
	now := g.now()

	account, decision, ok := g.resolve(ctx, userID, op)
	if !ok {
		return decision
	}

	// Trial lifecycle gate. Only trial-plan accounts carry a meaningful
	// trial window; converted accounts keep trialEndsAt around but their
	// entitlements come from the billing provider.
	if account.Plan == domain.PlanTrial {
		state := domain.ResolveTrialPhase(account.TrialEndsAt, now)
		switch state.Phase {
		case domain.TrialPhaseGrace:
			d := domain.Deny(domain.DenyGracePeriod)
			d.Plan = account.Plan
			d.DaysRemaining = state.GraceDaysRemaining
			return d
		case domain.TrialPhaseExpired:
			// Lazy downgrade to the read-only plan, observed for the
			// first time by whichever request gets here first. Failure
			// to write does not change the outcome: the account is
			// denied either way, and a later request retries the write.
			if err := g.store.DowngradeExpiredTrial(ctx, account.ID, domain.PlanTrial, g.catalog.ReadOnlyPlan()); err != nil {
				g.logger.Error("Trial downgrade failed", "account_id", account.ID, "error", err)
			} else {
				metrics.TrialsDowngraded.Inc()
			}
			d := domain.Deny(domain.DenyReadOnly)
			d.Plan = g.catalog.ReadOnlyPlan()
			return d
		}
	} else if account.SubscriptionEndsAt != nil && !now.Before(*account.SubscriptionEndsAt) {
		// A lapsed subscription behaves like the expired trial: reads
		// stay available, mutations stop.
		d := domain.Deny(domain.DenyReadOnly)
		d.Plan = account.Plan
		return d
	}

	plan, err := g.catalog.Get(account.Plan)
	if err != nil {
		// The catalog being out of sync with stored data is a
		// configuration bug, not a user condition. Alert and fail closed.
		g.logger.Error("Plan catalog out of sync with stored plan",
			"account_id", account.ID, "plan", account.Plan, "error", err)
		metrics.UnknownPlanLookups.Inc()
		return domain.DenyUnavailable()
	}
	if !plan.CanUpload {
		d := domain.Deny(domain.DenyUploadNotAllowed)
		d.Plan = plan.ID
		return d
	}

	usage, err := g.usage.AggregatePool(ctx, account)
	if err != nil {
		g.logger.Error("Pool aggregation failed", "account_id", account.ID, "error", err)
		return domain.DenyUnavailable()
	}
	if usage.UploadsThisMonth >= plan.MaxUploadsPerMonth {
		return domain.DenyQuota(domain.DenyMonthlyUploadLimit, plan.ID, plan.MaxUploadsPerMonth, usage.UploadsThisMonth)
	}
	if usage.StorageBytesTotal >= plan.MaxStorageBytes {
		return domain.DenyQuota(domain.DenyStorageLimit, plan.ID, plan.MaxStorageBytes, usage.StorageBytesTotal)
	}

	return domain.Allow(plan.ID)
}

func (g *gate) evaluateEmailInbound(ctx context.Context, userID uuid.UUID) domain.Decision {
	const op = "gate.check_email_inbound"

	account, decision, ok := g.resolve(ctx, userID, op)
	if !ok {
		return decision
	}

	plan, err := g.catalog.Get(account.Plan)
	if err != nil {
		g.logger.Error("Plan catalog out of sync with stored plan",
			"account_id", account.ID, "plan", account.Plan, "error", err)
		metrics.UnknownPlanLookups.Inc()
		return domain.DenyUnavailable()
	}
	if !plan.CanUseEmailInbound {
		d := domain.Deny(domain.DenyEmailNotAllowed)
		d.Plan = plan.ID
		return d
	}
	return domain.Allow(plan.ID)
}

// resolve looks up the effective billing account and converts resolution
// failures into denials. ok is false when decision should be returned as-is.
func (g *gate) resolve(ctx context.Context, userID uuid.UUID, op string) (*domain.Account, domain.Decision, bool) {
	effective, err := g.links.ResolveEffectiveAccount(ctx, userID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return nil, domain.Deny(domain.DenyAccountNotFound), false
		}
		g.logger.Error("Effective account resolution failed", "op", op, "user_id", userID, "error", err)
		return nil, domain.DenyUnavailable(), false
	}
	return effective.Account, domain.Decision{}, true
}

// observe records the gate decision metric.
func observe(check string, d domain.Decision) {
	outcome := "allow"
	reason := ""
	if !d.Allowed {
		outcome = "deny"
		reason = string(d.Reason)
	}
	metrics.GateDecisions.WithLabelValues(check, outcome, reason).Inc()
}
