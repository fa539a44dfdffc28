package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/email"
	"github.com/mhollis/docvault/internal/metrics"
)

// === Token expiry sweeps ===

// InviteSweepStore is the persistence surface for the invite expiry sweep.
type InviteSweepStore interface {
	ExpireStaleInvites(ctx context.Context, now time.Time) (int64, error)
}

// ExpireInvitesTask marks seat invites past their token expiry so they stop
// counting against the inviting account's seat pool.
type ExpireInvitesTask struct {
	store  InviteSweepStore
	logger *slog.Logger
	now    func() time.Time
}

func NewExpireInvitesTask(store InviteSweepStore, logger *slog.Logger) *ExpireInvitesTask {
	return &ExpireInvitesTask{store: store, logger: logger, now: time.Now}
}

func (t *ExpireInvitesTask) Name() string            { return "expire_invites" }
func (t *ExpireInvitesTask) Interval() time.Duration { return time.Hour }

func (t *ExpireInvitesTask) Run(ctx context.Context) error {
	count, err := t.store.ExpireStaleInvites(ctx, t.now().UTC())
	if err != nil {
		return fmt.Errorf("expire stale invites: %w", err)
	}
	if count > 0 {
		t.logger.Info("Expired stale seat invites", "count", count)
	}
	return nil
}

// LinkSweepStore is the persistence surface for the link expiry sweep.
type LinkSweepStore interface {
	ExpireStaleLinks(ctx context.Context, now time.Time) (int64, error)
}

// ExpireLinksTask marks pending account links whose redemption tokens have
// lapsed without being accepted.
type ExpireLinksTask struct {
	store  LinkSweepStore
	logger *slog.Logger
	now    func() time.Time
}

func NewExpireLinksTask(store LinkSweepStore, logger *slog.Logger) *ExpireLinksTask {
	return &ExpireLinksTask{store: store, logger: logger, now: time.Now}
}

func (t *ExpireLinksTask) Name() string            { return "expire_links" }
func (t *ExpireLinksTask) Interval() time.Duration { return time.Hour }

func (t *ExpireLinksTask) Run(ctx context.Context) error {
	count, err := t.store.ExpireStaleLinks(ctx, t.now().UTC())
	if err != nil {
		return fmt.Errorf("expire stale links: %w", err)
	}
	if count > 0 {
		t.logger.Info("Expired stale account links", "count", count)
	}
	return nil
}

// === Session cleanup ===

// SessionSweepStore is the persistence surface for the session sweep.
type SessionSweepStore interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// CleanupSessionsTask deletes sessions past their expiry.
type CleanupSessionsTask struct {
	store  SessionSweepStore
	logger *slog.Logger
	now    func() time.Time
}

func NewCleanupSessionsTask(store SessionSweepStore, logger *slog.Logger) *CleanupSessionsTask {
	return &CleanupSessionsTask{store: store, logger: logger, now: time.Now}
}

func (t *CleanupSessionsTask) Name() string            { return "cleanup_sessions" }
func (t *CleanupSessionsTask) Interval() time.Duration { return time.Hour }

func (t *CleanupSessionsTask) Run(ctx context.Context) error {
	count, err := t.store.DeleteExpiredSessions(ctx, t.now().UTC())
	if err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	if count > 0 {
		t.logger.Info("Deleted expired sessions", "count", count)
	}
	return nil
}

// === Trial lifecycle notices ===

// TrialNoticeStore is the persistence surface for the trial notice task.
type TrialNoticeStore interface {
	ListTrialAccounts(ctx context.Context, plan domain.PlanID) ([]*domain.Account, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	DowngradeExpiredTrial(ctx context.Context, id uuid.UUID, from, to domain.PlanID) error
}

// TrialNoticesTask walks trial accounts daily, emails owners whose trials
// are ending or in grace, and downgrades accounts whose grace period has
// run out. The enforcement gate performs the same downgrade lazily on the
// request path; this task catches accounts nobody touches.
//
// The daily interval doubles as the duplicate bound: an owner gets at most
// one notice per day per phase transition, without a delivery ledger.
type TrialNoticesTask struct {
	store   TrialNoticeStore
	emails  email.EmailService // nil disables notices, downgrades still run
	catalog domain.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

func NewTrialNoticesTask(store TrialNoticeStore, emails email.EmailService, catalog domain.Catalog, logger *slog.Logger) *TrialNoticesTask {
	return &TrialNoticesTask{
		store:   store,
		emails:  emails,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

func (t *TrialNoticesTask) Name() string            { return "trial_notices" }
func (t *TrialNoticesTask) Interval() time.Duration { return 24 * time.Hour }

func (t *TrialNoticesTask) Run(ctx context.Context) error {
	now := t.now().UTC()

	accounts, err := t.store.ListTrialAccounts(ctx, domain.PlanTrial)
	if err != nil {
		return fmt.Errorf("list trial accounts: %w", err)
	}

	var failed int
	for _, account := range accounts {
		if err := t.processAccount(ctx, account, now); err != nil {
			t.logger.Error("Failed to process trial account",
				"account_id", account.ID,
				"error", err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("trial notices: %d of %d accounts failed", failed, len(accounts))
	}
	return nil
}

func (t *TrialNoticesTask) processAccount(ctx context.Context, account *domain.Account, now time.Time) error {
	state := domain.ResolveTrialPhase(account.TrialEndsAt, now)

	switch state.Phase {
	case domain.TrialPhaseActive:
		// Remind at three days out and again the day before.
		if state.TrialDaysRemaining > 3 {
			return nil
		}
		return t.notify(ctx, account, func(owner *domain.User) error {
			return t.emails.SendTrialEndingSoonEmail(ctx, owner.Email, owner.DisplayName(), state.TrialDaysRemaining)
		})

	case domain.TrialPhaseGrace:
		return t.notify(ctx, account, func(owner *domain.User) error {
			return t.emails.SendGracePeriodEmail(ctx, owner.Email, owner.DisplayName(), state.GraceDaysRemaining)
		})

	case domain.TrialPhaseExpired:
		readOnly := t.catalog.ReadOnlyPlan()
		if err := t.store.DowngradeExpiredTrial(ctx, account.ID, domain.PlanTrial, readOnly); err != nil {
			return fmt.Errorf("downgrade expired trial: %w", err)
		}
		metrics.TrialsDowngraded.Inc()
		t.logger.Info("Downgraded expired trial",
			"account_id", account.ID,
			"plan", readOnly)
		return t.notify(ctx, account, func(owner *domain.User) error {
			return t.emails.SendReadOnlyEmail(ctx, owner.Email, owner.DisplayName())
		})
	}

	return nil
}

// notify looks up the account owner and sends them one notice. Delivery
// failures are logged rather than returned so a bad mailbox cannot stall
// the sweep or block a downgrade.
func (t *TrialNoticesTask) notify(ctx context.Context, account *domain.Account, send func(owner *domain.User) error) error {
	if t.emails == nil {
		return nil
	}

	owner, err := t.store.GetUser(ctx, account.OwnerID)
	if err != nil {
		return fmt.Errorf("get account owner: %w", err)
	}

	if err := send(owner); err != nil {
		t.logger.Error("Failed to send trial notice",
			"account_id", account.ID,
			"error", err)
	}
	return nil
}
