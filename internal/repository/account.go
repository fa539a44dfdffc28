package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

const accountColumns = `id, owner_id, plan, trial_ends_at, subscription_ends_at,
	stripe_customer_id, subscription_id, uploaded_this_month,
	upload_counter_reset_at, created_at, updated_at`

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var trialEndsAt, subscriptionEndsAt, counterResetAt sql.NullTime
	var plan string
	err := row.Scan(
		&a.ID, &a.OwnerID, &plan, &trialEndsAt, &subscriptionEndsAt,
		&a.StripeCustomerID, &a.SubscriptionID, &a.UploadedThisMonth,
		&counterResetAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Plan = domain.PlanID(plan)
	a.TrialEndsAt = timePtr(trialEndsAt)
	a.SubscriptionEndsAt = timePtr(subscriptionEndsAt)
	a.UploadCounterResetAt = timePtr(counterResetAt)
	return &a, nil
}

// CreateAccountParams holds the fields for account creation at signup.
type CreateAccountParams struct {
	OwnerID     uuid.UUID
	Plan        domain.PlanID
	TrialEndsAt *time.Time
}

// CreateAccount inserts a new billing account.
func (q *Queries) CreateAccount(ctx context.Context, params CreateAccountParams) (*domain.Account, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO accounts (owner_id, plan, trial_ends_at)
		VALUES ($1, $2, $3)
		RETURNING `+accountColumns,
		params.OwnerID, string(params.Plan), nullTime(params.TrialEndsAt),
	)
	return scanAccount(row)
}

// GetAccount fetches an account by ID.
func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetAccountByOwner fetches the account a user holds outright.
func (q *Queries) GetAccountByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1`, ownerID)
	return scanAccount(row)
}

// LockAccount takes a row lock on the account for the duration of the
// surrounding transaction. Invite acceptance locks the account before
// re-checking seat capacity so concurrent acceptances serialize.
func (q *Queries) LockAccount(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return err
}

// DowngradeExpiredTrial moves an account from the trial plan to the
// read-only plan. The WHERE guard makes the lazy downgrade idempotent under
// concurrent gate evaluations: only the first writer changes the row.
func (q *Queries) DowngradeExpiredTrial(ctx context.Context, id uuid.UUID, from, to domain.PlanID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE accounts
		SET plan = $3, updated_at = now()
		WHERE id = $1 AND plan = $2`,
		id, string(from), string(to),
	)
	return err
}

// UpdateAccountBillingParams holds billing-provider driven field updates.
type UpdateAccountBillingParams struct {
	ID                 uuid.UUID
	Plan               domain.PlanID
	TrialEndsAt        *time.Time
	SubscriptionEndsAt *time.Time
	SubscriptionID     string
}

// UpdateAccountBilling applies a plan/period change reported by the billing
// provider. The engine treats these fields as already-correct inputs.
func (q *Queries) UpdateAccountBilling(ctx context.Context, params UpdateAccountBillingParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE accounts
		SET plan = $2, trial_ends_at = $3, subscription_ends_at = $4,
		    subscription_id = $5, updated_at = now()
		WHERE id = $1`,
		params.ID, string(params.Plan), nullTime(params.TrialEndsAt),
		nullTime(params.SubscriptionEndsAt), params.SubscriptionID,
	)
	return err
}

// SetStripeCustomerID stores the billing provider's customer reference.
func (q *Queries) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE accounts SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`,
		id, customerID,
	)
	return err
}

// GetAccountByStripeCustomer fetches an account by its Stripe customer id.
func (q *Queries) GetAccountByStripeCustomer(ctx context.Context, customerID string) (*domain.Account, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
	return scanAccount(row)
}

// ListTrialAccounts returns accounts still on the trial plan that carry a
// trial end timestamp. The maintenance worker walks these for reminder
// emails and proactive downgrades.
func (q *Queries) ListTrialAccounts(ctx context.Context, plan domain.PlanID) ([]*domain.Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE plan = $1 AND trial_ends_at IS NOT NULL
		ORDER BY trial_ends_at`,
		string(plan),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		var a domain.Account
		var trialEndsAt, subscriptionEndsAt, counterResetAt sql.NullTime
		var planCol string
		if err := rows.Scan(
			&a.ID, &a.OwnerID, &planCol, &trialEndsAt, &subscriptionEndsAt,
			&a.StripeCustomerID, &a.SubscriptionID, &a.UploadedThisMonth,
			&counterResetAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		a.Plan = domain.PlanID(planCol)
		a.TrialEndsAt = timePtr(trialEndsAt)
		a.SubscriptionEndsAt = timePtr(subscriptionEndsAt)
		a.UploadCounterResetAt = timePtr(counterResetAt)
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// ReserveUploads atomically adds n to the monthly counter and returns the
// new value. Enforcement is increment-then-compare: the caller compares the
// returned value against the plan limit and calls ReleaseUploads to roll
// back on overshoot. Two concurrent uploads therefore cannot both slip
// through a check-then-act window.
func (q *Queries) ReserveUploads(ctx context.Context, id uuid.UUID, n int64) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET uploaded_this_month = uploaded_this_month + $2, updated_at = now()
		WHERE id = $1
		RETURNING uploaded_this_month`,
		id, n,
	).Scan(&count)
	return count, err
}

// ReleaseUploads rolls back a reservation that overshot the limit or whose
// upload failed after reserving.
func (q *Queries) ReleaseUploads(ctx context.Context, id uuid.UUID, n int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE accounts
		SET uploaded_this_month = GREATEST(uploaded_this_month - $2, 0), updated_at = now()
		WHERE id = $1`,
		id, n,
	)
	return err
}

// ResetUploadCounterIfStale zeroes the monthly counter when the counter's
// baseline month (last reset, or account creation if never reset) is
// strictly earlier than now's month, both in UTC.
//
// The comparison runs inside the single UPDATE statement, so concurrent
// callers at a month boundary are harmless: the second sees a fresh
// baseline and matches no row, and a counter increment committed after one
// resetter's read cannot be clobbered because there is no separate read.
func (q *Queries) ResetUploadCounterIfStale(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE accounts
		SET uploaded_this_month = 0, upload_counter_reset_at = $2, updated_at = now()
		WHERE id = $1
		  AND date_trunc('month', COALESCE(upload_counter_reset_at, created_at) AT TIME ZONE 'UTC')
		    < date_trunc('month', $2::timestamptz AT TIME ZONE 'UTC')`,
		id, now.UTC(),
	)
	return err
}
