package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// GetEntitlementValue returns the override value for (account, key), or 0
// when no override exists. Absence is the normal case, not an error.
func (q *Queries) GetEntitlementValue(ctx context.Context, accountID uuid.UUID, key string) (int64, error) {
	var value int64
	err := q.db.QueryRowContext(ctx, `
		SELECT value FROM entitlements WHERE account_id = $1 AND key = $2`,
		accountID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// AddEntitlement increments the override value in place, creating the row
// on first purchase. The increment happens store-side so two racing
// purchases both land; a read-then-overwrite from memory would lose one.
func (q *Queries) AddEntitlement(ctx context.Context, accountID uuid.UUID, key string, delta int64) (int64, error) {
	var value int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO entitlements (account_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, key)
		DO UPDATE SET value = entitlements.value + EXCLUDED.value, updated_at = now()
		RETURNING value`,
		accountID, key, delta,
	).Scan(&value)
	return value, err
}
