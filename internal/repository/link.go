package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

const linkColumns = `id, primary_account_id, linked_account_id, status,
	invited_email, token_hash, token_expires_at, created_at, accepted_at, revoked_at`

func scanLink(scanner interface {
	Scan(dest ...interface{}) error
}) (*domain.AccountLink, error) {
	var l domain.AccountLink
	var linkedID uuid.NullUUID
	var status string
	var acceptedAt, revokedAt sql.NullTime
	err := scanner.Scan(
		&l.ID, &l.PrimaryAccountID, &linkedID, &status,
		&l.InvitedEmail, &l.TokenHash, &l.TokenExpiresAt,
		&l.CreatedAt, &acceptedAt, &revokedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = domain.LinkStatus(status)
	if linkedID.Valid {
		id := linkedID.UUID
		l.LinkedAccountID = &id
	}
	l.AcceptedAt = timePtr(acceptedAt)
	l.RevokedAt = timePtr(revokedAt)
	return &l, nil
}

// CreateLinkParams holds the fields for issuing a link invitation.
type CreateLinkParams struct {
	PrimaryAccountID uuid.UUID
	InvitedEmail     string
	TokenHash        string
	TokenExpiresAt   time.Time
}

// CreateLink inserts a pending account link invitation.
func (q *Queries) CreateLink(ctx context.Context, params CreateLinkParams) (*domain.AccountLink, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO account_links (primary_account_id, invited_email, token_hash, token_expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+linkColumns,
		params.PrimaryAccountID, params.InvitedEmail, params.TokenHash, params.TokenExpiresAt,
	)
	return scanLink(row)
}

// GetLinkByTokenHash fetches a link invitation by its hashed token.
func (q *Queries) GetLinkByTokenHash(ctx context.Context, tokenHash string) (*domain.AccountLink, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM account_links WHERE token_hash = $1`, tokenHash)
	return scanLink(row)
}

// ListActiveLinksByPrimary returns every active link where the account is
// the primary. The model allows at most one; callers treat more as a data
// invariant violation, which is why this returns a list instead of
// silently picking a row.
func (q *Queries) ListActiveLinksByPrimary(ctx context.Context, accountID uuid.UUID) ([]*domain.AccountLink, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM account_links
		WHERE primary_account_id = $1 AND status = 'active'
		ORDER BY created_at`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*domain.AccountLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// GetActiveLinkByLinkedAccount returns the active link where the given
// account is the accepted (linked) party. Returns sql.ErrNoRows when the
// account is not linked anywhere, which is the common case.
func (q *Queries) GetActiveLinkByLinkedAccount(ctx context.Context, accountID uuid.UUID) (*domain.AccountLink, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM account_links
		WHERE linked_account_id = $1 AND status = 'active'`,
		accountID,
	)
	return scanLink(row)
}

// ActivateLink accepts a pending link invitation. The guard re-checks
// status and token expiry inside the statement; zero rows affected means
// the token was already consumed, revoked, or expired.
func (q *Queries) ActivateLink(ctx context.Context, id, linkedAccountID uuid.UUID, now time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE account_links
		SET status = 'active', linked_account_id = $2, accepted_at = $3
		WHERE id = $1 AND status = 'pending' AND token_expires_at > $3`,
		id, linkedAccountID, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RevokeActiveLinks revokes every active link held by the primary account.
// Returns the number of links revoked.
func (q *Queries) RevokeActiveLinks(ctx context.Context, primaryAccountID uuid.UUID, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE account_links
		SET status = 'revoked', revoked_at = $2
		WHERE primary_account_id = $1 AND status = 'active'`,
		primaryAccountID, now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExpireStaleLinks marks pending invitations whose token lapsed as expired.
func (q *Queries) ExpireStaleLinks(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE account_links
		SET status = 'expired'
		WHERE status = 'pending' AND token_expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
