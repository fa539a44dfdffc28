package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

const inviteColumns = `id, account_id, invited_by, email, role, can_upload,
	status, token_hash, expires_at, created_at, accepted_at`

func scanInvite(scanner interface {
	Scan(dest ...interface{}) error
}) (*domain.Invite, error) {
	var i domain.Invite
	var role, status string
	var acceptedAt sql.NullTime
	err := scanner.Scan(
		&i.ID, &i.AccountID, &i.InvitedBy, &i.Email, &role, &i.CanUpload,
		&status, &i.TokenHash, &i.ExpiresAt, &i.CreatedAt, &acceptedAt,
	)
	if err != nil {
		return nil, err
	}
	i.Role = domain.MemberRole(role)
	i.Status = domain.InviteStatus(status)
	i.AcceptedAt = timePtr(acceptedAt)
	return &i, nil
}

// CreateInviteParams holds the fields for issuing a seat invite.
type CreateInviteParams struct {
	AccountID uuid.UUID
	InvitedBy uuid.UUID
	Email     string
	Role      domain.MemberRole
	CanUpload bool
	TokenHash string
	ExpiresAt time.Time
}

// CreateInvite inserts a pending seat invite.
func (q *Queries) CreateInvite(ctx context.Context, params CreateInviteParams) (*domain.Invite, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO invites (account_id, invited_by, email, role, can_upload, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+inviteColumns,
		params.AccountID, params.InvitedBy, params.Email, string(params.Role),
		params.CanUpload, params.TokenHash, params.ExpiresAt,
	)
	return scanInvite(row)
}

// GetInviteByTokenHash fetches an invite by its hashed token.
func (q *Queries) GetInviteByTokenHash(ctx context.Context, tokenHash string) (*domain.Invite, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE token_hash = $1`, tokenHash)
	return scanInvite(row)
}

// CountPendingInvites counts unexpired pending invites for an account.
// Each one reserves a seat even though no member occupies it yet.
func (q *Queries) CountPendingInvites(ctx context.Context, accountID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invites
		WHERE account_id = $1 AND status = 'pending' AND expires_at > $2`,
		accountID, now,
	).Scan(&count)
	return count, err
}

// ListPendingInvites returns the unexpired pending invites for an account.
func (q *Queries) ListPendingInvites(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*domain.Invite, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+inviteColumns+` FROM invites
		WHERE account_id = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY created_at`,
		accountID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []*domain.Invite
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}

// MarkInviteAccepted consumes a pending invite. Zero rows affected means a
// concurrent acceptance got there first.
func (q *Queries) MarkInviteAccepted(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE invites
		SET status = 'accepted', accepted_at = $2
		WHERE id = $1 AND status = 'pending'`,
		id, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpireStaleInvites marks pending invites past their expiry as expired.
func (q *Queries) ExpireStaleInvites(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE invites
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
