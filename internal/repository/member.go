package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

const memberColumns = `id, account_id, user_id, role, can_upload, created_at`

func scanMember(scanner interface {
	Scan(dest ...interface{}) error
}) (*domain.AccountMember, error) {
	var m domain.AccountMember
	var role string
	err := scanner.Scan(&m.ID, &m.AccountID, &m.UserID, &role, &m.CanUpload, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = domain.MemberRole(role)
	return &m, nil
}

// CreateMemberParams holds the fields for seating a user in an account.
type CreateMemberParams struct {
	AccountID uuid.UUID
	UserID    uuid.UUID
	Role      domain.MemberRole
	CanUpload bool
}

// CreateMember seats a user in an account.
func (q *Queries) CreateMember(ctx context.Context, params CreateMemberParams) (*domain.AccountMember, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO account_members (account_id, user_id, role, can_upload)
		VALUES ($1, $2, $3, $4)
		RETURNING `+memberColumns,
		params.AccountID, params.UserID, string(params.Role), params.CanUpload,
	)
	return scanMember(row)
}

// CountMembers counts the occupied seats of an account.
func (q *Queries) CountMembers(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM account_members WHERE account_id = $1`, accountID,
	).Scan(&count)
	return count, err
}

// ListMembers returns the members of an account, owner first.
func (q *Queries) ListMembers(ctx context.Context, accountID uuid.UUID) ([]*domain.AccountMember, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+memberColumns+` FROM account_members
		WHERE account_id = $1
		ORDER BY (role = 'owner') DESC, created_at`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*domain.AccountMember
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// GetMembershipByUser returns the earliest seat a user occupies, or
// sql.ErrNoRows when the user holds no seat anywhere.
func (q *Queries) GetMembershipByUser(ctx context.Context, userID uuid.UUID) (*domain.AccountMember, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM account_members
		WHERE user_id = $1
		ORDER BY created_at
		LIMIT 1`,
		userID,
	)
	return scanMember(row)
}

// GetMember returns a member row by account and member id.
func (q *Queries) GetMember(ctx context.Context, accountID, memberID uuid.UUID) (*domain.AccountMember, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM account_members
		WHERE account_id = $1 AND id = $2`,
		accountID, memberID,
	)
	return scanMember(row)
}

// DeleteMember removes a non-owner member and frees their seat.
// Owners cannot be removed; deleting one matches no row.
func (q *Queries) DeleteMember(ctx context.Context, accountID, memberID uuid.UUID) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM account_members
		WHERE account_id = $1 AND id = $2 AND role <> 'owner'`,
		accountID, memberID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
