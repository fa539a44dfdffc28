package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
)

const userColumns = `id, email, password_hash, name, created_at, updated_at`

func scanUser(scanner interface {
	Scan(dest ...interface{}) error
}) (*domain.User, error) {
	var u domain.User
	err := scanner.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUserParams holds the fields for user creation.
type CreateUserParams struct {
	Email        string
	PasswordHash string
	Name         string
}

// CreateUser inserts a new user.
func (q *Queries) CreateUser(ctx context.Context, params CreateUserParams) (*domain.User, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, name)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		params.Email, params.PasswordHash, params.Name,
	)
	return scanUser(row)
}

// GetUser fetches a user by ID.
func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail fetches a user by email (stored lowercased).
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// CreateSession inserts a session row with a hashed token.
func (q *Queries) CreateSession(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (*domain.Session, error) {
	var s domain.Session
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, token_hash, expires_at, created_at`,
		userID, tokenHash, expiresAt,
	).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetUserBySessionTokenHash returns the user for a live session.
func (q *Queries) GetUserBySessionTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.password_hash, u.name, u.created_at, u.updated_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND s.expires_at > $2`,
		tokenHash, now,
	)
	return scanUser(row)
}

// DeleteSessionByTokenHash removes one session. Idempotent.
func (q *Queries) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteExpiredSessions removes sessions past their expiry.
func (q *Queries) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
