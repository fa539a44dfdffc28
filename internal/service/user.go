package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// BcryptCost is the cost factor for bcrypt password hashing.
	// Cost 12 provides good security (~250ms on modern hardware) while being
	// fast enough for login flows.
	//
	// SECURITY NOTE: This should NOT be configurable at runtime to prevent
	// accidental weakening. If you need to change it, do so here and redeploy.
	BcryptCost = 12

	// SessionDuration is how long a session remains valid.
	SessionDuration = 7 * 24 * time.Hour

	// MinPasswordLength is the minimum password length.
	// NIST SP 800-63B recommends 8+ characters minimum.
	MinPasswordLength = 8

	// MaxPasswordLength prevents DoS via bcrypt on very long passwords.
	// bcrypt has a 72-byte limit anyway, but we cap earlier for clarity.
	MaxPasswordLength = 72
)

// =============================================================================
// Interface Definition
// =============================================================================

// UserService defines the interface for user-related operations.
type UserService interface {
	// Register creates a new user together with their trial billing
	// account and owner seat.
	// Returns domain.ECONFLICT if email already exists.
	// Returns domain.EINVALID for validation errors.
	Register(ctx context.Context, params domain.RegisterParams) (*domain.User, *domain.Account, error)

	// Login authenticates a user and creates a new session.
	// Returns the user and raw session token on success.
	// Returns domain.EUNAUTHORIZED for invalid credentials.
	Login(ctx context.Context, email, password string) (*domain.LoginResult, error)

	// Logout invalidates a session by its raw token.
	// This is idempotent - calling with an invalid token is not an error.
	Logout(ctx context.Context, token string) error

	// GetByID retrieves a user by their ID.
	// Returns domain.ENOTFOUND if user does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetBySessionToken retrieves a user by their session token.
	// Returns domain.EUNAUTHORIZED if token is invalid or expired.
	GetBySessionToken(ctx context.Context, token string) (*domain.User, error)

	// DeleteExpiredSessions removes all expired sessions from the database.
	// Called periodically by the maintenance worker.
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// UserStore is the slice of the repository the user service uses.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUserWithAccount(ctx context.Context, params repository.CreateUserParams, plan domain.PlanID, trialEndsAt *time.Time) (*domain.User, *domain.Account, error)
	CreateSession(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (*domain.Session, error)
	GetUserBySessionTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// =============================================================================
// Implementation
// =============================================================================

type userService struct {
	store  UserStore
	logger *slog.Logger
	now    func() time.Time
}

// NewUserService creates a new UserService instance.
func NewUserService(store UserStore, logger *slog.Logger) UserService {
	return &userService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Register creates a new user account.
//
// Flow:
// 1. Validate input parameters (email format, password strength)
// 2. Check if email already exists
// 3. Hash the password with bcrypt
// 4. Create the user, trial account, and owner seat in one transaction
//
// Security Considerations:
// - Timing attacks are mitigated by always hashing even on duplicate email
// - The raw password is never logged or stored
func (s *userService) Register(ctx context.Context, params domain.RegisterParams) (*domain.User, *domain.Account, error) {
	const op = "UserService.Register"

	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.Name = strings.TrimSpace(params.Name)

	if err := validateEmail(params.Email); err != nil {
		return nil, nil, domain.Invalid(op, "A valid email address is required.")
	}
	if params.Name == "" {
		return nil, nil, domain.Invalid(op, "Name is required")
	}
	if err := validatePassword(params.Password); err != nil {
		return nil, nil, err
	}

	_, err := s.store.GetUserByEmail(ctx, params.Email)
	if err == nil {
		// User exists - to prevent timing attacks, we hash the password anyway
		_, _ = bcrypt.GenerateFromPassword([]byte(params.Password), BcryptCost)
		return nil, nil, domain.Conflict(op, "Email already registered")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, domain.Internal(err, op, "Failed to check email availability")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(params.Password), BcryptCost)
	if err != nil {
		return nil, nil, domain.Internal(err, op, "Failed to hash password")
	}

	trialEndsAt := s.now().Add(domain.TrialDuration)
	user, account, err := s.store.CreateUserWithAccount(ctx, repository.CreateUserParams{
		Email:        params.Email,
		PasswordHash: string(passwordHash),
		Name:         params.Name,
	}, domain.PlanTrial, &trialEndsAt)
	if err != nil {
		// Unique constraint race between the existence check and the insert
		if strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate") {
			return nil, nil, domain.Conflict(op, "Email already registered")
		}
		return nil, nil, domain.Internal(err, op, "Failed to create user")
	}

	// Clear password hash before returning (security precaution)
	user.PasswordHash = ""

	s.logger.Info("user registered",
		"user_id", user.ID,
		"account_id", account.ID,
		"trial_ends_at", trialEndsAt,
	)
	return user, account, nil
}

// Login authenticates a user and creates a new session.
//
// Security Considerations:
// - Constant-time password comparison via bcrypt
// - Generic error message prevents email enumeration
// - Session token is only returned once and stored hashed
func (s *userService) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	const op = "UserService.Login"

	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Use a dummy hash to maintain constant time
			dummyHash := "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW" // bcrypt hash of "dummy"
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, domain.Unauthorized(op, "Invalid email or password")
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		// Password mismatch - use same error message as user not found
		return nil, domain.Unauthorized(op, "Invalid email or password")
	}

	token, hash, err := generateToken()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate session token")
	}

	_, err = s.store.CreateSession(ctx, user.ID, hash, s.now().Add(SessionDuration))
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create session")
	}

	user.PasswordHash = ""

	s.logger.Info("user logged in", "user_id", user.ID)

	return &domain.LoginResult{
		User:  user,
		Token: token,
	}, nil
}

// Logout invalidates a session. Idempotent: an invalid or already-deleted
// token simply does nothing.
func (s *userService) Logout(ctx context.Context, token string) error {
	if token == "" || len(token) != tokenBytes*2 {
		return nil
	}

	if err := s.store.DeleteSessionByTokenHash(ctx, hashToken(token)); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to delete session", "error", err)
		}
	}
	return nil
}

func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "UserService.GetByID"

	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "user", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *userService) GetBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "UserService.GetBySessionToken"

	if token == "" || len(token) != tokenBytes*2 {
		return nil, domain.Unauthorized(op, "Invalid session")
	}

	user, err := s.store.GetUserBySessionTokenHash(ctx, hashToken(token), s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Unauthorized(op, "Invalid or expired session")
	}
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to validate session")
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *userService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const op = "UserService.DeleteExpiredSessions"

	deleted, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to delete expired sessions")
	}
	if deleted > 0 {
		s.logger.Info("expired sessions deleted", "count", deleted)
	}
	return deleted, nil
}

// =============================================================================
// Validation Helpers
// =============================================================================

// validateEmail performs a minimal syntactic check. Real deliverability is
// proven by the invitation and notification emails themselves.
func validateEmail(email string) error {
	if email == "" || len(email) > 254 {
		return errors.New("invalid email")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return errors.New("invalid email")
	}
	if !strings.Contains(email[at+1:], ".") {
		return errors.New("invalid email")
	}
	return nil
}

func validatePassword(password string) error {
	const op = "UserService.validatePassword"
	if len(password) < MinPasswordLength {
		return domain.Invalid(op, "Password must be at least 8 characters")
	}
	if len(password) > MaxPasswordLength {
		return domain.Invalid(op, "Password must be at most 72 characters")
	}
	return nil
}
