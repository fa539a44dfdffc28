// This file implements authentication handlers.
//
// Routes:
//   - POST /auth/register -> Register
//   - POST /auth/login    -> Login
//   - POST /auth/logout   -> Logout
//   - GET  /auth/me       -> Me

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mhollis/docvault/internal/auth"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/service"
	"github.com/mhollis/docvault/internal/session"
)

// AuthHandler handles registration, login, and logout.
type AuthHandler struct {
	users    service.UserService
	logger   *slog.Logger
	isSecure bool // Whether to set Secure flag on cookies (true in production)
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users service.UserService, logger *slog.Logger, isSecure bool) *AuthHandler {
	return &AuthHandler{
		users:    users,
		logger:   logger,
		isSecure: isSecure,
	}
}

// userResponse is the JSON shape for a user. The password hash never
// leaves the service layer, but the explicit struct keeps the contract
// obvious at the handler boundary.
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:    u.ID.String(),
		Email: u.Email,
		Name:  u.Name,
	}
}

// Register handles POST /auth/register.
//
// Creates the user together with their trial account and owner seat,
// then logs them in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("AuthHandler.Register", "Invalid request body"))
		return
	}

	user, account, err := h.users.Register(r.Context(), domain.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	// Log the new user in immediately
	result, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// Registration succeeded but login failed; the user can log in manually
		h.logger.Warn("post-registration login failed", "error", err, "user_id", user.ID)
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"user": toUserResponse(user),
		})
		return
	}

	setSessionCookie(w, result.Token, h.isSecure)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user": toUserResponse(user),
		"account": map[string]interface{}{
			"id":            account.ID.String(),
			"plan":          account.Plan,
			"trial_ends_at": account.TrialEndsAt,
		},
	})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("AuthHandler.Login", "Invalid request body"))
		return
	}

	result, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	setSessionCookie(w, result.Token, h.isSecure)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": toUserResponse(result.User),
	})
}

// Logout handles POST /auth/logout. Idempotent.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		_ = h.users.Logout(r.Context(), cookie.Value)
	}

	clearSessionCookie(w, h.isSecure)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me, returning the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": toUserResponse(user),
	})
}

// =============================================================================
// Cookie Helpers
// =============================================================================

// setSessionCookie sets the session cookie on the response.
func setSessionCookie(w http.ResponseWriter, token string, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     session.CookiePath,
		MaxAge:   session.CookieMaxAge,
		Expires:  time.Now().Add(time.Duration(session.CookieMaxAge) * time.Second),
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie removes the session cookie from the client.
func clearSessionCookie(w http.ResponseWriter, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     session.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
