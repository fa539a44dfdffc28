// This file implements account, seat, and link management handlers.
//
// Routes (all require an authenticated user):
//   - GET    /account                    -> GetAccount
//   - GET    /account/usage              -> GetUsage
//   - POST   /account/invites            -> CreateInvite
//   - POST   /invites/accept             -> AcceptInvite
//   - DELETE /account/members/{memberID} -> RemoveMember
//   - POST   /account/links              -> CreateLinkInvite
//   - POST   /links/accept               -> AcceptLinkInvite
//   - DELETE /account/links              -> RevokeLink
//   - GET    /account/entitlements/upload        -> CheckUpload
//   - GET    /account/entitlements/email-inbound -> CheckEmailInbound

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/mhollis/docvault/internal/auth"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/email"
	"github.com/mhollis/docvault/internal/service"
)

// AccountHandler handles account, seat, and link management.
type AccountHandler struct {
	seats  service.SeatService
	links  service.LinkService
	usage  service.UsageService
	gate   service.Gate
	emails email.EmailService
	logger *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
// emails may be nil when SMTP is not configured (invites still work,
// the raw token is returned in the response for out-of-band delivery).
func NewAccountHandler(
	seats service.SeatService,
	links service.LinkService,
	usage service.UsageService,
	gate service.Gate,
	emails email.EmailService,
	logger *slog.Logger,
) *AccountHandler {
	return &AccountHandler{
		seats:  seats,
		links:  links,
		usage:  usage,
		gate:   gate,
		emails: emails,
		logger: logger,
	}
}

// decisionResponse is the JSON shape for a gate decision.
type decisionResponse struct {
	Allowed       bool              `json:"allowed"`
	Reason        domain.DenyReason `json:"reason,omitempty"`
	Plan          domain.PlanID     `json:"plan,omitempty"`
	Limit         int64             `json:"limit,omitempty"`
	Current       int64             `json:"current,omitempty"`
	DaysRemaining int               `json:"days_remaining,omitempty"`
	Retryable     bool              `json:"retryable,omitempty"`
}

func toDecisionResponse(d domain.Decision) decisionResponse {
	return decisionResponse{
		Allowed:       d.Allowed,
		Reason:        d.Reason,
		Plan:          d.Plan,
		Limit:         d.Limit,
		Current:       d.Current,
		DaysRemaining: d.DaysRemaining,
		Retryable:     d.Retryable,
	}
}

// GetAccount handles GET /account.
//
// Returns the caller's effective account with its seat details. Seat users
// and linked owners see the account their membership resolves to.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	effective, err := h.links.ResolveEffectiveAccount(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	details, err := h.seats.GetAccountDetails(r.Context(), effective.Account.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	members := make([]map[string]interface{}, 0, len(details.Members))
	for _, m := range details.Members {
		members = append(members, map[string]interface{}{
			"id":         m.ID.String(),
			"user_id":    m.UserID.String(),
			"role":       m.Role,
			"can_upload": m.CanUpload,
		})
	}
	invites := make([]map[string]interface{}, 0, len(details.PendingInvites))
	for _, inv := range details.PendingInvites {
		invites = append(invites, map[string]interface{}{
			"id":         inv.ID.String(),
			"email":      inv.Email,
			"role":       inv.Role,
			"expires_at": inv.ExpiresAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": map[string]interface{}{
			"id":              details.AccountID.String(),
			"plan":            details.Plan,
			"is_linked":       effective.IsLinked,
			"total_seats":     details.TotalSeats,
			"used_seats":      details.UsedSeats,
			"available_seats": details.AvailableSeats,
			"members":         members,
			"pending_invites": invites,
		},
	})
}

// GetUsage handles GET /account/usage.
//
// Returns the pooled upload and storage usage for the caller's effective
// account, aggregated across any linked accounts.
func (h *AccountHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	effective, err := h.links.ResolveEffectiveAccount(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	pool, err := h.usage.AggregatePool(r.Context(), effective.Account)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"usage": map[string]interface{}{
			"uploads_this_month":  pool.UploadsThisMonth,
			"storage_bytes_total": pool.StorageBytesTotal,
			"pooled_accounts":     len(pool.AccountIDs),
		},
	})
}

// CreateInvite handles POST /account/invites.
//
// Only the account owner can invite. A pending invite reserves a seat
// until it is accepted or expires.
func (h *AccountHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req struct {
		Email     string            `json:"email"`
		Role      domain.MemberRole `json:"role"`
		CanUpload bool              `json:"can_upload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("AccountHandler.CreateInvite", "Invalid request body"))
		return
	}
	if req.Role == "" {
		req.Role = domain.MemberRoleMember
	}

	account, err := h.links.HomeAccount(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if account.OwnerID != user.ID {
		ForbiddenResponse(w, r, h.logger)
		return
	}

	result, err := h.seats.CreateInvite(r.Context(), account.ID, user.ID, req.Email, req.Role, req.CanUpload)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !result.Decision.Allowed {
		DeniedResponse(w, r, h.logger, result.Decision)
		return
	}

	h.sendInviteEmail(r.Context(), user, result.Invite.Email, result.RawToken)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"invite": map[string]interface{}{
			"id":         result.Invite.ID.String(),
			"email":      result.Invite.Email,
			"role":       result.Invite.Role,
			"expires_at": result.Invite.ExpiresAt,
		},
	})
}

// AcceptInvite handles POST /invites/accept.
func (h *AccountHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("AccountHandler.AcceptInvite", "A token is required"))
		return
	}

	result, err := h.seats.AcceptInvite(r.Context(), req.Token, user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !result.Decision.Allowed {
		DeniedResponse(w, r, h.logger, result.Decision)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"member": map[string]interface{}{
			"id":         result.Member.ID.String(),
			"account_id": result.Member.AccountID.String(),
			"role":       result.Member.Role,
			"can_upload": result.Member.CanUpload,
		},
	})
}

// RemoveMember handles DELETE /account/members/{memberID}.
func (h *AccountHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	memberID, err := uuid.Parse(r.PathValue("memberID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("AccountHandler.RemoveMember", "Invalid member ID"))
		return
	}

	account, err := h.links.HomeAccount(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if account.OwnerID != user.ID {
		ForbiddenResponse(w, r, h.logger)
		return
	}

	if err := h.seats.RemoveMember(r.Context(), account.ID, memberID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateLinkInvite handles POST /account/links.
func (h *AccountHandler) CreateLinkInvite(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("AccountHandler.CreateLinkInvite", "Invalid request body"))
		return
	}

	link, rawToken, err := h.links.CreateLinkInvite(r.Context(), user.ID, req.Email)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if h.emails != nil {
		if err := h.emails.SendLinkInviteEmail(r.Context(), link.InvitedEmail, user.DisplayName(), rawToken); err != nil {
			h.logger.Warn("failed to send link invite email", "error", err, "link_id", link.ID)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"link": map[string]interface{}{
			"id":         link.ID.String(),
			"email":      link.InvitedEmail,
			"status":     link.Status,
			"expires_at": link.TokenExpiresAt,
		},
	})
}

// AcceptLinkInvite handles POST /links/accept.
func (h *AccountHandler) AcceptLinkInvite(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("AccountHandler.AcceptLinkInvite", "A token is required"))
		return
	}

	link, err := h.links.AcceptLinkInvite(r.Context(), req.Token, user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"link": map[string]interface{}{
			"id":     link.ID.String(),
			"status": link.Status,
		},
	})
}

// RevokeLink handles DELETE /account/links.
func (h *AccountHandler) RevokeLink(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	if err := h.links.RevokeLink(r.Context(), user.ID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CheckUpload handles GET /account/entitlements/upload.
//
// Lets clients ask "would an upload be allowed right now" without
// attempting one, e.g. to disable the upload button with a precise message.
func (h *AccountHandler) CheckUpload(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	d := h.gate.CheckCanUpload(r.Context(), user.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"decision": toDecisionResponse(d)})
}

// CheckEmailInbound handles GET /account/entitlements/email-inbound.
func (h *AccountHandler) CheckEmailInbound(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	d := h.gate.CheckCanUseEmailInbound(r.Context(), user.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"decision": toDecisionResponse(d)})
}

// sendInviteEmail delivers a seat invite email, best effort.
func (h *AccountHandler) sendInviteEmail(ctx context.Context, inviter *domain.User, to, rawToken string) {
	if h.emails == nil {
		return
	}
	accountName := inviter.DisplayName() + "'s vault"
	if err := h.emails.SendSeatInviteEmail(ctx, to, inviter.DisplayName(), accountName, rawToken); err != nil {
		h.logger.Warn("failed to send seat invite email", "error", err, "to", to)
	}
}
