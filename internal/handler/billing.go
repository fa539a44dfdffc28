// This file implements billing/subscription management handlers backed by Stripe.
//
// Routes handled (all require an authenticated user):
//   - POST /billing/checkout   -> CreateCheckout
//   - POST /billing/portal     -> OpenPortal
//   - POST /billing/cancel     -> CancelSubscription
//   - POST /billing/reactivate -> ReactivateSubscription

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/mhollis/docvault/internal/auth"
	"github.com/mhollis/docvault/internal/billing"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/service"
)

// BillingStore is the slice of the repository the billing handler uses.
type BillingStore interface {
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}

// BillingHandler handles billing and subscription management HTTP requests.
type BillingHandler struct {
	billing billing.Service
	links   service.LinkService
	store   BillingStore
	baseURL string
	prices  billing.PriceConfig
	logger  *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured (development mode).
func NewBillingHandler(billingService billing.Service, links service.LinkService, store BillingStore, baseURL string, prices billing.PriceConfig, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billingService,
		links:   links,
		store:   store,
		baseURL: baseURL,
		prices:  prices,
		logger:  logger,
	}
}

// ownedAccount loads the caller's home account and verifies ownership.
// Only the account owner may manage billing.
func (h *BillingHandler) ownedAccount(r *http.Request) (*domain.Account, error) {
	user := auth.GetUser(r.Context())
	account, err := h.links.HomeAccount(r.Context(), user.ID)
	if err != nil {
		return nil, err
	}
	if account.OwnerID != user.ID {
		return nil, domain.Forbidden("BillingHandler", "Only the account owner can manage billing")
	}
	return account, nil
}

// priceForPlan maps a plan and billing interval to a configured Stripe price.
func (h *BillingHandler) priceForPlan(plan domain.PlanID, interval string) string {
	yearly := interval == "yearly"
	switch plan {
	case domain.PlanSolo:
		if yearly {
			return h.prices.SoloYearlyPriceID
		}
		return h.prices.SoloMonthlyPriceID
	case domain.PlanFamily:
		if yearly {
			return h.prices.FamilyYearlyPriceID
		}
		return h.prices.FamilyMonthlyPriceID
	case domain.PlanPro:
		if yearly {
			return h.prices.ProYearlyPriceID
		}
		return h.prices.ProMonthlyPriceID
	}
	return ""
}

// CreateCheckout creates a Stripe Checkout session for the requested plan
// and returns its URL.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EINVALID, "BillingHandler.CreateCheckout", "Billing is not configured"))
		return
	}

	var req struct {
		Plan     domain.PlanID `json:"plan"`
		Interval string        `json:"interval"` // "monthly" or "yearly"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("BillingHandler.CreateCheckout", "Invalid request body"))
		return
	}

	priceID := h.priceForPlan(req.Plan, req.Interval)
	if priceID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("BillingHandler.CreateCheckout", "Unknown plan or interval"))
		return
	}

	account, err := h.ownedAccount(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	// Ensure the account has a Stripe customer
	customerID := account.StripeCustomerID
	if customerID == "" {
		customerID, err = h.billing.CreateCustomer(user.Email, user.Name)
		if err != nil {
			h.logger.Error("failed to create stripe customer", "error", err, "account_id", account.ID)
			InternalErrorResponse(w, r, h.logger, err)
			return
		}
		if err := h.store.SetStripeCustomerID(r.Context(), account.ID, customerID); err != nil {
			h.logger.Error("failed to save stripe customer ID", "error", err, "account_id", account.ID)
		}
	}

	successURL := fmt.Sprintf("%s/billing/success?session_id={CHECKOUT_SESSION_ID}", h.baseURL)
	cancelURL := fmt.Sprintf("%s/billing", h.baseURL)

	checkoutURL, err := h.billing.CreateCheckoutSession(customerID, priceID, successURL, cancelURL)
	if err != nil {
		h.logger.Error("failed to create checkout session", "error", err, "account_id", account.ID)
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": checkoutURL})
}

// OpenPortal creates a Stripe Customer Portal session and returns its URL.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EINVALID, "BillingHandler.OpenPortal", "Billing is not configured"))
		return
	}

	account, err := h.ownedAccount(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if account.StripeCustomerID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("BillingHandler.OpenPortal", "No billing profile yet"))
		return
	}

	returnURL := fmt.Sprintf("%s/billing", h.baseURL)
	portalURL, err := h.billing.CreatePortalSession(account.StripeCustomerID, returnURL)
	if err != nil {
		h.logger.Error("failed to create portal session", "error", err, "account_id", account.ID)
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"portal_url": portalURL})
}

// CancelSubscription sets the subscription to cancel at period end.
// The account keeps its plan until then; the webhook applies the downgrade.
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EINVALID, "BillingHandler.CancelSubscription", "Billing is not configured"))
		return
	}

	account, err := h.ownedAccount(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if account.SubscriptionID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("BillingHandler.CancelSubscription", "No active subscription to cancel"))
		return
	}

	if err := h.billing.CancelSubscription(account.SubscriptionID); err != nil {
		h.logger.Error("failed to cancel subscription", "error", err, "account_id", account.ID)
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReactivateSubscription removes the cancel-at-period-end flag.
func (h *BillingHandler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EINVALID, "BillingHandler.ReactivateSubscription", "Billing is not configured"))
		return
	}

	account, err := h.ownedAccount(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if account.SubscriptionID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("BillingHandler.ReactivateSubscription", "No subscription to reactivate"))
		return
	}

	if err := h.billing.ReactivateSubscription(account.SubscriptionID); err != nil {
		h.logger.Error("failed to reactivate subscription", "error", err, "account_id", account.ID)
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
