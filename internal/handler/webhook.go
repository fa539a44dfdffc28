// This file implements the Stripe webhook handler for processing billing events.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.

package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"github.com/mhollis/docvault/internal/billing"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/repository"
	"github.com/mhollis/docvault/internal/service"
)

// WebhookStore is the slice of the repository the webhook handler uses.
type WebhookStore interface {
	GetAccountByStripeCustomer(ctx context.Context, customerID string) (*domain.Account, error)
	UpdateAccountBilling(ctx context.Context, params repository.UpdateAccountBillingParams) error
	GetEntitlementValue(ctx context.Context, accountID uuid.UUID, key string) (int64, error)
}

// WebhookHandler handles incoming webhook events from Stripe.
//
// Billing events are the authoritative source for plan transitions of paid
// accounts; the engine applies the reported plan and period without
// second-guessing it.
type WebhookHandler struct {
	billing billing.Service
	store   WebhookStore
	seats   service.SeatService
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, store WebhookStore, seats service.SeatService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billingService,
		store:   store,
		seats:   seats,
		logger:  logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC — no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Verify signature
	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Route to event-specific handler
	switch event.Type {
	case "customer.subscription.created":
		h.processSubscriptionEvent(event, "created")
	case "customer.subscription.updated":
		h.processSubscriptionEvent(event, "updated")
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	w.WriteHeader(http.StatusOK)
}

// processSubscriptionEvent applies a created or updated subscription to
// the account: plan from the price ID, seat add-ons from their quantity,
// and the paid-through date from the current period end.
func (h *WebhookHandler) processSubscriptionEvent(event stripe.Event, action string) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err, "action", action)
		return
	}

	if sub.Customer == nil {
		h.logger.Warn("subscription event missing customer", "subscription_id", sub.ID, "action", action)
		return
	}

	account, err := h.store.GetAccountByStripeCustomer(webhookCtx(), sub.Customer.ID)
	if err != nil {
		h.logger.Warn("account not found for subscription event",
			"customer_id", sub.Customer.ID, "subscription_id", sub.ID, "action", action)
		return
	}

	// Determine plan and add-on seats from the subscription items
	var plan domain.PlanID
	var addonSeats int64
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		if h.billing.IsSeatAddonPriceID(item.Price.ID) {
			addonSeats += item.Quantity
			continue
		}
		if p := h.billing.PlanForPriceID(item.Price.ID); p != "" {
			plan = p
		}
	}

	if plan == "" {
		h.logger.Warn("subscription carries no recognized plan price",
			"subscription_id", sub.ID, "customer_id", sub.Customer.ID)
		return
	}

	// A canceled-but-paid subscription keeps its plan until the period end;
	// an unpaid one loses it now.
	var subscriptionEndsAt *time.Time
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		subscriptionEndsAt = &t
	}
	if sub.Status == stripe.SubscriptionStatusCanceled || sub.Status == stripe.SubscriptionStatusUnpaid {
		plan = domain.PlanFree
		subscriptionEndsAt = nil
	}

	if err := h.store.UpdateAccountBilling(webhookCtx(), repository.UpdateAccountBillingParams{
		ID:                 account.ID,
		Plan:               plan,
		TrialEndsAt:        nil, // a paid subscription ends any trial
		SubscriptionEndsAt: subscriptionEndsAt,
		SubscriptionID:     sub.ID,
	}); err != nil {
		h.logger.Error("failed to update account billing", "error", err, "account_id", account.ID, "action", action)
		return
	}

	h.syncAddonSeats(account, addonSeats)

	h.logger.Info("subscription event processed",
		"account_id", account.ID, "action", action, "status", sub.Status, "plan", plan, "addon_seats", addonSeats)
}

func (h *WebhookHandler) handleSubscriptionDeleted(event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription deleted event", "error", err)
		return
	}

	if sub.Customer == nil {
		h.logger.Warn("subscription deleted event missing customer", "subscription_id", sub.ID)
		return
	}

	account, err := h.store.GetAccountByStripeCustomer(webhookCtx(), sub.Customer.ID)
	if err != nil {
		h.logger.Warn("account not found for subscription deletion", "customer_id", sub.Customer.ID)
		return
	}

	if err := h.store.UpdateAccountBilling(webhookCtx(), repository.UpdateAccountBillingParams{
		ID:                 account.ID,
		Plan:               domain.PlanFree,
		TrialEndsAt:        nil,
		SubscriptionEndsAt: nil,
		SubscriptionID:     "",
	}); err != nil {
		h.logger.Error("failed to downgrade account on subscription deletion", "error", err, "account_id", account.ID)
		return
	}

	h.logger.Info("subscription deleted, account downgraded to free",
		"account_id", account.ID, "subscription_id", sub.ID)
}

// syncAddonSeats brings the add-on seat entitlement in line with the
// quantity on the subscription.
func (h *WebhookHandler) syncAddonSeats(account *domain.Account, want int64) {
	have, err := h.store.GetEntitlementValue(webhookCtx(), account.ID, domain.EntitlementKeyAddonSeats)
	if err != nil {
		h.logger.Error("failed to read add-on seat entitlement", "error", err, "account_id", account.ID)
		return
	}

	delta := want - have
	if delta == 0 {
		return
	}
	if delta < 0 {
		// Seat removal can orphan occupied seats; left to manual review.
		h.logger.Warn("seat add-on decrease reported by billing; leaving seats in place",
			"account_id", account.ID, "have", have, "want", want)
		return
	}
	if _, err := h.seats.AddSeats(webhookCtx(), account.ID, delta); err != nil {
		h.logger.Error("failed to add seats from billing event", "error", err, "account_id", account.ID, "delta", delta)
	}
}

// webhookCtx returns a background context for webhook processing.
// Webhooks are async events and don't have a request context from a user session.
func webhookCtx() context.Context {
	return context.Background()
}
