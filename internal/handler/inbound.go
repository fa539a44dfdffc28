// This file implements the inbound email webhook: family and pro users can
// mail documents to their vault. The email provider (Mailgun-style) POSTs
// the parsed message as a multipart form.
//
// Route:
//   - POST /webhooks/email-inbound -> HandleInboundEmail
//
// This route is PUBLIC; the sender is resolved by their registered email
// address and the email-inbound entitlement is checked before any upload.

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/service"
)

// InboundStore resolves the sending address to a registered user.
type InboundStore interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// InboundEmailHandler handles document uploads arriving by email.
type InboundEmailHandler struct {
	documents service.DocumentService
	gate      service.Gate
	store     InboundStore
	logger    *slog.Logger
}

// NewInboundEmailHandler creates a new InboundEmailHandler.
func NewInboundEmailHandler(documents service.DocumentService, gate service.Gate, store InboundStore, logger *slog.Logger) *InboundEmailHandler {
	return &InboundEmailHandler{
		documents: documents,
		gate:      gate,
		store:     store,
		logger:    logger,
	}
}

// RegisterRoutes registers inbound email routes on the provided mux.
func (h *InboundEmailHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/email-inbound", h.HandleInboundEmail)
}

// HandleInboundEmail processes a parsed inbound message.
//
// Always responds 200 so the provider does not retry; a sender without the
// entitlement simply has their message dropped (and logged).
func (h *InboundEmailHandler) HandleInboundEmail(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.logger.Warn("invalid inbound email payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	sender := strings.ToLower(strings.TrimSpace(r.FormValue("sender")))
	if sender == "" {
		h.logger.Warn("inbound email without sender")
		w.WriteHeader(http.StatusOK)
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), sender)
	if err != nil {
		h.logger.Info("inbound email from unknown sender", "sender", sender)
		w.WriteHeader(http.StatusOK)
		return
	}

	decision := h.gate.CheckCanUseEmailInbound(r.Context(), user.ID)
	if !decision.Allowed {
		h.logger.Info("inbound email denied",
			"user_id", user.ID, "reason", decision.Reason, "plan", decision.Plan)
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.MultipartForm == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	stored := 0
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			file, err := fh.Open()
			if err != nil {
				h.logger.Warn("failed to open inbound attachment", "error", err, "user_id", user.ID)
				continue
			}

			doc, d, err := h.documents.Upload(r.Context(), service.UploadParams{
				UserID:      user.ID,
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				SizeBytes:   fh.Size,
				Data:        file,
				Source:      "email",
			})
			file.Close()

			if err != nil {
				h.logger.Warn("inbound attachment rejected", "error", err, "user_id", user.ID, "name", fh.Filename)
				continue
			}
			if !d.Allowed {
				// Quota denials stop the remaining attachments too
				h.logger.Info("inbound attachment denied",
					"user_id", user.ID, "reason", d.Reason, "name", fh.Filename)
				w.WriteHeader(http.StatusOK)
				return
			}

			stored++
			h.logger.Info("inbound document stored",
				"user_id", user.ID, "document_id", doc.ID, "name", doc.Name)
		}
	}

	h.logger.Info("inbound email processed", "user_id", user.ID, "stored", stored)
	w.WriteHeader(http.StatusOK)
}
