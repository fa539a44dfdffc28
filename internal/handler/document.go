// This file implements document upload, retrieval, and deletion handlers.
//
// Routes (all require an authenticated user):
//   - POST   /documents                 -> Upload
//   - GET    /documents/{documentID}    -> Get
//   - GET    /documents/{documentID}/download -> Download
//   - DELETE /documents/{documentID}    -> Delete

package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mhollis/docvault/internal/auth"
	"github.com/mhollis/docvault/internal/domain"
	"github.com/mhollis/docvault/internal/service"
)

// maxUploadBytes caps a single multipart upload request.
// Individual plan storage limits are enforced by the gate; this is only a
// transport-level backstop against unbounded request bodies.
const maxUploadBytes = 512 << 20 // 512 MiB

// DocumentHandler handles document operations.
type DocumentHandler struct {
	documents service.DocumentService
	logger    *slog.Logger
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(documents service.DocumentService, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		logger:    logger,
	}
}

// documentResponse is the JSON shape for a document.
type documentResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	Category    string     `json:"category,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func toDocumentResponse(d *domain.Document) documentResponse {
	return documentResponse{
		ID:          d.ID.String(),
		Name:        d.Name,
		ContentType: d.ContentType,
		SizeBytes:   d.SizeBytes,
		Category:    d.Category,
		CreatedAt:   d.CreatedAt,
		DeletedAt:   d.DeletedAt,
	}
}

// Upload handles POST /documents (multipart/form-data, field "file").
//
// The enforcement gate runs inside the service; a denial comes back as a
// structured decision, not an error.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("DocumentHandler.Upload", "Invalid multipart request"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("DocumentHandler.Upload", "A file is required"))
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	doc, decision, err := h.documents.Upload(r.Context(), service.UploadParams{
		UserID:      user.ID,
		Name:        name,
		ContentType: header.Header.Get("Content-Type"),
		SizeBytes:   header.Size,
		Data:        file,
		Source:      "web",
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !decision.Allowed {
		DeniedResponse(w, r, h.logger, decision)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"document": toDocumentResponse(doc),
	})
}

// Get handles GET /documents/{documentID}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	documentID, err := uuid.Parse(r.PathValue("documentID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("DocumentHandler.Get", "Invalid document ID"))
		return
	}

	doc, err := h.documents.Get(r.Context(), user.ID, documentID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document": toDocumentResponse(doc),
	})
}

// Download handles GET /documents/{documentID}/download.
//
// Streams the document body. Reads stay available in every lifecycle
// state, including read-only accounts.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	documentID, err := uuid.Parse(r.PathValue("documentID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("DocumentHandler.Download", "Invalid document ID"))
		return
	}

	body, doc, err := h.documents.Open(r.Context(), user.ID, documentID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", doc.SizeBytes))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))

	if _, err := io.Copy(w, body); err != nil {
		// Headers are already sent; just log
		h.logger.Warn("document stream interrupted", "error", err, "document_id", doc.ID)
	}
}

// Delete handles DELETE /documents/{documentID}.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	documentID, err := uuid.Parse(r.PathValue("documentID"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("DocumentHandler.Delete", "Invalid document ID"))
		return
	}

	if err := h.documents.Delete(r.Context(), user.ID, documentID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
