package export

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opsgrove/incident-ledger/internal/audit"
	"github.com/opsgrove/incident-ledger/internal/lifecycle"
	"github.com/opsgrove/incident-ledger/internal/pkg/httputil"
)

// Handler handles HTTP requests for incident exports.
type Handler struct {
	service *Service
}

// NewHandler creates a new export handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the export routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/incidents/{id}/export", h.ExportIncident)
	r.Get("/incidents/{id}/verify", h.VerifyIncident)
}

// ExportIncident handles GET /incidents/{id}/export request.
func (h *Handler) ExportIncident(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, snapshot)
}

// VerifyIncident handles GET /incidents/{id}/verify request.
func (h *Handler) VerifyIncident(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Verify(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"integrity": "verified"})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: lifecycle.ErrIncidentNotFound, Status: http.StatusNotFound},
		{Error: audit.ErrTampered, Status: http.StatusConflict},
	})
}
