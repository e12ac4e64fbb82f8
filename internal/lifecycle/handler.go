package lifecycle

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opsgrove/incident-ledger/internal/domain"
	"github.com/opsgrove/incident-ledger/internal/pkg/httputil"
)

// Pagination constants.
const (
	DefaultIncidentsLimit = 50
	MaxIncidentsLimit     = 200
)

// Handler handles HTTP requests for the incident lifecycle.
type Handler struct {
	engine    *Engine
	validator *validator.Validate
}

// NewHandler creates a new lifecycle handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{
		engine:    engine,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the incident routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Post("/", h.CreateIncident)
		r.Get("/", h.ListIncidents)
		r.Get("/{id}", h.GetIncident)
		r.Patch("/{id}", h.UpdateIncident)
		r.Post("/{id}/transition", h.TransitionStatus)
		r.Post("/{id}/comments", h.AddComment)
		r.Get("/{id}/timeline", h.ListTimeline)
		r.Get("/{id}/subscribers", h.ListSubscribers)
		r.Put("/{id}/subscribers/{userID}", h.Subscribe)
		r.Delete("/{id}/subscribers/{userID}", h.Unsubscribe)
	})
}

// CreateIncidentRequest represents the request body for reporting an incident.
type CreateIncidentRequest struct {
	Title            string  `json:"title" validate:"required,min=1,max=255"`
	Description      string  `json:"description"`
	Severity         string  `json:"severity" validate:"required,oneof=SEV1 SEV2 SEV3 SEV4"`
	AssigneeID       *string `json:"assignee_id"`
	TeamID           string  `json:"team_id" validate:"required"`
	PrimaryServiceID *string `json:"primary_service_id"`
}

// TransitionRequest represents the request body for a status transition.
type TransitionRequest struct {
	Status  string `json:"status" validate:"required,oneof=NEW TRIAGED MITIGATED RESOLVED CLOSED"`
	Message string `json:"message" validate:"required,min=1"`
}

// UpdateIncidentRequest represents the request body for a field update.
// Absent fields are left untouched.
type UpdateIncidentRequest struct {
	Title            *string `json:"title" validate:"omitempty,min=1,max=255"`
	Description      *string `json:"description"`
	Severity         *string `json:"severity" validate:"omitempty,oneof=SEV1 SEV2 SEV3 SEV4"`
	AssigneeID       *string `json:"assignee_id"`
	PrimaryServiceID *string `json:"primary_service_id"`
}

// AddCommentRequest represents the request body for a timeline comment.
type AddCommentRequest struct {
	Message string `json:"message" validate:"required,min=1"`
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.engine.CreateIncident(r.Context(), CreateIncidentInput{
		Title:            req.Title,
		Description:      req.Description,
		Severity:         domain.Severity(req.Severity),
		ReporterID:       httputil.GetActorID(r.Context()),
		AssigneeID:       req.AssigneeID,
		TeamID:           req.TeamID,
		PrimaryServiceID: req.PrimaryServiceID,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, inc)
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.engine.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// ListIncidents handles GET /incidents request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filters := IncidentFilters{Limit: DefaultIncidentsLimit}
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := domain.Status(v)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filters.Status = &status
	}
	if v := q.Get("severity"); v != "" {
		severity := domain.Severity(v)
		if !severity.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid severity filter")
			return
		}
		filters.Severity = &severity
	}
	if v := q.Get("team_id"); v != "" {
		filters.TeamID = &v
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit > MaxIncidentsLimit {
			limit = MaxIncidentsLimit
		}
		filters.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filters.Offset = offset
	}

	incidents, err := h.engine.ListIncidents(r.Context(), filters)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// TransitionStatus handles POST /incidents/{id}/transition request.
func (h *Handler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.engine.TransitionStatus(
		r.Context(),
		chi.URLParam(r, "id"),
		domain.Status(req.Status),
		req.Message,
		httputil.GetActorID(r.Context()),
	)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// UpdateIncident handles PATCH /incidents/{id} request.
func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	var req UpdateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateIncidentInput{
		Title:            req.Title,
		Description:      req.Description,
		AssigneeID:       req.AssigneeID,
		PrimaryServiceID: req.PrimaryServiceID,
	}
	if req.Severity != nil {
		severity := domain.Severity(*req.Severity)
		input.Severity = &severity
	}

	inc, err := h.engine.UpdateIncident(r.Context(), chi.URLParam(r, "id"), input, httputil.GetActorID(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, inc)
}

// AddComment handles POST /incidents/{id}/comments request.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req AddCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	event, err := h.engine.AddComment(r.Context(), chi.URLParam(r, "id"), req.Message, httputil.GetActorID(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, event)
}

// ListTimeline handles GET /incidents/{id}/timeline request.
func (h *Handler) ListTimeline(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "id")

	// Listing an unknown incident's timeline is a 404, not an empty list.
	if _, err := h.engine.GetIncident(r.Context(), incidentID); err != nil {
		h.handleError(w, r, err)
		return
	}

	events, err := h.engine.Recorder().List(r.Context(), incidentID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, events)
}

// Subscribe handles PUT /incidents/{id}/subscribers/{userID} request.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "id")

	if _, err := h.engine.GetIncident(r.Context(), incidentID); err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.engine.Subscriptions().Subscribe(r.Context(), chi.URLParam(r, "userID"), incidentID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unsubscribe handles DELETE /incidents/{id}/subscribers/{userID} request.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Subscriptions().Unsubscribe(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id")); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSubscribers handles GET /incidents/{id}/subscribers request.
func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "id")

	if _, err := h.engine.GetIncident(r.Context(), incidentID); err != nil {
		h.handleError(w, r, err)
		return
	}

	subscribers, err := h.engine.Subscriptions().ListSubscribers(r.Context(), incidentID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, subscribers)
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if IsInvalidTransition(err) {
		httputil.Error(w, http.StatusConflict, err.Error())
		return
	}

	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
		{Error: ErrEmptyMessage, Status: http.StatusBadRequest},
		{Error: ErrInvalidStatus, Status: http.StatusBadRequest},
		{Error: ErrInvalidSeverity, Status: http.StatusBadRequest},
		{Error: ErrInvalidInput, Status: http.StatusBadRequest},
	})
}
