package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsgrove/incident-ledger/internal/audit"
	"github.com/opsgrove/incident-ledger/internal/domain"
)

// Dispatcher fans out severity-gated alerts to external channels.
// Implementations are best-effort: they isolate per-channel failure
// and never report it back to the engine.
type Dispatcher interface {
	IncidentCreated(ctx context.Context, inc *domain.Incident)
	StatusChanged(ctx context.Context, inc *domain.Incident, from, to domain.Status)
}

// Options tune engine behavior.
type Options struct {
	// NotifyOnTransition controls whether status transitions dispatch
	// notifications in addition to incident creation.
	NotifyOnTransition bool
}

// Engine orchestrates incident mutations. Every mutation validates,
// persists the new state, appends its timeline record, updates
// subscriptions and refreshes the audit digest in one unit of work;
// notification dispatch runs after commit and never unwinds it.
type Engine struct {
	repo       Repository
	validator  *Validator
	recorder   *Recorder
	subs       *SubscriptionRegistry
	hasher     *audit.Hasher
	dispatcher Dispatcher
	opts       Options
}

// NewEngine creates a lifecycle engine. dispatcher may be nil, in
// which case no notifications are sent.
func NewEngine(repo Repository, validator *Validator, hasher *audit.Hasher, dispatcher Dispatcher, opts Options) *Engine {
	return &Engine{
		repo:       repo,
		validator:  validator,
		recorder:   NewRecorder(repo),
		subs:       NewSubscriptionRegistry(repo),
		hasher:     hasher,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// Recorder exposes the timeline recorder backing this engine.
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Subscriptions exposes the subscription registry backing this engine.
func (e *Engine) Subscriptions() *SubscriptionRegistry {
	return e.subs
}

// CreateIncidentInput holds data for reporting a new incident.
type CreateIncidentInput struct {
	Title            string
	Description      string
	Severity         domain.Severity
	ReporterID       string
	AssigneeID       *string
	TeamID           string
	PrimaryServiceID *string
}

// CreateIncident reports a new incident. The incident starts in NEW,
// gets its opening STATUS_CHANGE event, subscribes the reporter (and
// assignee, when set) and is signed, all atomically. Severity-gated
// notifications go out after commit.
func (e *Engine) CreateIncident(ctx context.Context, input CreateIncidentInput) (*domain.Incident, error) {
	if !input.Severity.IsValid() {
		return nil, ErrInvalidSeverity
	}
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	inc := &domain.Incident{
		ID:               uuid.NewString(),
		Title:            input.Title,
		Description:      input.Description,
		Status:           domain.StatusNew,
		Severity:         input.Severity,
		ReporterID:       input.ReporterID,
		AssigneeID:       input.AssigneeID,
		TeamID:           input.TeamID,
		PrimaryServiceID: input.PrimaryServiceID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	e.sign(inc)

	tx, err := e.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	if err := e.repo.CreateIncidentTx(ctx, tx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	toStatus := inc.Status
	event := &domain.TimelineEvent{
		IncidentID: inc.ID,
		Type:       domain.TimelineStatusChange,
		ToStatus:   &toStatus,
		Message:    "Incident reported",
		ActorID:    input.ReporterID,
	}
	if err := e.recorder.AppendTx(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := e.subs.SubscribeTx(ctx, tx, input.ReporterID, inc.ID); err != nil {
		return nil, err
	}
	if input.AssigneeID != nil && *input.AssigneeID != "" {
		if err := e.subs.SubscribeTx(ctx, tx, *input.AssigneeID, inc.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	recordIncidentCreated(inc.Severity)
	slog.Info("incident created",
		"incident_id", inc.ID,
		"severity", inc.Severity,
		"reporter_id", inc.ReporterID,
	)

	if e.dispatcher != nil {
		e.dispatcher.IncidentCreated(ctx, inc)
	}

	return inc, nil
}

// TransitionStatus moves an incident along the lifecycle graph. The
// transition is validated against the incident's current status under
// a per-incident lock; an accepted transition writes exactly one
// STATUS_CHANGE event in the same unit of work as the field mutation.
func (e *Engine) TransitionStatus(ctx context.Context, incidentID string, requested domain.Status, message, actorID string) (*domain.Incident, error) {
	tx, err := e.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	inc, err := e.repo.GetIncidentForUpdateTx(ctx, tx, incidentID)
	if err != nil {
		return nil, err
	}

	if err := e.validator.Validate(inc.Status, requested, message); err != nil {
		return nil, err
	}

	from := inc.Status
	now := time.Now().UTC()
	inc.Status = requested
	inc.UpdatedAt = now
	switch {
	case requested == domain.StatusResolved:
		inc.ResolvedAt = &now
	case from == domain.StatusResolved && requested == domain.StatusTriaged:
		// Re-opened: the incident is no longer resolved.
		inc.ResolvedAt = nil
	}
	e.sign(inc)

	if err := e.repo.UpdateIncidentTx(ctx, tx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	fromStatus, toStatus := from, requested
	event := &domain.TimelineEvent{
		IncidentID: inc.ID,
		Type:       domain.TimelineStatusChange,
		FromStatus: &fromStatus,
		ToStatus:   &toStatus,
		Message:    message,
		ActorID:    actorID,
	}
	if err := e.recorder.AppendTx(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	recordTransition(from, requested)
	slog.Info("incident status changed",
		"incident_id", inc.ID,
		"from", from,
		"to", requested,
		"actor_id", actorID,
	)

	if e.dispatcher != nil && e.opts.NotifyOnTransition {
		e.dispatcher.StatusChanged(ctx, inc, from, requested)
	}

	return inc, nil
}

// UpdateIncidentInput holds mutable incident fields. Nil pointers
// leave the field untouched.
type UpdateIncidentInput struct {
	Title            *string
	Description      *string
	Severity         *domain.Severity
	AssigneeID       *string
	PrimaryServiceID *string
}

// UpdateIncident mutates non-status fields. Each call appends one
// FIELD_UPDATE event naming the changed fields, subscribes a newly
// assigned user and refreshes the audit digest, atomically.
func (e *Engine) UpdateIncident(ctx context.Context, incidentID string, input UpdateIncidentInput, actorID string) (*domain.Incident, error) {
	if input.Severity != nil && !input.Severity.IsValid() {
		return nil, ErrInvalidSeverity
	}

	tx, err := e.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	inc, err := e.repo.GetIncidentForUpdateTx(ctx, tx, incidentID)
	if err != nil {
		return nil, err
	}

	var changed []string
	if input.Title != nil && *input.Title != inc.Title {
		inc.Title = *input.Title
		changed = append(changed, "title")
	}
	if input.Description != nil && *input.Description != inc.Description {
		inc.Description = *input.Description
		changed = append(changed, "description")
	}
	if input.Severity != nil && *input.Severity != inc.Severity {
		inc.Severity = *input.Severity
		changed = append(changed, "severity")
	}
	newAssignee := false
	if input.AssigneeID != nil && (inc.AssigneeID == nil || *input.AssigneeID != *inc.AssigneeID) {
		inc.AssigneeID = input.AssigneeID
		newAssignee = *input.AssigneeID != ""
		changed = append(changed, "assignee")
	}
	if input.PrimaryServiceID != nil && (inc.PrimaryServiceID == nil || *input.PrimaryServiceID != *inc.PrimaryServiceID) {
		inc.PrimaryServiceID = input.PrimaryServiceID
		changed = append(changed, "primary_service")
	}

	if len(changed) == 0 {
		// Nothing to write; release the lock and return as-is.
		return inc, nil
	}

	inc.UpdatedAt = time.Now().UTC()
	e.sign(inc)

	if err := e.repo.UpdateIncidentTx(ctx, tx, inc); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	event := &domain.TimelineEvent{
		IncidentID: inc.ID,
		Type:       domain.TimelineFieldUpdate,
		Message:    "Updated fields: " + strings.Join(changed, ", "),
		ActorID:    actorID,
	}
	if err := e.recorder.AppendTx(ctx, tx, event); err != nil {
		return nil, err
	}

	if newAssignee {
		if err := e.subs.SubscribeTx(ctx, tx, *inc.AssigneeID, inc.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("incident updated",
		"incident_id", inc.ID,
		"fields", changed,
		"actor_id", actorID,
	)

	return inc, nil
}

// AddComment appends a COMMENT timeline event. Comments do not touch
// canonical fields, so the audit digest is unaffected.
func (e *Engine) AddComment(ctx context.Context, incidentID, message, actorID string) (*domain.TimelineEvent, error) {
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := e.repo.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}

	event := &domain.TimelineEvent{
		IncidentID: incidentID,
		Type:       domain.TimelineComment,
		Message:    message,
		ActorID:    actorID,
	}
	if err := e.recorder.Append(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// GetIncident retrieves an incident by ID.
func (e *Engine) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return e.repo.GetIncident(ctx, id)
}

// ListIncidents retrieves incidents with optional filters.
func (e *Engine) ListIncidents(ctx context.Context, filters IncidentFilters) ([]*domain.Incident, error) {
	return e.repo.ListIncidents(ctx, filters)
}

func (e *Engine) sign(inc *domain.Incident) {
	sig := e.hasher.Sign(inc)
	inc.AuditHash = &sig
}

func rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(ctx); err != nil {
		slog.Error("failed to rollback transaction", "error", err)
	}
}
