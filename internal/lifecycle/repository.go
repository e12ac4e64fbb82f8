// Package lifecycle implements the incident lifecycle engine: the
// status state machine, the append-only timeline, the subscription
// registry and the orchestration that keeps them consistent with the
// audit digest.
package lifecycle

import (
	"context"

	"github.com/opsgrove/incident-ledger/internal/domain"
)

// Tx is a unit of work spanning incident, timeline and subscription
// writes. Either everything inside it commits or nothing does.
// Rollback after a successful commit must be a no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository defines the store collaborator for the lifecycle engine.
// Methods with a Tx parameter participate in the unit of work; the
// plain variants are standalone single writes or reads.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	CreateIncidentTx(ctx context.Context, tx Tx, inc *domain.Incident) error
	// GetIncidentForUpdateTx reads the incident and locks it against
	// concurrent mutation for the lifetime of the transaction, so a
	// single incident has one writer at a time.
	GetIncidentForUpdateTx(ctx context.Context, tx Tx, id string) (*domain.Incident, error)
	UpdateIncidentTx(ctx context.Context, tx Tx, inc *domain.Incident) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context, filters IncidentFilters) ([]*domain.Incident, error)

	AppendTimelineTx(ctx context.Context, tx Tx, event *domain.TimelineEvent) error
	AppendTimeline(ctx context.Context, event *domain.TimelineEvent) error
	ListTimeline(ctx context.Context, incidentID string) ([]domain.TimelineEvent, error)

	SubscribeTx(ctx context.Context, tx Tx, userID, incidentID string) error
	Subscribe(ctx context.Context, userID, incidentID string) error
	Unsubscribe(ctx context.Context, userID, incidentID string) error
	ListSubscribers(ctx context.Context, incidentID string) ([]string, error)
}

// IncidentFilters narrows ListIncidents results.
type IncidentFilters struct {
	Status   *domain.Status
	Severity *domain.Severity
	TeamID   *string
	Limit    int
	Offset   int
}
