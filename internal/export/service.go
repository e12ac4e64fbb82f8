// Package export releases compliance snapshots of incidents, gated by
// the audit integrity check.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/opsgrove/incident-ledger/internal/audit"
	"github.com/opsgrove/incident-ledger/internal/domain"
)

// IncidentReader supplies the data released in a snapshot.
type IncidentReader interface {
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListTimeline(ctx context.Context, incidentID string) ([]domain.TimelineEvent, error)
}

// Snapshot is the canonical view of an incident released to the
// reporting layer once integrity has been verified.
type Snapshot struct {
	Incident   *domain.Incident       `json:"incident"`
	Timeline   []domain.TimelineEvent `json:"timeline"`
	VerifiedAt time.Time              `json:"verified_at"`
}

// Service verifies and exports incidents.
type Service struct {
	reader IncidentReader
	hasher *audit.Hasher
}

// NewService creates an export service.
func NewService(reader IncidentReader, hasher *audit.Hasher) *Service {
	return &Service{reader: reader, hasher: hasher}
}

// Export releases the snapshot for one incident. The audit digest is
// verified against the incident's current field values first; on
// mismatch the export is refused with audit.ErrTampered and no data
// is released. The check is read-only: a tampered incident is never
// re-signed here.
func (s *Service) Export(ctx context.Context, incidentID string) (*Snapshot, error) {
	inc, err := s.reader.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	if err := s.hasher.Verify(inc); err != nil {
		return nil, fmt.Errorf("incident %s: %w", incidentID, err)
	}

	timeline, err := s.reader.ListTimeline(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}

	return &Snapshot{
		Incident:   inc,
		Timeline:   timeline,
		VerifiedAt: time.Now().UTC(),
	}, nil
}

// Verify runs the integrity check alone, without releasing data.
func (s *Service) Verify(ctx context.Context, incidentID string) error {
	inc, err := s.reader.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	return s.hasher.Verify(inc)
}
