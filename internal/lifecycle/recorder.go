package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsgrove/incident-ledger/internal/domain"
)

// SystemActorID marks timeline entries written by the engine itself
// rather than by a user, such as notification dispatch summaries.
const SystemActorID = "system"

// Recorder is the append-only timeline log. Appends issued inside a
// unit of work go through AppendTx; standalone appends (dispatch
// summaries, comments) use Append.
type Recorder struct {
	repo Repository
}

// NewRecorder creates a timeline recorder over the given repository.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

// AppendTx appends an event within the given unit of work.
func (r *Recorder) AppendTx(ctx context.Context, tx Tx, event *domain.TimelineEvent) error {
	prepare(event)
	if err := r.repo.AppendTimelineTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

// Append appends an event outside any unit of work.
func (r *Recorder) Append(ctx context.Context, event *domain.TimelineEvent) error {
	prepare(event)
	if err := r.repo.AppendTimeline(ctx, event); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

// AppendSystemEvent appends an engine-generated event. Used by the
// notification dispatcher for per-channel outcome summaries.
func (r *Recorder) AppendSystemEvent(ctx context.Context, event *domain.TimelineEvent) error {
	event.ActorID = SystemActorID
	return r.Append(ctx, event)
}

// List returns the ordered event sequence for an incident. Results
// are stable across calls absent new writes.
func (r *Recorder) List(ctx context.Context, incidentID string) ([]domain.TimelineEvent, error) {
	if incidentID == "" {
		return nil, errors.New("incident id is required")
	}
	events, err := r.repo.ListTimeline(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}

func prepare(event *domain.TimelineEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
}
