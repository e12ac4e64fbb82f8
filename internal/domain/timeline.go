package domain

import "time"

// TimelineEventType represents the type of a timeline event.
type TimelineEventType string

// Timeline event types.
const (
	TimelineStatusChange TimelineEventType = "STATUS_CHANGE"
	TimelineFieldUpdate  TimelineEventType = "FIELD_UPDATE"
	TimelineComment      TimelineEventType = "COMMENT"
)

// IsValid checks if the event type is known.
func (t TimelineEventType) IsValid() bool {
	return t == TimelineStatusChange || t == TimelineFieldUpdate || t == TimelineComment
}

// TimelineEvent is an immutable record of a fact about an incident's
// history. Events are append-only: once written they are never mutated
// or deleted. Ordering is by CreatedAt, ties broken by Seq.
type TimelineEvent struct {
	ID         string            `json:"id"`
	IncidentID string            `json:"incident_id"`
	Seq        int64             `json:"seq"`
	Type       TimelineEventType `json:"type"`
	FromStatus *Status           `json:"from_status,omitempty"`
	ToStatus   *Status           `json:"to_status,omitempty"`
	Message    string            `json:"message"`
	ActorID    string            `json:"actor_id"`
	CreatedAt  time.Time         `json:"created_at"`
}
