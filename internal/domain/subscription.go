package domain

import "time"

// NotificationSubscription links a user to an incident they are
// notified about. The (UserID, IncidentID) pair is unique; a second
// subscribe for the same pair is a no-op.
type NotificationSubscription struct {
	UserID     string    `json:"user_id"`
	IncidentID string    `json:"incident_id"`
	CreatedAt  time.Time `json:"created_at"`
}
