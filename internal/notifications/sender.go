// Package notifications fans out severity-gated incident alerts to
// external channels. Channel failures are isolated: one channel's
// failure or timeout never blocks another and never surfaces as a
// failure of the operation that triggered the dispatch.
package notifications

import (
	"context"
	"time"

	"github.com/opsgrove/incident-ledger/internal/domain"
)

// AlertKind distinguishes what triggered an alert.
type AlertKind string

// Alert kinds.
const (
	AlertIncidentCreated AlertKind = "incident_created"
	AlertStatusChanged   AlertKind = "status_changed"
)

// Alert is the channel-agnostic payload handed to senders.
type Alert struct {
	Kind        AlertKind
	IncidentID  string
	Title       string
	Description string
	Severity    domain.Severity
	Status      domain.Status
	FromStatus  domain.Status // set for status_changed
	OccurredAt  time.Time
}

// Sender delivers an alert to one external channel. Implementations
// are injected at construction time so tests can substitute fakes.
type Sender interface {
	// Name identifies the channel in policy tables and summaries.
	Name() string
	Send(ctx context.Context, alert Alert) error
}
