package domain

import "time"

// Status represents the lifecycle status of an incident.
type Status string

// Lifecycle statuses.
const (
	StatusNew       Status = "NEW"
	StatusTriaged   Status = "TRIAGED"
	StatusMitigated Status = "MITIGATED"
	StatusResolved  Status = "RESOLVED"
	StatusClosed    Status = "CLOSED"
)

// IsValid checks if the status is a known lifecycle status.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusTriaged, StatusMitigated, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusClosed
}

// Severity represents the severity tier of an incident.
// SEV1 is the most severe, SEV4 the least.
type Severity string

// Severity tiers.
const (
	SeveritySev1 Severity = "SEV1"
	SeveritySev2 Severity = "SEV2"
	SeveritySev3 Severity = "SEV3"
	SeveritySev4 Severity = "SEV4"
)

// IsValid checks if the severity is a known tier.
func (s Severity) IsValid() bool {
	switch s {
	case SeveritySev1, SeveritySev2, SeveritySev3, SeveritySev4:
		return true
	}
	return false
}

// Rank returns the numeric rank of the severity, 1 being most severe.
// Unknown severities rank below SEV4.
func (s Severity) Rank() int {
	switch s {
	case SeveritySev1:
		return 1
	case SeveritySev2:
		return 2
	case SeveritySev3:
		return 3
	case SeveritySev4:
		return 4
	}
	return 5
}

// MoreSevereThan reports whether s outranks other.
func (s Severity) MoreSevereThan(other Severity) bool {
	return s.Rank() < other.Rank()
}

// Incident is the aggregate tracked through the lifecycle engine.
// All mutations go through the engine; any other write path is a
// tamper event detectable via AuditHash.
type Incident struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Status           Status     `json:"status"`
	Severity         Severity   `json:"severity"`
	ReporterID       string     `json:"reporter_id"`
	AssigneeID       *string    `json:"assignee_id,omitempty"`
	TeamID           string     `json:"team_id"`
	PrimaryServiceID *string    `json:"primary_service_id,omitempty"`
	AuditHash        *string    `json:"audit_hash,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}
