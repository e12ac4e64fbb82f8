package lifecycle

import "github.com/opsgrove/incident-ledger/internal/domain"

// Transition is a directed edge in the lifecycle graph.
type Transition struct {
	From domain.Status
	To   domain.Status
}

// DefaultGraph returns the complete lifecycle edge set. The happy path
// runs NEW -> TRIAGED -> MITIGATED -> RESOLVED -> CLOSED; the single
// backward edge RESOLVED -> TRIAGED re-opens an incident after a
// regression. CLOSED is terminal.
func DefaultGraph() []Transition {
	return []Transition{
		{From: domain.StatusNew, To: domain.StatusTriaged},
		{From: domain.StatusTriaged, To: domain.StatusMitigated},
		{From: domain.StatusMitigated, To: domain.StatusResolved},
		{From: domain.StatusResolved, To: domain.StatusClosed},
		{From: domain.StatusResolved, To: domain.StatusTriaged},
	}
}

// Validator decides whether a status transition is allowed. It holds
// the edge set as explicit data and performs no side effects, so it
// can be called any number of times for the same pair.
type Validator struct {
	edges map[Transition]struct{}
}

// NewValidator creates a validator over the given edge set.
func NewValidator(graph []Transition) *Validator {
	edges := make(map[Transition]struct{}, len(graph))
	for _, t := range graph {
		edges[t] = struct{}{}
	}
	return &Validator{edges: edges}
}

// Validate checks that requested is reachable from current and that
// the transition carries a non-empty human message. The message check
// runs first so an empty message is rejected before any state is
// touched regardless of the pair.
func (v *Validator) Validate(current, requested domain.Status, message string) error {
	if message == "" {
		return ErrEmptyMessage
	}
	if !requested.IsValid() {
		return ErrInvalidStatus
	}
	if _, ok := v.edges[Transition{From: current, To: requested}]; !ok {
		return &InvalidTransitionError{From: current, To: requested}
	}
	return nil
}
