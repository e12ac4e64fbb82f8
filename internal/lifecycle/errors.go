package lifecycle

import (
	"errors"
	"fmt"

	"github.com/opsgrove/incident-ledger/internal/domain"
)

// Sentinel errors.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrEmptyMessage     = errors.New("transition message must not be empty")
	ErrInvalidSeverity  = errors.New("invalid severity")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidInput     = errors.New("invalid input")
)

// InvalidTransitionError reports a requested status that is not
// reachable from the current status. It names both ends of the
// rejected pair so the caller sees exactly what was refused.
type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
