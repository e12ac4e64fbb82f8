package testutil

import (
	"context"
	"fmt"
)

// ClearFunc wipes one collection.
type ClearFunc func(ctx context.Context) error

type resetStep struct {
	name  string
	clear ClearFunc
}

// ResetRegistry runs registered clear functions in registration order.
// Collections are enumerated explicitly by the harness so that adding
// a table forces a conscious decision about reset ordering.
type ResetRegistry struct {
	steps []resetStep
}

// Register adds a named clear step.
func (r *ResetRegistry) Register(name string, clear ClearFunc) {
	r.steps = append(r.steps, resetStep{name: name, clear: clear})
}

// Reset clears every registered collection, stopping at the first
// failure.
func (r *ResetRegistry) Reset(ctx context.Context) error {
	for _, step := range r.steps {
		if err := step.clear(ctx); err != nil {
			return fmt.Errorf("reset %s: %w", step.name, err)
		}
	}
	return nil
}
