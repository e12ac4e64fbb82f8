package lifecycle

import (
	"context"
	"fmt"
)

// SubscriptionRegistry maintains the set of users notified about an
// incident. All operations have set semantics: subscribing twice or
// unsubscribing a non-subscriber succeeds with no change.
type SubscriptionRegistry struct {
	repo Repository
}

// NewSubscriptionRegistry creates a registry over the given repository.
func NewSubscriptionRegistry(repo Repository) *SubscriptionRegistry {
	return &SubscriptionRegistry{repo: repo}
}

// Subscribe inserts the (userID, incidentID) pair if absent.
func (s *SubscriptionRegistry) Subscribe(ctx context.Context, userID, incidentID string) error {
	if err := s.repo.Subscribe(ctx, userID, incidentID); err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", userID, incidentID, err)
	}
	return nil
}

// SubscribeTx inserts the pair within the given unit of work.
func (s *SubscriptionRegistry) SubscribeTx(ctx context.Context, tx Tx, userID, incidentID string) error {
	if err := s.repo.SubscribeTx(ctx, tx, userID, incidentID); err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", userID, incidentID, err)
	}
	return nil
}

// Unsubscribe removes the pair if present. Never fails for "not
// subscribed".
func (s *SubscriptionRegistry) Unsubscribe(ctx context.Context, userID, incidentID string) error {
	if err := s.repo.Unsubscribe(ctx, userID, incidentID); err != nil {
		return fmt.Errorf("unsubscribe %s from %s: %w", userID, incidentID, err)
	}
	return nil
}

// ListSubscribers returns the current subscriber set.
func (s *SubscriptionRegistry) ListSubscribers(ctx context.Context, incidentID string) ([]string, error) {
	users, err := s.repo.ListSubscribers(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return users, nil
}
