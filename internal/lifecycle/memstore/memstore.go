// Package memstore provides an in-memory implementation of the
// lifecycle repository. It backs unit tests and local development;
// production uses the postgres implementation.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opsgrove/incident-ledger/internal/domain"
	"github.com/opsgrove/incident-ledger/internal/lifecycle"
)

// Store is an in-memory lifecycle.Repository. A single mutex stands
// in for the per-incident row lock; coarser than production but the
// serialization guarantees are the same.
type Store struct {
	mu          sync.Mutex
	incidents   map[string]*domain.Incident
	timeline    map[string][]domain.TimelineEvent
	subscribers map[string][]string
	seq         int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		incidents:   make(map[string]*domain.Incident),
		timeline:    make(map[string][]domain.TimelineEvent),
		subscribers: make(map[string][]string),
	}
}

type memTx struct {
	s      *Store
	staged []func() error
	done   bool
}

// BeginTx starts a unit of work. The store lock is held until Commit
// or Rollback, which serializes all mutations.
func (s *Store) BeginTx(_ context.Context) (lifecycle.Tx, error) {
	s.mu.Lock()
	return &memTx{s: s}, nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	defer t.s.mu.Unlock()
	t.done = true
	for _, apply := range t.staged {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	t.s.mu.Unlock()
	return nil
}

func (s *Store) tx(tx lifecycle.Tx) *memTx {
	return tx.(*memTx)
}

// CreateIncidentTx stages an incident insert.
func (s *Store) CreateIncidentTx(_ context.Context, tx lifecycle.Tx, inc *domain.Incident) error {
	snapshot := copyIncident(inc)
	s.tx(tx).staged = append(s.tx(tx).staged, func() error {
		s.incidents[snapshot.ID] = snapshot
		return nil
	})
	return nil
}

// GetIncidentForUpdateTx reads the incident under the store lock held
// by the transaction.
func (s *Store) GetIncidentForUpdateTx(_ context.Context, _ lifecycle.Tx, id string) (*domain.Incident, error) {
	inc, ok := s.incidents[id]
	if !ok {
		return nil, lifecycle.ErrIncidentNotFound
	}
	return copyIncident(inc), nil
}

// UpdateIncidentTx stages an incident update.
func (s *Store) UpdateIncidentTx(_ context.Context, tx lifecycle.Tx, inc *domain.Incident) error {
	snapshot := copyIncident(inc)
	s.tx(tx).staged = append(s.tx(tx).staged, func() error {
		if _, ok := s.incidents[snapshot.ID]; !ok {
			return lifecycle.ErrIncidentNotFound
		}
		s.incidents[snapshot.ID] = snapshot
		return nil
	})
	return nil
}

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, lifecycle.ErrIncidentNotFound
	}
	return copyIncident(inc), nil
}

// ListIncidents retrieves incidents matching the filters, newest first.
func (s *Store) ListIncidents(_ context.Context, filters lifecycle.IncidentFilters) ([]*domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Incident, 0)
	for _, inc := range s.incidents {
		if filters.Status != nil && inc.Status != *filters.Status {
			continue
		}
		if filters.Severity != nil && inc.Severity != *filters.Severity {
			continue
		}
		if filters.TeamID != nil && inc.TeamID != *filters.TeamID {
			continue
		}
		result = append(result, copyIncident(inc))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []*domain.Incident{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && len(result) > filters.Limit {
		result = result[:filters.Limit]
	}
	return result, nil
}

// AppendTimelineTx stages a timeline append.
func (s *Store) AppendTimelineTx(_ context.Context, tx lifecycle.Tx, event *domain.TimelineEvent) error {
	snapshot := copyEvent(event)
	s.tx(tx).staged = append(s.tx(tx).staged, func() error {
		s.appendLocked(snapshot)
		return nil
	})
	return nil
}

// AppendTimeline appends a timeline event outside a transaction.
func (s *Store) AppendTimeline(_ context.Context, event *domain.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(copyEvent(event))
	return nil
}

func (s *Store) appendLocked(event domain.TimelineEvent) {
	s.seq++
	event.Seq = s.seq
	s.timeline[event.IncidentID] = append(s.timeline[event.IncidentID], event)
}

// ListTimeline returns the ordered event sequence for an incident.
func (s *Store) ListTimeline(_ context.Context, incidentID string) ([]domain.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]domain.TimelineEvent, len(s.timeline[incidentID]))
	copy(events, s.timeline[incidentID])
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// SubscribeTx stages a subscription insert.
func (s *Store) SubscribeTx(_ context.Context, tx lifecycle.Tx, userID, incidentID string) error {
	s.tx(tx).staged = append(s.tx(tx).staged, func() error {
		s.subscribeLocked(userID, incidentID)
		return nil
	})
	return nil
}

// Subscribe inserts the pair if absent.
func (s *Store) Subscribe(_ context.Context, userID, incidentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeLocked(userID, incidentID)
	return nil
}

func (s *Store) subscribeLocked(userID, incidentID string) {
	for _, u := range s.subscribers[incidentID] {
		if u == userID {
			return
		}
	}
	s.subscribers[incidentID] = append(s.subscribers[incidentID], userID)
}

// Unsubscribe removes the pair if present.
func (s *Store) Unsubscribe(_ context.Context, userID, incidentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.subscribers[incidentID]
	for i, u := range users {
		if u == userID {
			s.subscribers[incidentID] = append(users[:i], users[i+1:]...)
			return nil
		}
	}
	return nil
}

// ListSubscribers returns the current subscriber set.
func (s *Store) ListSubscribers(_ context.Context, incidentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, len(s.subscribers[incidentID]))
	copy(users, s.subscribers[incidentID])
	return users, nil
}

// Tamper mutates a stored incident directly, bypassing the engine and
// leaving the stored audit hash untouched. Test harnesses use it to
// simulate out-of-band writes.
func (s *Store) Tamper(id string, mutate func(*domain.Incident)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return false
	}
	mutate(inc)
	return true
}

// ClearIncidents drops all incidents.
func (s *Store) ClearIncidents(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = make(map[string]*domain.Incident)
	return nil
}

// ClearTimeline drops all timeline events.
func (s *Store) ClearTimeline(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = make(map[string][]domain.TimelineEvent)
	return nil
}

// ClearSubscriptions drops all subscriptions.
func (s *Store) ClearSubscriptions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = make(map[string][]string)
	return nil
}

func copyIncident(inc *domain.Incident) *domain.Incident {
	c := *inc
	c.AssigneeID = copyString(inc.AssigneeID)
	c.PrimaryServiceID = copyString(inc.PrimaryServiceID)
	c.AuditHash = copyString(inc.AuditHash)
	c.ResolvedAt = copyTime(inc.ResolvedAt)
	return &c
}

func copyEvent(event *domain.TimelineEvent) domain.TimelineEvent {
	c := *event
	c.FromStatus = copyStatus(event.FromStatus)
	c.ToStatus = copyStatus(event.ToStatus)
	return c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func copyStatus(s *domain.Status) *domain.Status {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
