// Package postgres provides the PostgreSQL implementation of the
// lifecycle repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsgrove/incident-ledger/internal/domain"
	"github.com/opsgrove/incident-ledger/internal/lifecycle"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements lifecycle.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// pgTx adapts pgx.Tx to lifecycle.Tx: Rollback after a committed
// transaction is a contractual no-op.
type pgTx struct {
	pgx.Tx
}

func (t pgTx) Rollback(ctx context.Context) error {
	if err := t.Tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// BeginTx starts a unit of work.
func (r *Repository) BeginTx(ctx context.Context) (lifecycle.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return pgTx{Tx: tx}, nil
}

func unwrap(tx lifecycle.Tx) pgx.Tx {
	return tx.(pgTx).Tx
}

const incidentColumns = `
	id, title, description, status, severity,
	reporter_id, assignee_id, team_id, primary_service_id,
	audit_hash, created_at, updated_at, resolved_at
`

// CreateIncidentTx inserts a new incident within the unit of work.
func (r *Repository) CreateIncidentTx(ctx context.Context, tx lifecycle.Tx, inc *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			id, title, description, status, severity,
			reporter_id, assignee_id, team_id, primary_service_id,
			audit_hash, created_at, updated_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := unwrap(tx).Exec(ctx, query,
		inc.ID,
		inc.Title,
		inc.Description,
		inc.Status,
		inc.Severity,
		inc.ReporterID,
		inc.AssigneeID,
		inc.TeamID,
		inc.PrimaryServiceID,
		inc.AuditHash,
		inc.CreatedAt,
		inc.UpdatedAt,
		inc.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// GetIncidentForUpdateTx reads the incident under a row lock held for
// the remainder of the transaction, serializing mutations per
// incident while leaving other incidents free to proceed.
func (r *Repository) GetIncidentForUpdateTx(ctx context.Context, tx lifecycle.Tx, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1 FOR UPDATE`
	return scanIncident(unwrap(tx).QueryRow(ctx, query, id))
}

// UpdateIncidentTx writes the incident's mutable fields within the
// unit of work.
func (r *Repository) UpdateIncidentTx(ctx context.Context, tx lifecycle.Tx, inc *domain.Incident) error {
	query := `
		UPDATE incidents SET
			title = $2, description = $3, status = $4, severity = $5,
			assignee_id = $6, primary_service_id = $7,
			audit_hash = $8, updated_at = $9, resolved_at = $10
		WHERE id = $1
	`
	tag, err := unwrap(tx).Exec(ctx, query,
		inc.ID,
		inc.Title,
		inc.Description,
		inc.Status,
		inc.Severity,
		inc.AssigneeID,
		inc.PrimaryServiceID,
		inc.AuditHash,
		inc.UpdatedAt,
		inc.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	return scanIncident(r.db.QueryRow(ctx, query, id))
}

// ListIncidents retrieves incidents with optional filters, newest
// first.
func (r *Repository) ListIncidents(ctx context.Context, filters lifecycle.IncidentFilters) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := make([]any, 0, 5)

	if filters.Status != nil {
		args = append(args, *filters.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.Severity != nil {
		args = append(args, *filters.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if filters.TeamID != nil {
		args = append(args, *filters.TeamID)
		query += fmt.Sprintf(" AND team_id = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, nil
}

// AppendTimelineTx appends a timeline event within the unit of work.
func (r *Repository) AppendTimelineTx(ctx context.Context, tx lifecycle.Tx, event *domain.TimelineEvent) error {
	return appendTimeline(ctx, unwrap(tx), event)
}

// AppendTimeline appends a timeline event outside a transaction.
func (r *Repository) AppendTimeline(ctx context.Context, event *domain.TimelineEvent) error {
	return appendTimeline(ctx, r.db, event)
}

func appendTimeline(ctx context.Context, q querier, event *domain.TimelineEvent) error {
	query := `
		INSERT INTO timeline_events (
			id, incident_id, type, from_status, to_status,
			message, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`
	err := q.QueryRow(ctx, query,
		event.ID,
		event.IncidentID,
		event.Type,
		event.FromStatus,
		event.ToStatus,
		event.Message,
		event.ActorID,
		event.CreatedAt,
	).Scan(&event.Seq)
	if err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

// ListTimeline returns the ordered event sequence for an incident.
func (r *Repository) ListTimeline(ctx context.Context, incidentID string) ([]domain.TimelineEvent, error) {
	query := `
		SELECT id, incident_id, seq, type, from_status, to_status,
			message, actor_id, created_at
		FROM timeline_events
		WHERE incident_id = $1
		ORDER BY created_at, seq
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var ev domain.TimelineEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.IncidentID,
			&ev.Seq,
			&ev.Type,
			&ev.FromStatus,
			&ev.ToStatus,
			&ev.Message,
			&ev.ActorID,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return events, nil
}

// SubscribeTx inserts the subscription pair within the unit of work.
func (r *Repository) SubscribeTx(ctx context.Context, tx lifecycle.Tx, userID, incidentID string) error {
	return subscribe(ctx, unwrap(tx), userID, incidentID)
}

// Subscribe inserts the subscription pair if absent.
func (r *Repository) Subscribe(ctx context.Context, userID, incidentID string) error {
	return subscribe(ctx, r.db, userID, incidentID)
}

func subscribe(ctx context.Context, q querier, userID, incidentID string) error {
	query := `
		INSERT INTO notification_subscriptions (user_id, incident_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, incident_id) DO NOTHING
	`
	if _, err := q.Exec(ctx, query, userID, incidentID); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// Unsubscribe removes the pair; removing an absent pair succeeds.
func (r *Repository) Unsubscribe(ctx context.Context, userID, incidentID string) error {
	query := `DELETE FROM notification_subscriptions WHERE user_id = $1 AND incident_id = $2`
	if _, err := r.db.Exec(ctx, query, userID, incidentID); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// ListSubscribers returns the current subscriber set.
func (r *Repository) ListSubscribers(ctx context.Context, incidentID string) ([]string, error) {
	query := `
		SELECT user_id FROM notification_subscriptions
		WHERE incident_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return users, nil
}

// ClearIncidents truncates the incidents collection. Test harness
// support only, cascades to dependent collections.
func (r *Repository) ClearIncidents(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `TRUNCATE incidents CASCADE`); err != nil {
		return fmt.Errorf("clear incidents: %w", err)
	}
	return nil
}

// ClearTimeline truncates the timeline collection.
func (r *Repository) ClearTimeline(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `TRUNCATE timeline_events`); err != nil {
		return fmt.Errorf("clear timeline: %w", err)
	}
	return nil
}

// ClearSubscriptions truncates the subscriptions collection.
func (r *Repository) ClearSubscriptions(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `TRUNCATE notification_subscriptions`); err != nil {
		return fmt.Errorf("clear subscriptions: %w", err)
	}
	return nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.ID,
		&inc.Title,
		&inc.Description,
		&inc.Status,
		&inc.Severity,
		&inc.ReporterID,
		&inc.AssigneeID,
		&inc.TeamID,
		&inc.PrimaryServiceID,
		&inc.AuditHash,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	return &inc, nil
}
