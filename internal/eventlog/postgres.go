package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/model"
)

// PostgresStore persists the event log in Postgres. Per-project sequence
// assignment goes through a counters table so concurrent appends for the
// same project serialize on a single row instead of a table scan.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing *sqlx.DB. Schema is managed by the
// migrations in internal/storage/migrations.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, projectID, tenantID string, eventType model.EventType, payload json.RawMessage) (int64, error) {
	if err := validateProjectID(projectID); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, apperrors.Transient("eventlog.append.begin", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.GetContext(ctx, &seq, `
		INSERT INTO project_sequences (project_id, next_seq)
		VALUES ($1, 1)
		ON CONFLICT (project_id) DO UPDATE
			SET next_seq = project_sequences.next_seq + 1
		RETURNING next_seq`, projectID)
	if err != nil {
		return 0, apperrors.Transient("eventlog.append.sequence", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (project_id, tenant_id, sequence, event_type, data, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		projectID, tenantID, seq, string(eventType), []byte(payload))
	if err != nil {
		return 0, apperrors.Transient("eventlog.append.insert", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.Transient("eventlog.append.commit", err)
	}
	return seq, nil
}

type eventRow struct {
	ProjectID string          `db:"project_id"`
	TenantID  string          `db:"tenant_id"`
	Sequence  int64           `db:"sequence"`
	EventType string          `db:"event_type"`
	Data      json.RawMessage `db:"data"`
	CreatedAt sql.NullTime    `db:"created_at"`
}

func scanEvents(rows *sqlx.Rows) ([]model.Event, error) {
	var out []model.Event
	for rows.Next() {
		var r eventRow
		if err := rows.StructScan(&r); err != nil {
			return nil, apperrors.Permanent("eventlog.scan", err)
		}
		out = append(out, model.Event{
			ProjectID: r.ProjectID,
			TenantID:  r.TenantID,
			Sequence:  r.Sequence,
			EventType: model.EventType(r.EventType),
			Data:      r.Data,
			CreatedAt: r.CreatedAt.Time,
		})
	}
	return out, rows.Err()
}

// Read implements Store.
func (s *PostgresStore) Read(ctx context.Context, projectID string, since int64, limit int) ([]model.Event, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryxContext(ctx, `
		SELECT project_id, tenant_id, sequence, event_type, data, created_at
		FROM events
		WHERE project_id = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3`, projectID, since, limit)
	if err != nil {
		return nil, apperrors.Transient("eventlog.read", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

// Length implements Store.
func (s *PostgresStore) Length(ctx context.Context, projectID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.GetContext(ctx, &seq, `
		SELECT next_seq FROM project_sequences WHERE project_id = $1`, projectID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Transient("eventlog.length", err)
	}
	return seq.Int64, nil
}

// DeleteOlderThan removes events created before cutoff, for the retention
// sweep job. It never touches project_sequences, so future appends keep
// strictly increasing sequences even after their history has been swept.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Transient("eventlog.retention_sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Transient("eventlog.retention_sweep.rows_affected", err)
	}
	return n, nil
}
