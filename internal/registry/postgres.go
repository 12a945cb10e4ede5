package registry

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/model"
)

// PostgresRegistry persists registrations in Postgres. Re-registration
// goes through a single upsert statement so concurrent Register calls for
// the same agent never interleave a partial update.
type PostgresRegistry struct {
	db *sqlx.DB
}

// NewPostgresRegistry wraps an existing *sqlx.DB.
func NewPostgresRegistry(db *sqlx.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// Register implements Registry.
func (p *PostgresRegistry) Register(ctx context.Context, reg model.Registration) error {
	if err := validate(&reg); err != nil {
		return err
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agent_registrations
			(project_id, agent_id, needs, delivery, channel, webhook_url, webhook_secret, last_seen_sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (project_id, agent_id) DO UPDATE SET
			needs = EXCLUDED.needs,
			delivery = EXCLUDED.delivery,
			channel = EXCLUDED.channel,
			webhook_url = EXCLUDED.webhook_url,
			webhook_secret = EXCLUDED.webhook_secret,
			last_seen_sequence = EXCLUDED.last_seen_sequence`,
		reg.ProjectID, reg.AgentID, pq.Array(reg.Needs), string(reg.Delivery),
		reg.Channel, reg.WebhookURL, reg.WebhookSecret, reg.LastSeenSequence)
	if err != nil {
		return apperrors.Transient("registry.register", err)
	}
	return nil
}

// Unregister implements Registry.
func (p *PostgresRegistry) Unregister(ctx context.Context, projectID, agentID string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM agent_registrations WHERE project_id = $1 AND agent_id = $2`, projectID, agentID)
	if err != nil {
		return apperrors.Transient("registry.unregister", err)
	}
	return nil
}

type regRow struct {
	ProjectID        string         `db:"project_id"`
	AgentID          string         `db:"agent_id"`
	Needs            pq.StringArray `db:"needs"`
	Delivery         string         `db:"delivery"`
	Channel          sql.NullString `db:"channel"`
	WebhookURL       sql.NullString `db:"webhook_url"`
	WebhookSecret    sql.NullString `db:"webhook_secret"`
	LastSeenSequence int64          `db:"last_seen_sequence"`
	CreatedAt        sql.NullTime   `db:"created_at"`
}

func (r regRow) toModel() model.Registration {
	return model.Registration{
		ProjectID:        r.ProjectID,
		AgentID:          r.AgentID,
		Needs:            []string(r.Needs),
		Delivery:         model.DeliveryMode(r.Delivery),
		Channel:          r.Channel.String,
		WebhookURL:       r.WebhookURL.String,
		WebhookSecret:    r.WebhookSecret.String,
		LastSeenSequence: r.LastSeenSequence,
		CreatedAt:        r.CreatedAt.Time,
	}
}

// Get implements Registry.
func (p *PostgresRegistry) Get(ctx context.Context, projectID, agentID string) (model.Registration, error) {
	var row regRow
	err := p.db.GetContext(ctx, &row, `
		SELECT project_id, agent_id, needs, delivery, channel, webhook_url, webhook_secret, last_seen_sequence, created_at
		FROM agent_registrations WHERE project_id = $1 AND agent_id = $2`, projectID, agentID)
	if err == sql.ErrNoRows {
		return model.Registration{}, apperrors.NotFound("agent_registration", agentID)
	}
	if err != nil {
		return model.Registration{}, apperrors.Transient("registry.get", err)
	}
	return row.toModel(), nil
}

// List implements Registry.
func (p *PostgresRegistry) List(ctx context.Context, projectID string) ([]model.Registration, error) {
	var rows []regRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT project_id, agent_id, needs, delivery, channel, webhook_url, webhook_secret, last_seen_sequence, created_at
		FROM agent_registrations WHERE project_id = $1 ORDER BY agent_id ASC`, projectID)
	if err != nil {
		return nil, apperrors.Transient("registry.list", err)
	}
	out := make([]model.Registration, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

// MarkSeen implements Registry.
func (p *PostgresRegistry) MarkSeen(ctx context.Context, projectID, agentID string, sequence int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE agent_registrations SET last_seen_sequence = $3
		WHERE project_id = $1 AND agent_id = $2`, projectID, agentID, sequence)
	if err != nil {
		return apperrors.Transient("registry.mark_seen", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NotFound("agent_registration", agentID)
	}
	return nil
}

// ExpireIdle implements Registry.
func (p *PostgresRegistry) ExpireIdle(ctx context.Context, olderThan time.Duration) ([]string, error) {
	var agentIDs []string
	err := p.db.SelectContext(ctx, &agentIDs, `
		DELETE FROM agent_registrations
		WHERE created_at < now() - ($1 * interval '1 second')
		RETURNING agent_id`, olderThan.Seconds())
	if err != nil {
		return nil, apperrors.Transient("registry.expire_idle", err)
	}
	return agentIDs, nil
}
