package vectorindex

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/model"
)

// PostgresIndex backs Index with a pgvector column and an ivfflat cosine
// index, for projects past the size where an exact in-memory scan is
// practical. Schema lives in internal/storage/migrations.
type PostgresIndex struct {
	db *sqlx.DB
}

// NewPostgresIndex wraps an existing *sqlx.DB.
func NewPostgresIndex(db *sqlx.DB) *PostgresIndex {
	return &PostgresIndex{db: db}
}

// Upsert implements Index.
func (p *PostgresIndex) Upsert(ctx context.Context, node model.ContextNode) error {
	if err := validateProjectID(node.ProjectID); err != nil {
		return err
	}
	vec := pgvector.NewVector(node.Embedding)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO embeddings (project_id, data_key, node_key, description, payload, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (project_id, node_key) DO UPDATE SET
			data_key = EXCLUDED.data_key,
			description = EXCLUDED.description,
			payload = EXCLUDED.payload,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`,
		node.ProjectID, node.DataKey, node.NodeKey, node.Description, []byte(node.Payload), vec)
	if err != nil {
		return apperrors.Transient("vectorindex.upsert", err)
	}
	return nil
}

// Delete implements Index.
func (p *PostgresIndex) Delete(ctx context.Context, projectID, nodeKey string) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM embeddings WHERE project_id = $1 AND node_key = $2`, projectID, nodeKey)
	if err != nil {
		return apperrors.Transient("vectorindex.delete", err)
	}
	return nil
}

// Search implements Index. Cosine distance (<=>) is converted to
// similarity as 1 - distance to match the in-memory index's convention.
func (p *PostgresIndex) Search(ctx context.Context, projectID string, query []float32, threshold float64, limit int) ([]model.Match, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(query)

	rows, err := p.db.QueryxContext(ctx, `
		SELECT node_key, data_key, payload, 1 - (embedding <=> $1) AS similarity
		FROM embeddings
		WHERE project_id = $2 AND 1 - (embedding <=> $1) >= $3
		ORDER BY similarity DESC, node_key ASC
		LIMIT $4`, vec, projectID, threshold, limit)
	if err != nil {
		return nil, apperrors.Transient("vectorindex.search", err)
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		var m model.Match
		var payload []byte
		if err := rows.Scan(&m.NodeKey, &m.DataKey, &payload, &m.Similarity); err != nil {
			return nil, apperrors.Permanent("vectorindex.search.scan", err)
		}
		m.Payload = payload
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient("vectorindex.search", err)
	}
	if matches == nil {
		matches = []model.Match{}
	}
	return matches, nil
}

// List implements Index.
func (p *PostgresIndex) List(ctx context.Context, projectID string) ([]model.ContextNode, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryxContext(ctx, `
		SELECT project_id, data_key, node_key, description, payload, created_at
		FROM embeddings
		WHERE project_id = $1
		ORDER BY node_key ASC`, projectID)
	if err != nil {
		return nil, apperrors.Transient("vectorindex.list", err)
	}
	defer rows.Close()

	var out []model.ContextNode
	for rows.Next() {
		var n model.ContextNode
		var payload []byte
		var createdAt sql.NullTime
		if err := rows.Scan(&n.ProjectID, &n.DataKey, &n.NodeKey, &n.Description, &payload, &createdAt); err != nil {
			return nil, apperrors.Permanent("vectorindex.list.scan", err)
		}
		n.Payload = payload
		n.CreatedAt = createdAt.Time
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient("vectorindex.list", err)
	}
	if out == nil {
		out = []model.ContextNode{}
	}
	return out, nil
}
