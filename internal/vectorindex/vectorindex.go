// Package vectorindex stores embedded context nodes and answers nearest-
// neighbor queries by cosine similarity. The in-memory implementation does
// an exact scan, which the spec explicitly allows as a small-project
// fallback; PostgresIndex backs the same contract with pgvector for scale.
package vectorindex

import (
	"context"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/model"
)

// Index is the vector store contract keyed by (project_id, node_key).
type Index interface {
	// Upsert stores or replaces the node, keyed by (ProjectID, NodeKey).
	Upsert(ctx context.Context, node model.ContextNode) error

	// Delete removes a node. Deleting an unknown node is not an error.
	Delete(ctx context.Context, projectID, nodeKey string) error

	// Search returns nodes in projectID with cosine similarity to query
	// at or above threshold, descending by similarity, ties broken by
	// node_key ascending, capped at limit.
	Search(ctx context.Context, projectID string, query []float32, threshold float64, limit int) ([]model.Match, error)

	// List returns every node currently stored for projectID, for
	// export and administrative tooling.
	List(ctx context.Context, projectID string) ([]model.ContextNode, error)
}

func validateProjectID(projectID string) error {
	if projectID == "" {
		return apperrors.Validation("project_id", "must not be empty")
	}
	return nil
}
