package engine

import (
	"context"

	"github.com/cahoots-org/contex/internal/model"
)

// ExportedProject is a portable snapshot of a project's ContextNodes,
// sufficient to reconstruct query behavior in a different vector (and,
// if configured, keyword) index without replaying the event log.
type ExportedProject struct {
	ProjectID string
	Nodes     []model.ContextNode
}

// Export snapshots every ContextNode currently indexed for projectID. It
// does not touch the event log: a project reconstructed purely from an
// export has no publish history, only current state.
func (e *Engine) Export(ctx context.Context, projectID string) (ExportedProject, error) {
	nodes, err := e.vectors.List(ctx, projectID)
	if err != nil {
		return ExportedProject{}, err
	}
	return ExportedProject{ProjectID: projectID, Nodes: nodes}, nil
}

// Import re-creates snapshot under targetProjectID in this Engine's vector
// index (and keyword index, if hybrid search is enabled), so that
// query(any_q) against targetProjectID ranks identically to the source
// project the snapshot was exported from.
func (e *Engine) Import(ctx context.Context, targetProjectID string, snapshot ExportedProject) error {
	for _, node := range snapshot.Nodes {
		node.ProjectID = targetProjectID
		if err := e.vectors.Upsert(ctx, node); err != nil {
			return err
		}
		if e.keywords != nil {
			if err := e.keywords.Index(ctx, targetProjectID, node.NodeKey, node.Description); err != nil {
				return err
			}
		}
	}
	return nil
}
