package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/cahoots-org/contex/internal/embedding"
	"github.com/cahoots-org/contex/internal/model"
)

// MemoryIndex is an exact-scan, in-process Index. The spec permits exact
// scan as an acceptable fallback for small projects, and it doubles as
// the default for tests that don't want a live Postgres instance.
type MemoryIndex struct {
	mu    sync.RWMutex
	nodes map[string]map[string]model.ContextNode // project_id -> node_key -> node
}

// NewMemoryIndex constructs an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{nodes: make(map[string]map[string]model.ContextNode)}
}

// Upsert implements Index.
func (idx *MemoryIndex) Upsert(_ context.Context, node model.ContextNode) error {
	if err := validateProjectID(node.ProjectID); err != nil {
		return err
	}
	if node.NodeKey == "" {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	proj, ok := idx.nodes[node.ProjectID]
	if !ok {
		proj = make(map[string]model.ContextNode)
		idx.nodes[node.ProjectID] = proj
	}
	proj[node.NodeKey] = node
	return nil
}

// Delete implements Index.
func (idx *MemoryIndex) Delete(_ context.Context, projectID, nodeKey string) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if proj, ok := idx.nodes[projectID]; ok {
		delete(proj, nodeKey)
	}
	return nil
}

// Search implements Index.
func (idx *MemoryIndex) Search(_ context.Context, projectID string, query []float32, threshold float64, limit int) ([]model.Match, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	proj := idx.nodes[projectID]
	matches := make([]model.Match, 0, len(proj))
	for _, node := range proj {
		sim := embedding.CosineSimilarity(query, node.Embedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, model.Match{
			NodeKey:    node.NodeKey,
			DataKey:    node.DataKey,
			Payload:    node.Payload,
			Similarity: sim,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].NodeKey < matches[j].NodeKey
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// List implements Index.
func (idx *MemoryIndex) List(_ context.Context, projectID string) ([]model.ContextNode, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	proj := idx.nodes[projectID]
	out := make([]model.ContextNode, 0, len(proj))
	for _, node := range proj {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeKey < out[j].NodeKey })
	return out, nil
}
