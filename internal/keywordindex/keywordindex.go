// Package keywordindex provides BM25 keyword search over context node
// descriptions, used only when hybrid search is enabled.
// It participates in the Semantic Matcher's Reciprocal Rank Fusion pass
// alongside the cosine-similarity ranking from vectorindex.
package keywordindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/cahoots-org/contex/internal/apperrors"
)

// Hit is a single keyword-search result, ranked by BM25 score.
type Hit struct {
	NodeKey string
	Score   float64
}

// Index is the keyword search contract.
type Index interface {
	Index(ctx context.Context, projectID, nodeKey, text string) error
	Delete(ctx context.Context, projectID, nodeKey string) error
	Search(ctx context.Context, projectID, query string, limit int) ([]Hit, error)
}

type document struct {
	ProjectID string `json:"project_id"`
	NodeKey   string `json:"node_key"`
	Text      string `json:"text"`
}

// BleveIndex is an in-memory bleve index, one per process, partitioned by
// project at the document ID level (project_id:node_key) rather than one
// bleve.Index per project, to keep index lifecycle management simple.
type BleveIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewBleveIndex builds an in-memory BM25 index with bleve's default
// English text analyzer.
func NewBleveIndex() (*BleveIndex, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, apperrors.Permanent("keywordindex.new", err)
	}
	return &BleveIndex{index: idx}, nil
}

func docID(projectID, nodeKey string) string {
	return projectID + ":" + nodeKey
}

// Index implements Index, indexing or replacing the document for
// (projectID, nodeKey).
func (b *BleveIndex) Index(_ context.Context, projectID, nodeKey, text string) error {
	if err := validate(projectID, nodeKey); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.index.Index(docID(projectID, nodeKey), document{
		ProjectID: projectID,
		NodeKey:   nodeKey,
		Text:      text,
	})
	if err != nil {
		return apperrors.Permanent("keywordindex.index", err)
	}
	return nil
}

// Delete implements Index. Deleting an unindexed document is not an error.
func (b *BleveIndex) Delete(_ context.Context, projectID, nodeKey string) error {
	if err := validate(projectID, nodeKey); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.index.Delete(docID(projectID, nodeKey)); err != nil {
		return apperrors.Permanent("keywordindex.delete", err)
	}
	return nil
}

// Search implements Index, scoped to a single project via a term query on
// project_id combined with the caller's free-text query.
func (b *BleveIndex) Search(_ context.Context, projectID, query string, limit int) ([]Hit, error) {
	if projectID == "" {
		return nil, apperrors.Validation("project_id", "must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	projectQ := bleve.NewTermQuery(projectID)
	projectQ.SetField("project_id")
	textQ := bleve.NewMatchQuery(query)
	textQ.SetField("text")

	conjunction := bleve.NewConjunctionQuery(projectQ, textQ)
	req := bleve.NewSearchRequestOptions(conjunction, limit, 0, false)

	b.mu.RLock()
	result, err := b.index.Search(req)
	b.mu.RUnlock()
	if err != nil {
		return nil, apperrors.Permanent("keywordindex.search", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		nodeKey := h.ID
		if prefix := projectID + ":"; len(nodeKey) > len(prefix) && nodeKey[:len(prefix)] == prefix {
			nodeKey = nodeKey[len(prefix):]
		}
		hits = append(hits, Hit{NodeKey: nodeKey, Score: h.Score})
	}
	return hits, nil
}

func validate(projectID, nodeKey string) error {
	if projectID == "" {
		return apperrors.Validation("project_id", "must not be empty")
	}
	if nodeKey == "" {
		return apperrors.Validation("node_key", fmt.Sprintf("must not be empty for project %s", projectID))
	}
	return nil
}
