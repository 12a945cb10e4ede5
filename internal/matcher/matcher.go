// Package matcher implements the Semantic Matcher: given a set of agent
// "needs" (free-text descriptions of what an agent is interested in), it
// ranks context nodes in a project against each need by cosine similarity
// on their embeddings, optionally fused with BM25 keyword rank via
// Reciprocal Rank Fusion when hybrid search is enabled.
package matcher

import (
	"context"
	"sort"

	"github.com/cahoots-org/contex/internal/apperrors"
	"github.com/cahoots-org/contex/internal/embedding"
	"github.com/cahoots-org/contex/internal/keywordindex"
	"github.com/cahoots-org/contex/internal/model"
	"github.com/cahoots-org/contex/internal/vectorindex"
)

// rrfK is the Reciprocal Rank Fusion rank-damping constant. 60 is the
// value used in the original RRF paper and widely reused unchanged.
const rrfK = 60

// Config tunes the matcher's ranking behavior.
type Config struct {
	SimilarityThreshold float64
	MaxMatches          int
	HybridSearchEnabled bool
	BM25Weight          float64
	KNNWeight           float64
}

// Matcher composes the embedding model, vector index, and (optionally)
// keyword index into a single ranking entry point.
type Matcher struct {
	model    embedding.Model
	vectors  vectorindex.Index
	keywords keywordindex.Index
	cfg      Config
}

// New constructs a Matcher. keywords may be nil when hybrid search is
// disabled; New does not itself gate on cfg.HybridSearchEnabled so tests
// can exercise both paths against the same instance.
func New(model embedding.Model, vectors vectorindex.Index, keywords keywordindex.Index, cfg Config) *Matcher {
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = 10
	}
	return &Matcher{model: model, vectors: vectors, keywords: keywords, cfg: cfg}
}

// Embed exposes the matcher's own embedding model so callers that build
// ContextNodes (the engine, on publish) embed descriptions through the
// same model and cache used for matching.
func (m *Matcher) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := m.model.Encode(ctx, text)
	if err != nil {
		return nil, apperrors.Transient("matcher.encode", err)
	}
	return vec, nil
}

// MatchNeeds ranks context nodes for each need independently and returns
// one slice of matches per need, in the same order as needs. Results are
// deterministic: identical inputs always produce an identical ordering.
func (m *Matcher) MatchNeeds(ctx context.Context, projectID string, needs []string) ([][]model.Match, error) {
	if projectID == "" {
		return nil, apperrors.Validation("project_id", "must not be empty")
	}

	out := make([][]model.Match, len(needs))
	for i, need := range needs {
		matches, err := m.matchOne(ctx, projectID, need)
		if err != nil {
			return nil, err
		}
		for j := range matches {
			matches[j].NeedIndex = i
		}
		out[i] = matches
	}
	return out, nil
}

func (m *Matcher) matchOne(ctx context.Context, projectID, need string) ([]model.Match, error) {
	vec, err := m.model.Encode(ctx, need)
	if err != nil {
		return nil, apperrors.Transient("matcher.encode", err)
	}

	knnMatches, err := m.vectors.Search(ctx, projectID, vec, m.cfg.SimilarityThreshold, m.cfg.MaxMatches*4)
	if err != nil {
		return nil, err
	}

	if !m.cfg.HybridSearchEnabled || m.keywords == nil {
		if len(knnMatches) > m.cfg.MaxMatches {
			knnMatches = knnMatches[:m.cfg.MaxMatches]
		}
		return knnMatches, nil
	}

	kwHits, err := m.keywords.Search(ctx, projectID, need, m.cfg.MaxMatches*4)
	if err != nil {
		return nil, err
	}

	return m.fuse(knnMatches, kwHits), nil
}

// fuse combines the KNN ranking and keyword ranking via weighted
// Reciprocal Rank Fusion: score(node) = knnWeight/(k+knnRank) +
// bm25Weight/(k+bm25Rank), 0 contribution from a ranker that didn't
// surface the node at all. Per spec §4.4 step 4, the similarity threshold
// still gates on the original cosine similarity, not the fused RRF score —
// otherwise a keyword-only hit (cosine similarity 0) or a low-similarity
// node boosted purely by BM25 rank could leak through hybrid search. The
// fused score only decides ranking and top_k truncation among the
// candidates that already clear threshold on their own similarity.
func (m *Matcher) fuse(knn []model.Match, kw []keywordindex.Hit) []model.Match {
	byNode := make(map[string]*model.Match)
	rrfScore := make(map[string]float64)

	for rank, mm := range knn {
		byNode[mm.NodeKey] = &mm
		rrfScore[mm.NodeKey] += m.cfg.KNNWeight / float64(rrfK+rank+1)
	}
	for rank, hit := range kw {
		rrfScore[hit.NodeKey] += m.cfg.BM25Weight / float64(rrfK+rank+1)
		if _, ok := byNode[hit.NodeKey]; !ok {
			// Keyword-only hit: no embedding similarity available, carry
			// the node key forward with a zero similarity component so it
			// is filtered out below unless threshold is itself 0.
			byNode[hit.NodeKey] = &model.Match{NodeKey: hit.NodeKey}
		}
	}

	type ranked struct {
		match model.Match
		fused float64
	}
	candidates := make([]ranked, 0, len(byNode))
	for key, mm := range byNode {
		if mm.Similarity < m.cfg.SimilarityThreshold {
			continue
		}
		candidates = append(candidates, ranked{match: *mm, fused: rrfScore[key]})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].fused != candidates[j].fused {
			return candidates[i].fused > candidates[j].fused
		}
		return candidates[i].match.NodeKey < candidates[j].match.NodeKey
	})

	if len(candidates) > m.cfg.MaxMatches {
		candidates = candidates[:m.cfg.MaxMatches]
	}

	fused := make([]model.Match, len(candidates))
	for i, c := range candidates {
		fused[i] = c.match
	}
	return fused
}

// NodeInterest is the outcome of testing a single just-published node
// against one agent's declared needs, used by the dispatcher's fan-out
// (spec §4.5): a registration is interested if any of its needs scores
// at or above the similarity threshold against the node directly,
// independent of whatever is currently in the vector index.
type NodeInterest struct {
	Matched    bool
	NeedIndex  int
	Need       string
	Similarity float64
}

// MatchNode embeds each need (cache absorbs repeats across agents sharing
// a need string) and compares it directly against nodeEmbedding, returning
// the highest-scoring need that clears threshold, if any.
func (m *Matcher) MatchNode(ctx context.Context, needs []string, nodeEmbedding []float32, threshold float64) (NodeInterest, error) {
	best := NodeInterest{NeedIndex: -1}
	for i, need := range needs {
		vec, err := m.model.Encode(ctx, need)
		if err != nil {
			return NodeInterest{}, apperrors.Transient("matcher.encode", err)
		}
		sim := embedding.CosineSimilarity(vec, nodeEmbedding)
		if sim >= threshold && sim > best.Similarity {
			best = NodeInterest{Matched: true, NeedIndex: i, Need: need, Similarity: sim}
		}
	}
	return best, nil
}
