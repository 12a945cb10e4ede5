package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cahoots-org/contex/internal/embedding"
	"github.com/cahoots-org/contex/internal/keywordindex"
	"github.com/cahoots-org/contex/internal/model"
	"github.com/cahoots-org/contex/internal/vectorindex"
)

func seedIndex(t *testing.T, idx *vectorindex.MemoryIndex, m embedding.Model, projectID string, nodes map[string]string) {
	t.Helper()
	ctx := context.Background()
	for nodeKey, text := range nodes {
		vec, err := m.Encode(ctx, text)
		require.NoError(t, err)
		err = idx.Upsert(ctx, model.ContextNode{
			ProjectID: projectID,
			NodeKey:   nodeKey,
			DataKey:   nodeKey,
			Embedding: vec,
		})
		require.NoError(t, err)
	}
}

func TestMatcher_MatchNeedsKNNOnly(t *testing.T) {
	hm := embedding.NewHashModel()
	vecIdx := vectorindex.NewMemoryIndex()
	seedIndex(t, vecIdx, hm, "p1", map[string]string{
		"n1": "database schema migrations",
		"n2": "unrelated weather forecast data",
	})

	m := New(hm, vecIdx, nil, Config{SimilarityThreshold: 0, MaxMatches: 10})

	results, err := m.MatchNeeds(context.Background(), "p1", []string{"database schema migrations"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0])
	assert.Equal(t, "n1", results[0][0].NodeKey)
	assert.Equal(t, 0, results[0][0].NeedIndex)
}

func TestMatcher_MatchNeedsIsDeterministic(t *testing.T) {
	hm := embedding.NewHashModel()
	vecIdx := vectorindex.NewMemoryIndex()
	seedIndex(t, vecIdx, hm, "p1", map[string]string{
		"n1": "alpha content",
		"n2": "beta content",
		"n3": "gamma content",
	})

	m := New(hm, vecIdx, nil, Config{SimilarityThreshold: 0, MaxMatches: 10})
	ctx := context.Background()

	first, err := m.MatchNeeds(ctx, "p1", []string{"content about alpha"})
	require.NoError(t, err)
	second, err := m.MatchNeeds(ctx, "p1", []string{"content about alpha"})
	require.NoError(t, err)

	require.Len(t, second[0], len(first[0]))
	for i := range first[0] {
		assert.Equalf(t, first[0][i].NodeKey, second[0][i].NodeKey, "index %d", i)
		assert.Equalf(t, first[0][i].Similarity, second[0][i].Similarity, "index %d", i)
	}
}

func TestMatcher_EmptyProjectIDRejected(t *testing.T) {
	hm := embedding.NewHashModel()
	vecIdx := vectorindex.NewMemoryIndex()
	m := New(hm, vecIdx, nil, Config{MaxMatches: 10})

	_, err := m.MatchNeeds(context.Background(), "", []string{"x"})
	assert.Error(t, err, "expected error for empty project_id")
}

func TestMatcher_HybridFusionMergesBothRankers(t *testing.T) {
	hm := embedding.NewHashModel()
	vecIdx := vectorindex.NewMemoryIndex()
	kwIdx, err := keywordindex.NewBleveIndex()
	require.NoError(t, err)
	ctx := context.Background()

	seedIndex(t, vecIdx, hm, "p1", map[string]string{
		"n1": "database schema migrations",
		"n2": "completely unrelated text",
	})
	require.NoError(t, kwIdx.Index(ctx, "p1", "n1", "database schema migrations"))
	require.NoError(t, kwIdx.Index(ctx, "p1", "n2", "completely unrelated text"))

	m := New(hm, vecIdx, kwIdx, Config{
		SimilarityThreshold: 0,
		MaxMatches:          10,
		HybridSearchEnabled: true,
		BM25Weight:          0.7,
		KNNWeight:           0.3,
	})

	results, err := m.MatchNeeds(ctx, "p1", []string{"database schema migrations"})
	require.NoError(t, err)
	require.NotEmpty(t, results[0])
	assert.Equal(t, "n1", results[0][0].NodeKey)
}

func TestMatcher_HybridFusionExcludesLowSimilarityKeywordOnlyHit(t *testing.T) {
	hm := embedding.NewHashModel()
	vecIdx := vectorindex.NewMemoryIndex()
	kwIdx, err := keywordindex.NewBleveIndex()
	require.NoError(t, err)
	ctx := context.Background()

	seedIndex(t, vecIdx, hm, "p1", map[string]string{
		"n1": "database schema migrations",
	})
	require.NoError(t, kwIdx.Index(ctx, "p1", "n1", "database schema migrations"))
	// n2 is indexed for keyword search only (e.g. its embedding fell below
	// the KNN candidate window) and shares no embedding with the need, so
	// its cosine similarity against "database schema migrations" is 0.
	require.NoError(t, kwIdx.Index(ctx, "p1", "n2", "database schema migrations appendix"))

	m := New(hm, vecIdx, kwIdx, Config{
		SimilarityThreshold: 0.05,
		MaxMatches:          10,
		HybridSearchEnabled: true,
		BM25Weight:          0.9,
		KNNWeight:           0.1,
	})

	results, err := m.MatchNeeds(ctx, "p1", []string{"database schema migrations"})
	require.NoError(t, err)
	for _, r := range results[0] {
		assert.NotEqual(t, "n2", r.NodeKey, "keyword-only hit below the similarity threshold must not leak through fusion")
	}
}

func TestMatcher_MatchNodePicksBestScoringNeed(t *testing.T) {
	hm := embedding.NewHashModel()
	vecIdx := vectorindex.NewMemoryIndex()
	m := New(hm, vecIdx, nil, Config{MaxMatches: 10})
	ctx := context.Background()

	nodeVec, err := hm.Encode(ctx, "database schema migrations")
	require.NoError(t, err)

	interest, err := m.MatchNode(ctx, []string{"weather forecasts", "database schema migrations"}, nodeVec, 0.99)
	require.NoError(t, err)
	require.True(t, interest.Matched)
	assert.Equal(t, 1, interest.NeedIndex)
}

func TestMatcher_MatchNodeNoneAboveThreshold(t *testing.T) {
	hm := embedding.NewHashModel()
	vecIdx := vectorindex.NewMemoryIndex()
	m := New(hm, vecIdx, nil, Config{MaxMatches: 10})
	ctx := context.Background()

	nodeVec, _ := hm.Encode(ctx, "database schema migrations")
	interest, err := m.MatchNode(ctx, []string{"completely unrelated text"}, nodeVec, 0.99)
	require.NoError(t, err)
	assert.False(t, interest.Matched)
}

func TestMatcher_MaxMatchesDefaultsWhenUnset(t *testing.T) {
	hm := embedding.NewHashModel()
	vecIdx := vectorindex.NewMemoryIndex()
	m := New(hm, vecIdx, nil, Config{})

	assert.Equal(t, 10, m.cfg.MaxMatches)
}
