package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/index"
	"github.com/engramdb/engram/internal/storage"
)

func TestSemanticSearchThresholdMonotonicity(t *testing.T) {
	idx, err := index.OpenMemory(len(testVocab))
	require.NoError(t, err)
	eng := newTestEngine(t, idx)
	ctx := context.Background()

	seedEntity(t, eng, "felix", "pet", "cats")
	seedEntity(t, eng, "rex", "pet", "dogs")
	// Embeds to the diagonal of the cats and dogs axes: similarity to a
	// pure "cats" query is 1/sqrt(2) ~ 0.707.
	seedEntity(t, eng, "hybrid-pet", "pet", "cats dogs")

	results, err := eng.SemanticSearch(ctx, "cats", SemanticOptions{MinSimilarity: 0.8})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "felix", results[0].Entity.Name)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.8)
	}

	// Loosening the threshold admits the diagonal entity but still never
	// anything below the requested minimum.
	results, err = eng.SemanticSearch(ctx, "cats", SemanticOptions{MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.5)
	}
}

func TestSemanticSearchEntityTypeFilter(t *testing.T) {
	idx, err := index.OpenMemory(len(testVocab))
	require.NoError(t, err)
	eng := newTestEngine(t, idx)
	ctx := context.Background()

	seedEntity(t, eng, "felix", "pet", "cats")
	seedEntity(t, eng, "cat-essay", "doc", "cats")

	results, err := eng.SemanticSearch(ctx, "cats", SemanticOptions{EntityTypes: []string{"doc"}})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "cat-essay", results[0].Entity.Name)
}

func TestSemanticSearchFallbackEquivalence(t *testing.T) {
	store, idx := newTestStoreAndIndex(t)
	embedder := &stubEmbedder{vocab: testVocab}

	indexed := New(store, embedder, idx, Config{})
	bruteForce := New(store, embedder, nil, Config{})
	ctx := context.Background()

	seedEntity(t, indexed, "felix", "pet", "cats")
	seedEntity(t, indexed, "rex", "pet", "dogs")
	seedEntity(t, indexed, "hybrid-pet", "pet", "cats dogs")
	seedEntity(t, indexed, "tweety", "pet", "birds")

	opts := SemanticOptions{MinSimilarity: 0.1, Limit: 10}

	fromIndex, err := indexed.SemanticSearch(ctx, "cats", opts)
	require.NoError(t, err)

	fromScan, err := bruteForce.SemanticSearch(ctx, "cats", opts)
	require.NoError(t, err)

	require.Equal(t, len(fromIndex), len(fromScan), "both paths must return the same result set")
	for i := range fromIndex {
		assert.Equal(t, fromIndex[i].Entity.Name, fromScan[i].Entity.Name, "ordering diverged at %d", i)
		assert.InDelta(t, fromIndex[i].Similarity, fromScan[i].Similarity, 1e-6)
	}
}

func TestSemanticSearchBruteForceOrdering(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	seedEntity(t, eng, "felix", "pet", "cats")
	seedEntity(t, eng, "hybrid-pet", "pet", "cats dogs")

	results, err := eng.SemanticSearch(ctx, "cats", SemanticOptions{MinSimilarity: 0.1})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "felix", results[0].Entity.Name, "exact match must rank first")
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestHybridSearchSemanticWeightOnly(t *testing.T) {
	idx, err := index.OpenMemory(len(testVocab))
	require.NoError(t, err)
	eng := newTestEngine(t, idx)
	ctx := context.Background()

	seedEntity(t, eng, "felix", "pet", "cats")
	seedEntity(t, eng, "rex", "pet", "dogs")

	results, err := eng.HybridSearch(ctx, "cats", HybridOptions{
		SemanticWeight: 1,
		KeywordWeight:  0,
		RecencyWeight:  0,
	})
	require.NoError(t, err)

	require.NotEmpty(t, results)
	assert.Equal(t, "felix", results[0].Entity.Name)
	for _, r := range results[1:] {
		assert.NotEqual(t, "rex", r.Entity.Name, "orthogonal entity must not outrank the match")
		assert.Less(t, r.Score, results[0].Score)
	}
}

func TestHybridSearchKeywordContribution(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	// Same semantic content; only one mentions the query term by name.
	seedEntity(t, eng, "cats-weekly", "doc", "cats")
	seedEntity(t, eng, "felix", "pet", "cats")

	results, err := eng.HybridSearch(ctx, "cats", HybridOptions{
		MinSimilarity:  0.1,
		SemanticWeight: 0.6,
		KeywordWeight:  0.3,
		RecencyWeight:  0,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.InDelta(t, 0.3, r.Components.Keyword, 1e-9, "%s keyword component", r.Entity.Name)
		assert.InDelta(t, 0.6, r.Components.Semantic, 1e-6, "%s semantic component", r.Entity.Name)
		assert.InDelta(t, 0.9, r.Score, 1e-6)
	}
}

func TestHybridSearchFiltersByCompositeScore(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	seedEntity(t, eng, "hybrid-pet", "pet", "cats dogs")

	// Similarity to the query is 0.5, so the semantic-only composite is
	// 0.5 * 0.5 = 0.25; a floor above that must exclude the entity even
	// though it passed the looser semantic gathering threshold.
	results, err := eng.HybridSearch(ctx, "cats birds", HybridOptions{
		MinSimilarity:  0.45,
		SemanticWeight: 0.5,
		KeywordWeight:  0,
		RecencyWeight:  0,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecencyScoreLinearDecay(t *testing.T) {
	now := time.Now()

	assert.InDelta(t, 1.0, recencyScore(now, now), 1e-6)
	assert.Equal(t, 0.0, recencyScore(now.AddDate(-2, 0, 0), now), "entities older than a year decay to zero")
	assert.InDelta(t, 0.5, recencyScore(now.AddDate(0, -6, 0), now), 0.02)
	assert.Equal(t, 0.0, recencyScore(time.Time{}, now), "zero timestamp contributes nothing")
}

func TestKeywordSearchDelegates(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	seedEntity(t, eng, "billing-api", "service", "cats")

	results, err := eng.KeywordSearch(ctx, "billing", storage.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "billing-api", results[0].Name)
}
