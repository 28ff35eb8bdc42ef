package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/internal/index"
	"github.com/engramdb/engram/internal/storage"
	"github.com/engramdb/engram/internal/storage/sqlite"
	"github.com/engramdb/engram/pkg/types"
)

// stubEmbedder deterministically maps vocabulary words to orthogonal axes:
// the embedding of a text has a 1 in the axis of every vocab word the text
// contains. Texts about disjoint topics come out orthogonal, which makes
// similarity assertions exact.
type stubEmbedder struct {
	vocab    []string
	failWord string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.failWord != "" && strings.Contains(text, s.failWord) {
		return nil, errors.New("stub embedder: simulated failure")
	}

	lower := strings.ToLower(text)
	vector := make([]float32, len(s.vocab))
	matched := false
	for i, word := range s.vocab {
		if strings.Contains(lower, word) {
			vector[i] = 1
			matched = true
		}
	}
	if !matched {
		// An all-zero vector breaks cosine math; use a sentinel axis.
		vector[len(vector)-1] = 1
	}
	return vector, nil
}

func (s *stubEmbedder) Model() string  { return "stub" }
func (s *stubEmbedder) Dimension() int { return len(s.vocab) }

var testVocab = []string{"cats", "dogs", "birds", "other"}

func newTestStoreAndIndex(t *testing.T) (storage.Store, *index.Index) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx, err := index.OpenMemory(len(testVocab))
	require.NoError(t, err)

	return store, idx
}

// newTestEngine builds an engine over a fresh in-memory store. Pass a nil
// index to exercise the brute-force paths.
func newTestEngine(t *testing.T, idx *index.Index) *MemoryEngine {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return New(store, &stubEmbedder{vocab: testVocab}, idx, Config{NumWorkers: 1})
}

func seedEntity(t *testing.T, eng *MemoryEngine, name, entityType string, observations ...string) {
	t.Helper()
	ctx := context.Background()

	_, err := eng.CreateEntity(ctx, &types.Entity{
		Name:         name,
		EntityType:   entityType,
		Observations: observations,
	}, false)
	require.NoError(t, err)
	require.NoError(t, eng.GenerateEmbedding(ctx, name))
}

func TestCreateEntityReportsOutcome(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	result, err := eng.CreateEntity(ctx, &types.Entity{Name: "e", EntityType: "doc"}, false)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeCreated, result.Outcome)

	result, err = eng.CreateEntity(ctx, &types.Entity{Name: "e", EntityType: "doc"}, false)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeMerged, result.Outcome)
}

func TestCreateEntityQueuesBackgroundEmbedding(t *testing.T) {
	idx, err := index.OpenMemory(len(testVocab))
	require.NoError(t, err)
	eng := newTestEngine(t, idx)
	ctx := context.Background()

	_, err = eng.CreateEntity(ctx, &types.Entity{
		Name:         "felix",
		EntityType:   "pet",
		Observations: []string{"cats"},
	}, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		entity, err := eng.GetEntity(ctx, "felix")
		return err == nil && entity.HasEmbedding()
	}, 3*time.Second, 20*time.Millisecond, "background embedding never landed")

	assert.Equal(t, 1, idx.Count())
}

func TestDeleteEntityRemovesIndexEntry(t *testing.T) {
	idx, err := index.OpenMemory(len(testVocab))
	require.NoError(t, err)
	eng := newTestEngine(t, idx)
	ctx := context.Background()

	seedEntity(t, eng, "felix", "pet", "cats")
	require.Equal(t, 1, idx.Count())

	require.NoError(t, eng.DeleteEntity(ctx, "felix"))
	assert.Equal(t, 0, idx.Count())
}

func TestGenerateEmbeddingWithoutIndexFlagsForSync(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	seedEntity(t, eng, "felix", "pet", "cats")

	entity, err := eng.GetEntity(ctx, "felix")
	require.NoError(t, err)
	assert.True(t, entity.HasEmbedding(), "row embedding must be stored")
	assert.True(t, entity.NeedsVectorSync, "missing index write must be flagged")
}
