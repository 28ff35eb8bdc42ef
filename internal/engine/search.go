package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/engramdb/engram/internal/embed"
	"github.com/engramdb/engram/internal/storage"
	"github.com/engramdb/engram/pkg/types"
)

// SemanticOptions controls semantic search.
type SemanticOptions struct {
	// Limit is the maximum number of results (default: 10).
	Limit int

	// MinSimilarity discards results scoring below it (default: 0.3).
	MinSimilarity float64

	// EntityTypes restricts matches to the given types when non-empty.
	EntityTypes []string
}

func (o *SemanticOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = 0.3
	}
}

// SemanticResult is one semantic search hit.
type SemanticResult struct {
	Entity     *types.Entity
	Similarity float64
}

// HybridOptions controls hybrid search. The three weights are independent
// knobs and need not sum to 1.
type HybridOptions struct {
	Limit          int
	MinSimilarity  float64
	SemanticWeight float64
	KeywordWeight  float64
	RecencyWeight  float64
	EntityTypes    []string
}

func (o *HybridOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = 0.3
	}
	if o.SemanticWeight == 0 && o.KeywordWeight == 0 && o.RecencyWeight == 0 {
		o.SemanticWeight = 0.6
		o.KeywordWeight = 0.3
		o.RecencyWeight = 0.1
	}
}

// ScoreComponents breaks a hybrid score down into its weighted contributions.
type ScoreComponents struct {
	Semantic float64
	Keyword  float64
	Recency  float64
}

// HybridResult is one hybrid search hit with its composite score.
type HybridResult struct {
	Entity     *types.Entity
	Score      float64
	Components ScoreComponents
}

// KeywordSearch performs case-insensitive substring matching over entity
// names, types, and observation text.
func (e *MemoryEngine) KeywordSearch(ctx context.Context, query string, opts storage.SearchOptions) ([]*types.Entity, error) {
	return e.store.SearchEntities(ctx, query, opts)
}

// SemanticSearch finds entities by embedding similarity to the query text.
// The vector index serves the lookup when available; any index failure
// falls back to a brute-force scan over the stored embedding blobs. Both
// paths use the same similarity definition, so results are comparable
// regardless of which one answered.
func (e *MemoryEngine) SemanticSearch(ctx context.Context, query string, opts SemanticOptions) ([]SemanticResult, error) {
	if e.embedder == nil {
		return nil, errors.New("engine: no embedder configured")
	}
	opts.applyDefaults()

	queryVector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine: embed query: %w", err)
	}

	if e.index != nil {
		results, err := e.semanticIndexed(ctx, queryVector, opts)
		if err == nil {
			return results, nil
		}
		log.Printf("engine: indexed semantic search failed, using brute force: %v", err)
	}

	return e.semanticBruteForce(ctx, queryVector, opts)
}

// semanticIndexed serves a semantic query from the vector index. The index
// is over-queried relative to the limit to leave room for post-filtering by
// type and threshold.
func (e *MemoryEngine) semanticIndexed(ctx context.Context, queryVector []float32, opts SemanticOptions) ([]SemanticResult, error) {
	matches, err := e.index.Search(ctx, queryVector, opts.Limit*3)
	if err != nil {
		return nil, err
	}

	typeFilter := toTypeSet(opts.EntityTypes)
	results := make([]SemanticResult, 0, opts.Limit)
	for _, match := range matches {
		similarity := 1 - match.Distance
		if similarity < opts.MinSimilarity {
			continue
		}

		entity, err := e.store.GetEntity(ctx, match.Name)
		if errors.Is(err, storage.ErrNotFound) {
			// Orphaned index entry from a prior partial delete; the
			// reconciler removes these.
			continue
		}
		if err != nil {
			return nil, err
		}
		if typeFilter != nil && !typeFilter[entity.EntityType] {
			continue
		}

		results = append(results, SemanticResult{Entity: entity, Similarity: similarity})
		if len(results) >= opts.Limit {
			break
		}
	}
	return results, nil
}

// semanticBruteForce scans every stored embedding and scores it against the
// query vector directly.
func (e *MemoryEngine) semanticBruteForce(ctx context.Context, queryVector []float32, opts SemanticOptions) ([]SemanticResult, error) {
	embedded, err := e.store.ListEmbeddings(ctx, opts.EntityTypes)
	if err != nil {
		return nil, fmt.Errorf("engine: list embeddings: %w", err)
	}

	type scored struct {
		name       string
		similarity float64
	}
	candidates := make([]scored, 0, len(embedded))
	for _, item := range embedded {
		similarity := embed.CosineSimilarity(queryVector, item.Embedding)
		if similarity < opts.MinSimilarity {
			continue
		}
		candidates = append(candidates, scored{name: item.Name, similarity: similarity})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})

	results := make([]SemanticResult, 0, opts.Limit)
	for _, c := range candidates {
		if len(results) >= opts.Limit {
			break
		}
		entity, err := e.store.GetEntity(ctx, c.name)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, SemanticResult{Entity: entity, Similarity: c.similarity})
	}
	return results, nil
}

// HybridSearch merges semantic similarity, keyword matching, and recency
// into one composite ranking. Semantic candidates are gathered with a looser
// threshold (half the requested minimum) and a larger pool so the composite
// score decides inclusion rather than the semantic threshold alone.
func (e *MemoryEngine) HybridSearch(ctx context.Context, query string, opts HybridOptions) ([]HybridResult, error) {
	opts.applyDefaults()

	semantic, err := e.SemanticSearch(ctx, query, SemanticOptions{
		Limit:         opts.Limit * 2,
		MinSimilarity: opts.MinSimilarity * 0.5,
		EntityTypes:   opts.EntityTypes,
	})
	if err != nil {
		return nil, err
	}

	keywordOpts := storage.SearchOptions{Limit: opts.Limit * 2}
	keyword, err := e.store.SearchEntities(ctx, query, keywordOpts)
	if err != nil {
		return nil, fmt.Errorf("engine: keyword candidates: %w", err)
	}

	typeFilter := toTypeSet(opts.EntityTypes)
	now := time.Now()

	accumulator := make(map[string]*HybridResult)
	for _, hit := range semantic {
		accumulator[hit.Entity.Name] = &HybridResult{
			Entity: hit.Entity,
			Components: ScoreComponents{
				Semantic: hit.Similarity * opts.SemanticWeight,
			},
		}
	}
	for _, entity := range keyword {
		if typeFilter != nil && !typeFilter[entity.EntityType] {
			continue
		}
		result, ok := accumulator[entity.Name]
		if !ok {
			result = &HybridResult{Entity: entity}
			accumulator[entity.Name] = result
		}
		// Keyword matching is binary; a match contributes the full weight.
		result.Components.Keyword = 1.0 * opts.KeywordWeight
	}

	results := make([]HybridResult, 0, len(accumulator))
	for _, result := range accumulator {
		result.Components.Recency = recencyScore(result.Entity.CreatedAt, now) * opts.RecencyWeight
		result.Score = result.Components.Semantic + result.Components.Keyword + result.Components.Recency
		if result.Score < opts.MinSimilarity {
			continue
		}
		results = append(results, *result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entity.Name < results[j].Entity.Name
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// recencyScore decays linearly from 1 at creation time to 0 after one year.
func recencyScore(createdAt time.Time, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	age := now.Sub(createdAt)
	score := 1 - age.Hours()/(365*24)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func toTypeSet(entityTypes []string) map[string]bool {
	if len(entityTypes) == 0 {
		return nil
	}
	set := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		set[t] = true
	}
	return set
}
