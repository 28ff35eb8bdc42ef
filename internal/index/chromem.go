// Package index provides the secondary vector index used to accelerate
// semantic search. The index holds a derived copy of the embeddings stored
// in the entity rows; it can always be rebuilt from them.
package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "entities"

// Match is a single nearest-neighbour hit. Distance is 1 - cosine
// similarity, so smaller is closer.
type Match struct {
	Name     string
	Distance float64
}

// Index is a persistent approximate-nearest-neighbour index over entity
// embeddings, backed by chromem-go. It is safe for concurrent use.
type Index struct {
	db        *chromem.DB
	col       *chromem.Collection
	dimension int
}

// Open creates or reopens the vector index at the given directory.
// Dimension is fixed per index; vectors of a different length are rejected
// on insert.
func Open(path string, dimension int) (*Index, error) {
	if path == "" {
		return nil, errors.New("index: path is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("index: invalid dimension %d", dimension)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("index: create directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}

	// Embeddings are always supplied by the caller, never computed here.
	// chromem requires an embedding func regardless, and defaults to an
	// OpenAI client when given nil, so pass a stub that refuses to run.
	col, err := db.GetOrCreateCollection(collectionName, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("index: open collection: %w", err)
	}

	log.Printf("index: opened at %s (dimension=%d, entries=%d)", path, dimension, col.Count())

	return &Index{db: db, col: col, dimension: dimension}, nil
}

// OpenMemory creates an ephemeral in-memory index. Used in tests and when
// no index path is configured.
func OpenMemory(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("index: invalid dimension %d", dimension)
	}

	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("index: open collection: %w", err)
	}
	return &Index{db: db, col: col, dimension: dimension}, nil
}

func rejectEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("index: server-side embedding is not supported")
}

// Insert adds or replaces the vector for an entity. Insert is an upsert:
// the previous entry for the same name, if any, is removed first.
func (x *Index) Insert(ctx context.Context, name string, embedding []float32) error {
	if name == "" {
		return errors.New("index: entity name is required")
	}
	if len(embedding) != x.dimension {
		return fmt.Errorf("index: vector has %d dimensions, index expects %d", len(embedding), x.dimension)
	}

	// chromem's AddDocument does not replace in place.
	if err := x.col.Delete(ctx, nil, nil, name); err != nil {
		return fmt.Errorf("index: replace %q: %w", name, err)
	}

	doc := chromem.Document{
		ID:        name,
		Content:   name,
		Embedding: embedding,
	}
	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index: insert %q: %w", name, err)
	}
	return nil
}

// Search returns up to limit nearest neighbours of the query vector,
// closest first. An empty index returns no matches and no error.
func (x *Index) Search(ctx context.Context, embedding []float32, limit int) ([]Match, error) {
	if len(embedding) != x.dimension {
		return nil, fmt.Errorf("index: query vector has %d dimensions, index expects %d", len(embedding), x.dimension)
	}
	if limit <= 0 {
		return nil, nil
	}

	count := x.col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := x.col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Name:     r.ID,
			Distance: 1 - float64(r.Similarity),
		})
	}
	return matches, nil
}

// Delete removes an entity's vector. Deleting a missing entry is a no-op.
func (x *Index) Delete(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("index: entity name is required")
	}
	if err := x.col.Delete(ctx, nil, nil, name); err != nil {
		return fmt.Errorf("index: delete %q: %w", name, err)
	}
	return nil
}

// ListNames returns the names of all indexed entities. Used by
// reconciliation to find index entries whose entity row no longer exists.
func (x *Index) ListNames(ctx context.Context) ([]string, error) {
	count := x.col.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem has no direct enumeration API; query with an arbitrary unit
	// vector and k equal to the collection size to visit every entry.
	probe := make([]float32, x.dimension)
	probe[0] = 1

	results, err := x.col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("index: list names: %w", err)
	}

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.ID)
	}
	return names, nil
}

// Count returns the number of indexed entries.
func (x *Index) Count() int {
	return x.col.Count()
}
