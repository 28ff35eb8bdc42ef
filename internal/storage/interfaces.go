package storage

import (
	"context"

	"github.com/engramdb/engram/pkg/types"
)

// EntityStore provides CRUD over entities and their ordered observation lists.
type EntityStore interface {
	// CreateEntity inserts a new entity with its observations, or merges
	// into an existing entity of the same name (dedup-on-conflict).
	// The returned result reports which of the two happened.
	CreateEntity(ctx context.Context, entity *types.Entity) (*UpsertResult, error)

	// GetEntity returns the entity with its observations in creation order.
	// Returns ErrNotFound if no entity has that name.
	GetEntity(ctx context.Context, name string) (*types.Entity, error)

	// UpdateEntity applies the supplied partial fields and refreshes
	// updated_at. When Observations is non-nil the full list is replaced.
	UpdateEntity(ctx context.Context, name string, update EntityUpdate) (*types.Entity, error)

	// DeleteEntity removes the entity; observations and relations cascade.
	DeleteEntity(ctx context.Context, name string) error

	// SearchEntities performs case-insensitive substring matching over
	// name, type, and observation text. Pattern-special characters in the
	// query are escaped so user input cannot act as a wildcard.
	SearchEntities(ctx context.Context, query string, opts SearchOptions) ([]*types.Entity, error)

	// Stats returns row counts for maintenance surfaces.
	Stats(ctx context.Context) (*Stats, error)
}

// RelationStore provides CRUD over typed directed edges and bounded traversal.
type RelationStore interface {
	// CreateRelation inserts the edge. A duplicate (from, to, type) or a
	// missing endpoint entity returns ErrConstraint. Unlike entities,
	// relations are never deduplicated silently.
	CreateRelation(ctx context.Context, relation *types.Relation) error

	// GetRelations returns outgoing edges ordered by creation time.
	GetRelations(ctx context.Context, entityName string) ([]types.Relation, error)

	// DeleteRelation removes one edge. Metadata updates are modeled as
	// delete followed by recreate; relations are not versioned.
	DeleteRelation(ctx context.Context, from, to, relationType string) error

	// GetConnectedEntities performs a breadth-first traversal along
	// outgoing edges up to maxDepth hops, returning the names of reachable
	// entities including the start node. Cycle-safe.
	GetConnectedEntities(ctx context.Context, entityName string, maxDepth int) ([]string, error)
}

// EmbeddingStore persists embedding blobs and vector-sync bookkeeping on the
// entity rows. The row store is the durability-of-record copy; the vector
// index is a projection of it.
type EmbeddingStore interface {
	// StoreEmbedding writes the vector and its provenance to the entity row
	// and clears the needs_vector_sync flag.
	StoreEmbedding(ctx context.Context, name string, embedding []float32, model string, version int) error

	// GetEmbedding returns the stored vector, or ErrNotFound when either
	// the entity or its embedding is absent.
	GetEmbedding(ctx context.Context, name string) ([]float32, error)

	// SetNeedsVectorSync flags or clears an entity whose index entry is
	// known to be stale or missing.
	SetNeedsVectorSync(ctx context.Context, name string, needsSync bool) error

	// ListEntitiesWithoutEmbedding returns names of entities lacking an
	// embedding, oldest first.
	ListEntitiesWithoutEmbedding(ctx context.Context) ([]string, error)

	// ListEntitiesNeedingSync returns names of entities that have an
	// embedding and needs_vector_sync set.
	ListEntitiesNeedingSync(ctx context.Context) ([]string, error)

	// ListEmbeddings returns every stored (name, vector) pair, optionally
	// filtered by entity types. Used by brute-force similarity scans.
	ListEmbeddings(ctx context.Context, entityTypes []string) ([]EmbeddedEntity, error)
}

// Store is the full storage surface the engine composes over.
type Store interface {
	EntityStore
	RelationStore
	EmbeddingStore

	// Close releases any resources held by the store.
	Close() error
}
