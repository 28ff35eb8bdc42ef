// Package engine composes the storage backend, the embedding client, and the
// vector index into the memory engine: entity/relation CRUD with automatic
// embedding generation, hybrid search, and background reconciliation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/engramdb/engram/internal/embed"
	"github.com/engramdb/engram/internal/index"
	"github.com/engramdb/engram/internal/storage"
	"github.com/engramdb/engram/pkg/types"
)

// Config controls the memory engine.
type Config struct {
	// NumWorkers is the number of background embedding workers (default: 2).
	NumWorkers int

	// QueueSize is the embedding job queue capacity (default: 100). When the
	// queue is full new jobs are dropped, not blocked on; the reconciler
	// backfills anything that was dropped.
	QueueSize int

	// ShutdownTimeout bounds how long Close waits for in-flight embedding
	// jobs (default: 10s).
	ShutdownTimeout time.Duration

	// EmbeddingVersion is recorded as provenance on every stored vector.
	EmbeddingVersion int
}

func (c *Config) applyDefaults() {
	if c.NumWorkers <= 0 {
		c.NumWorkers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.EmbeddingVersion <= 0 {
		c.EmbeddingVersion = 1
	}
}

// MemoryEngine is the primary entry point for working with an engram store.
// The vector index may be nil, in which case semantic search falls back to
// brute-force scans over the stored embedding blobs and index writes are
// recorded as pending via needs_vector_sync.
type MemoryEngine struct {
	store    storage.Store
	embedder embed.Embedder
	index    *index.Index
	config   Config

	jobs chan embedJob
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a memory engine and starts its embedding worker pool.
// embedder may be nil to disable embedding generation entirely; index may be
// nil to run without a vector index.
func New(store storage.Store, embedder embed.Embedder, idx *index.Index, config Config) *MemoryEngine {
	config.applyDefaults()

	e := &MemoryEngine{
		store:    store,
		embedder: embedder,
		index:    idx,
		config:   config,
		jobs:     make(chan embedJob, config.QueueSize),
	}

	if embedder != nil {
		e.startWorkers()
	}

	return e
}

// CreateEntity creates or merges an entity. When generateEmbedding is true
// and an embedder is configured, an embedding job is queued; the write
// itself never waits on the embedding service.
func (e *MemoryEngine) CreateEntity(ctx context.Context, entity *types.Entity, generateEmbedding bool) (*storage.UpsertResult, error) {
	result, err := e.store.CreateEntity(ctx, entity)
	if err != nil {
		return nil, err
	}

	if generateEmbedding {
		e.enqueueEmbedding(result.Entity.Name)
	}

	return result, nil
}

// GetEntity returns the entity with its observations.
func (e *MemoryEngine) GetEntity(ctx context.Context, name string) (*types.Entity, error) {
	return e.store.GetEntity(ctx, name)
}

// UpdateEntity applies a partial update. Replacing the observation list
// invalidates the stored embedding, so a re-embed is queued in that case.
func (e *MemoryEngine) UpdateEntity(ctx context.Context, name string, update storage.EntityUpdate) (*types.Entity, error) {
	entity, err := e.store.UpdateEntity(ctx, name, update)
	if err != nil {
		return nil, err
	}

	if update.Observations != nil {
		e.enqueueEmbedding(name)
	}

	return entity, nil
}

// DeleteEntity removes the entity and, best-effort, its vector index entry.
// A failed index removal is logged and otherwise ignored: the row deletion
// already happened and orphan cleanup will catch the leftover.
func (e *MemoryEngine) DeleteEntity(ctx context.Context, name string) error {
	if err := e.store.DeleteEntity(ctx, name); err != nil {
		return err
	}

	if e.index != nil {
		if err := e.index.Delete(ctx, name); err != nil {
			log.Printf("engine: remove %q from vector index: %v", name, err)
		}
	}

	return nil
}

// CreateRelation inserts a typed directed edge between two entities.
func (e *MemoryEngine) CreateRelation(ctx context.Context, relation *types.Relation) error {
	return e.store.CreateRelation(ctx, relation)
}

// GetRelations returns the outgoing edges of an entity.
func (e *MemoryEngine) GetRelations(ctx context.Context, entityName string) ([]types.Relation, error) {
	return e.store.GetRelations(ctx, entityName)
}

// DeleteRelation removes a single edge.
func (e *MemoryEngine) DeleteRelation(ctx context.Context, from, to, relationType string) error {
	return e.store.DeleteRelation(ctx, from, to, relationType)
}

// GetConnectedEntities returns entities reachable from the start node within
// maxDepth hops of outgoing edges, including the start node itself.
func (e *MemoryEngine) GetConnectedEntities(ctx context.Context, entityName string, maxDepth int) ([]string, error) {
	return e.store.GetConnectedEntities(ctx, entityName, maxDepth)
}

// Stats returns store-level counts.
func (e *MemoryEngine) Stats(ctx context.Context) (*storage.Stats, error) {
	return e.store.Stats(ctx)
}

// GenerateEmbedding synchronously embeds an entity and persists the result.
// The row write is authoritative and its failure fails the call; the index
// write is best-effort and a failure only flags the row for later sync.
func (e *MemoryEngine) GenerateEmbedding(ctx context.Context, name string) error {
	if e.embedder == nil {
		return errors.New("engine: no embedder configured")
	}

	entity, err := e.store.GetEntity(ctx, name)
	if err != nil {
		return err
	}

	text := composeEmbeddingText(entity)
	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("engine: embed %q: %w", name, err)
	}

	if err := e.store.StoreEmbedding(ctx, name, vector, e.embedder.Model(), e.config.EmbeddingVersion); err != nil {
		return fmt.Errorf("engine: store embedding for %q: %w", name, err)
	}

	if e.index == nil {
		if err := e.store.SetNeedsVectorSync(ctx, name, true); err != nil {
			log.Printf("engine: flag %q for vector sync: %v", name, err)
		}
		return nil
	}

	if err := e.index.Insert(ctx, name, vector); err != nil {
		log.Printf("engine: index insert for %q failed, flagging for sync: %v", name, err)
		if ferr := e.store.SetNeedsVectorSync(ctx, name, true); ferr != nil {
			log.Printf("engine: flag %q for vector sync: %v", name, ferr)
		}
	}

	return nil
}

// Index returns the engine's vector index, which may be nil.
func (e *MemoryEngine) Index() *index.Index {
	return e.index
}

// Store returns the underlying storage backend.
func (e *MemoryEngine) Store() storage.Store {
	return e.store
}

// Close drains the embedding worker pool, waiting up to ShutdownTimeout, and
// closes the storage backend.
func (e *MemoryEngine) Close() error {
	e.mu.Lock()
	alreadyClosed := e.closed
	e.closed = true
	e.mu.Unlock()

	if !alreadyClosed && e.embedder != nil {
		e.stopWorkers()
	}

	return e.store.Close()
}

// composeEmbeddingText builds the text an entity is embedded from: name,
// type, and observations joined by newlines. Changing this changes what
// every stored vector means, so embedding_version must be bumped with it.
func composeEmbeddingText(entity *types.Entity) string {
	parts := make([]string, 0, 2+len(entity.Observations))
	parts = append(parts, entity.Name)
	if entity.EntityType != "" {
		parts = append(parts, entity.EntityType)
	}
	parts = append(parts, entity.Observations...)
	return strings.Join(parts, "\n")
}
