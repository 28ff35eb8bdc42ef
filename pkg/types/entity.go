// Package types defines the core data model shared by the storage,
// search, and reconciliation layers.
package types

import "time"

// Entity is a uniquely named, typed record with ordered observations and an
// optional embedding. Name is the primary key; there are no surrogate IDs.
type Entity struct {
	// Name uniquely identifies the entity across the whole database.
	Name string

	// EntityType is a free-form tag such as "fact", "decision", or "preference".
	EntityType string

	// Observations is the ordered list of free-text facts attached to this
	// entity. Insertion order is significant and preserved.
	Observations []string

	// Metadata is an opaque key/value map, serialized as JSON at rest.
	Metadata map[string]interface{}

	CreatedAt time.Time
	UpdatedAt time.Time

	// Embedding is the stored vector for this entity, or nil when no
	// embedding has been generated yet. The entity row is the source of
	// truth for the embedding's existence and value.
	Embedding []float32

	// EmbeddingModel and EmbeddingVersion record the provenance of the
	// stored embedding. EmbeddedAt is nil when Embedding is nil.
	EmbeddingModel   string
	EmbeddingVersion int
	EmbeddedAt       *time.Time

	// NeedsVectorSync is true when the row-store embedding and the vector
	// index are known to disagree. The reconciler retries flagged entities.
	NeedsVectorSync bool
}

// HasEmbedding reports whether an embedding is stored for this entity.
func (e *Entity) HasEmbedding() bool {
	return len(e.Embedding) > 0
}
