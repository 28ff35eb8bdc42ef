// Package storage provides composable storage interfaces for the engram
// entity/relation store.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The SQLite implementation
// in the sqlite subpackage is the reference backend.
package storage

import (
	"errors"

	"github.com/engramdb/engram/pkg/types"
)

var (
	// ErrNotFound indicates that the requested entity or relation was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConstraint indicates a uniqueness or referential-integrity violation,
	// e.g. creating the same relation edge twice or pointing a relation at a
	// missing entity.
	ErrConstraint = errors.New("constraint violation")
)

// UpsertOutcome reports what CreateEntity actually did. Creating an entity
// whose name already exists is not an error: the call degrades to a merge.
type UpsertOutcome string

const (
	// OutcomeCreated means a new entity row was inserted.
	OutcomeCreated UpsertOutcome = "created"

	// OutcomeMerged means the name already existed; the new observations
	// were appended and metadata/type merged into the existing entity.
	OutcomeMerged UpsertOutcome = "merged"
)

// UpsertResult is the result of CreateEntity. Callers must not assume that
// create always produces a new row; inspect Outcome instead.
type UpsertResult struct {
	Entity  *types.Entity
	Outcome UpsertOutcome
}

// EntityUpdate carries the partial fields applied by UpdateEntity.
// Nil fields are left untouched.
type EntityUpdate struct {
	// EntityType replaces the entity's type when non-nil.
	EntityType *string

	// Metadata replaces the entity's metadata map when non-nil.
	Metadata map[string]interface{}

	// Observations replaces the full observation list when non-nil.
	// The previous list is discarded, not merged.
	Observations []string
}

// SearchOptions controls keyword search over entities.
type SearchOptions struct {
	// EntityType restricts matches to a single entity type when non-empty.
	EntityType string

	// Offset is the number of results to skip.
	Offset int

	// Limit is the maximum number of results to return (default: 10, max: 100).
	Limit int
}

// Normalize applies defaults and bounds to the SearchOptions.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// EmbeddedEntity is a (name, vector) pair used by brute-force similarity
// scans when the vector index is unavailable.
type EmbeddedEntity struct {
	Name      string
	Embedding []float32
	CreatedAt int64 // unix seconds; kept light for large scans
}

// Stats summarizes the contents of a store for maintenance surfaces.
type Stats struct {
	Entities     int
	Relations    int
	Observations int
	Embedded     int
	NeedingSync  int
}
