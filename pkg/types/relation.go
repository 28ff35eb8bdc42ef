package types

import "time"

// Relation is a directed, typed edge between two entities.
// The triple (From, To, RelationType) is unique; the same edge cannot be
// recorded twice. Relations are not versioned: updating metadata requires
// deleting and recreating the edge.
type Relation struct {
	// ID is the row identifier assigned by the store.
	ID int64

	// From and To are entity names. Both must reference existing entities;
	// deleting either endpoint cascades deletion of the relation.
	From string
	To   string

	// RelationType describes the edge, e.g. "depends_on" or "supersedes".
	RelationType string

	// Metadata is an optional opaque key/value map.
	Metadata map[string]interface{}

	CreatedAt time.Time
}
