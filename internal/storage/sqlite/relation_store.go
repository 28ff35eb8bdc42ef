package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/engramdb/engram/internal/storage"
	"github.com/engramdb/engram/pkg/types"
)

// CreateRelation inserts the edge. Unlike entities, relations are never
// deduplicated silently: a duplicate (from, to, type) triple surfaces as
// ErrConstraint, as does a missing endpoint entity.
func (s *Store) CreateRelation(ctx context.Context, relation *types.Relation) error {
	if relation == nil {
		return storage.ErrInvalidInput
	}
	if relation.From == "" || relation.To == "" {
		return fmt.Errorf("%w: relation endpoints are required", storage.ErrInvalidInput)
	}
	if relation.RelationType == "" {
		return fmt.Errorf("%w: relation type is required", storage.ErrInvalidInput)
	}

	metadataJSON, err := marshalMetadata(relation.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (from_entity, to_entity, relation_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		relation.From, relation.To, relation.RelationType, nullableBytes(metadataJSON), now,
	)
	if err != nil {
		return mapConstraintErr(fmt.Errorf("sqlite: create relation: %w", err))
	}

	if id, err := result.LastInsertId(); err == nil {
		relation.ID = id
	}
	relation.CreatedAt = now

	return nil
}

// GetRelations returns outgoing edges ordered by creation time.
func (s *Store) GetRelations(ctx context.Context, entityName string) ([]types.Relation, error) {
	if entityName == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_entity, to_entity, relation_type, metadata, created_at
		FROM relations
		WHERE from_entity = ?
		ORDER BY created_at ASC, id ASC`, entityName)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get relations: %w", err)
	}
	defer rows.Close()

	var relations []types.Relation
	for rows.Next() {
		var (
			rel          types.Relation
			metadataJSON sql.NullString
		)
		if err := rows.Scan(&rel.ID, &rel.From, &rel.To, &rel.RelationType, &metadataJSON, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan relation: %w", err)
		}
		rel.Metadata = decodeMetadata(metadataJSON, rel.From+"->"+rel.To)
		relations = append(relations, rel)
	}
	return relations, rows.Err()
}

// DeleteRelation removes one edge. Relations are not versioned; a metadata
// update is modeled as DeleteRelation followed by CreateRelation.
func (s *Store) DeleteRelation(ctx context.Context, from, to, relationType string) error {
	if from == "" || to == "" || relationType == "" {
		return fmt.Errorf("%w: from, to, and relation type are required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM relations
		WHERE from_entity = ? AND to_entity = ? AND relation_type = ?`,
		from, to, relationType)
	if err != nil {
		return fmt.Errorf("sqlite: delete relation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// GetConnectedEntities performs a breadth-first traversal along outgoing
// edges up to maxDepth hops and returns the names of reachable entities
// including the start node. A visited set keeps the walk cycle-safe; each
// frontier is expanded with a single IN query.
func (s *Store) GetConnectedEntities(ctx context.Context, entityName string, maxDepth int) ([]string, error) {
	if entityName == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}
	if maxDepth < 0 {
		maxDepth = 0
	}

	visited := map[string]bool{entityName: true}
	reachable := []string{entityName}
	frontier := []string{entityName}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		neighbours, err := s.outgoingNeighbours(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("sqlite: traverse depth %d: %w", depth+1, err)
		}

		frontier = frontier[:0]
		for _, name := range neighbours {
			if visited[name] {
				continue
			}
			visited[name] = true
			reachable = append(reachable, name)
			frontier = append(frontier, name)
		}
	}

	return reachable, nil
}

// outgoingNeighbours returns the distinct targets of edges whose source is
// in the frontier, in creation order for deterministic traversal.
func (s *Store) outgoingNeighbours(ctx context.Context, frontier []string) ([]string, error) {
	if len(frontier) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(frontier))
	for i, name := range frontier {
		args[i] = name
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT to_entity FROM relations
		WHERE from_entity IN (%s)
		ORDER BY to_entity ASC`, buildInClause(len(frontier)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// buildInClause returns a comma-separated string of n "?" placeholders.
func buildInClause(n int) string {
	if n == 0 {
		return ""
	}
	clause := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			clause = append(clause, ',')
		}
		clause = append(clause, '?')
	}
	return string(clause)
}
