package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/engramdb/engram/internal/storage"
	"github.com/engramdb/engram/pkg/types"
)

// entityColumns is the SELECT column list shared by every entity scan site.
const entityColumns = `
	name, entity_type, metadata, created_at, updated_at,
	embedding, embedding_model, embedding_version, embedded_at, needs_vector_sync
`

// CreateEntity inserts the entity and its observations in one transaction.
// If an entity with that name already exists this is not an error: the call
// degrades to a merge that appends the new observations to the existing
// ordered list and merges metadata/type. The returned UpsertResult reports
// which of the two happened.
func (s *Store) CreateEntity(ctx context.Context, entity *types.Entity) (*storage.UpsertResult, error) {
	if entity == nil {
		return nil, storage.ErrInvalidInput
	}
	if entity.Name == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}
	if entity.EntityType == "" {
		return nil, fmt.Errorf("%w: entity type is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin create entity: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	outcome := storage.OutcomeCreated

	var existingMetadata sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT metadata FROM entities WHERE name = ?", entity.Name,
	).Scan(&existingMetadata)

	switch {
	case err == sql.ErrNoRows:
		metadataJSON, merr := marshalMetadata(entity.Metadata)
		if merr != nil {
			return nil, merr
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (name, entity_type, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			entity.Name, entity.EntityType, nullableBytes(metadataJSON), now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert entity: %w", err)
		}

	case err != nil:
		return nil, fmt.Errorf("sqlite: check existing entity: %w", err)

	default:
		// Merge path: overlay new metadata keys onto the stored map and
		// take the incoming type. Observations are appended below.
		outcome = storage.OutcomeMerged
		merged := decodeMetadata(existingMetadata, entity.Name)
		if merged == nil {
			merged = make(map[string]interface{})
		}
		for k, v := range entity.Metadata {
			merged[k] = v
		}
		metadataJSON, merr := marshalMetadata(merged)
		if merr != nil {
			return nil, merr
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE entities SET entity_type = ?, metadata = ?, updated_at = ?
			WHERE name = ?`,
			entity.EntityType, nullableBytes(metadataJSON), now, entity.Name,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: merge entity: %w", err)
		}
	}

	if err := insertObservations(ctx, tx, entity.Name, entity.Observations, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit create entity: %w", err)
	}

	stored, err := s.GetEntity(ctx, entity.Name)
	if err != nil {
		return nil, err
	}
	return &storage.UpsertResult{Entity: stored, Outcome: outcome}, nil
}

// GetEntity returns the entity with its observations in creation order.
func (s *Store) GetEntity(ctx context.Context, name string) (*types.Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT"+entityColumns+"FROM entities WHERE name = ?", name)

	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get entity: %w", err)
	}

	observations, err := s.getObservations(ctx, name)
	if err != nil {
		return nil, err
	}
	entity.Observations = observations

	return entity, nil
}

// UpdateEntity applies only the supplied fields and always refreshes
// updated_at. A non-nil Observations slice replaces the full list.
func (s *Store) UpdateEntity(ctx context.Context, name string, update storage.EntityUpdate) (*types.Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin update entity: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE name = ?", name,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("sqlite: check entity exists: %w", err)
	}
	if exists == 0 {
		return nil, storage.ErrNotFound
	}

	now := time.Now().UTC()

	setClauses := []string{"updated_at = ?"}
	args := []interface{}{now}

	if update.EntityType != nil {
		setClauses = append(setClauses, "entity_type = ?")
		args = append(args, *update.EntityType)
	}
	if update.Metadata != nil {
		metadataJSON, merr := marshalMetadata(update.Metadata)
		if merr != nil {
			return nil, merr
		}
		setClauses = append(setClauses, "metadata = ?")
		args = append(args, nullableBytes(metadataJSON))
	}

	args = append(args, name)
	query := "UPDATE entities SET " + strings.Join(setClauses, ", ") + " WHERE name = ?"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: update entity: %w", err)
	}

	if update.Observations != nil {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM observations WHERE entity_name = ?", name,
		); err != nil {
			return nil, fmt.Errorf("sqlite: clear observations: %w", err)
		}
		if err := insertObservations(ctx, tx, name, update.Observations, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit update entity: %w", err)
	}

	return s.GetEntity(ctx, name)
}

// DeleteEntity removes the entity. Observations and relations cascade via
// foreign keys; the vector index entry is the engine's responsibility since
// the row store must not fail a deletion because of the optimization layer.
func (s *Store) DeleteEntity(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("sqlite: delete entity: %w", err)
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

// SearchEntities performs case-insensitive substring matching over name,
// type, and observation text. LIKE wildcards in the query are escaped so
// user input cannot be interpreted as a pattern.
func (s *Store) SearchEntities(ctx context.Context, query string, opts storage.SearchOptions) ([]*types.Entity, error) {
	opts.Normalize()

	pattern := "%" + escapeLike(query) + "%"

	conditions := []string{`(e.name LIKE ? ESCAPE '\'
		OR e.entity_type LIKE ? ESCAPE '\'
		OR EXISTS (
			SELECT 1 FROM observations o
			WHERE o.entity_name = e.name AND o.observation LIKE ? ESCAPE '\'
		))`}
	args := []interface{}{pattern, pattern, pattern}

	if opts.EntityType != "" {
		conditions = append(conditions, "e.entity_type = ?")
		args = append(args, opts.EntityType)
	}

	sqlQuery := `
		SELECT e.name FROM entities e
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY e.created_at DESC, e.name ASC
		LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search entities: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: search scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: search rows: %w", err)
	}

	entities := make([]*types.Entity, 0, len(names))
	for _, name := range names {
		entity, err := s.GetEntity(ctx, name)
		if err != nil {
			continue // deleted between queries
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// Stats returns row counts for maintenance surfaces.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM entities", &stats.Entities},
		{"SELECT COUNT(*) FROM relations", &stats.Relations},
		{"SELECT COUNT(*) FROM observations", &stats.Observations},
		{"SELECT COUNT(*) FROM entities WHERE embedding IS NOT NULL", &stats.Embedded},
		{"SELECT COUNT(*) FROM entities WHERE needs_vector_sync = 1", &stats.NeedingSync},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("sqlite: stats: %w", err)
		}
	}

	return stats, nil
}

// getObservations returns the observation texts for an entity in creation
// order. The id tiebreak preserves insertion order for observations written
// in the same transaction with identical timestamps.
func (s *Store) getObservations(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT observation FROM observations
		WHERE entity_name = ?
		ORDER BY created_at ASC, id ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get observations: %w", err)
	}
	defer rows.Close()

	var observations []string
	for rows.Next() {
		var obs string
		if err := rows.Scan(&obs); err != nil {
			return nil, fmt.Errorf("sqlite: scan observation: %w", err)
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// insertObservations appends observation rows for an entity inside tx.
func insertObservations(ctx context.Context, tx *sql.Tx, name string, observations []string, now time.Time) error {
	for _, obs := range observations {
		if obs == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO observations (entity_name, observation, created_at)
			VALUES (?, ?, ?)`, name, obs, now,
		); err != nil {
			return fmt.Errorf("sqlite: insert observation: %w", err)
		}
	}
	return nil
}

// scanEntity reads one entity row. Callers append observations separately.
func scanEntity(row *sql.Row) (*types.Entity, error) {
	var (
		entity           types.Entity
		metadataJSON     sql.NullString
		embeddingBlob    []byte
		embeddingModel   sql.NullString
		embeddingVersion sql.NullInt64
		embeddedAt       sql.NullTime
		needsSync        sql.NullInt64
	)

	err := row.Scan(
		&entity.Name,
		&entity.EntityType,
		&metadataJSON,
		&entity.CreatedAt,
		&entity.UpdatedAt,
		&embeddingBlob,
		&embeddingModel,
		&embeddingVersion,
		&embeddedAt,
		&needsSync,
	)
	if err != nil {
		return nil, err
	}

	entity.Metadata = decodeMetadata(metadataJSON, entity.Name)

	if len(embeddingBlob) > 0 {
		embedding, derr := deserializeVector(embeddingBlob)
		if derr != nil {
			// Corrupt blob: treat as missing rather than failing the read.
			log.Printf("sqlite: discarding malformed embedding for %q: %v", entity.Name, derr)
		} else {
			entity.Embedding = embedding
		}
	}
	if embeddingModel.Valid {
		entity.EmbeddingModel = embeddingModel.String
	}
	if embeddingVersion.Valid {
		entity.EmbeddingVersion = int(embeddingVersion.Int64)
	}
	if embeddedAt.Valid {
		t := embeddedAt.Time
		entity.EmbeddedAt = &t
	}
	entity.NeedsVectorSync = needsSync.Valid && needsSync.Int64 != 0

	return &entity, nil
}

// decodeMetadata unmarshals stored metadata JSON. Malformed metadata is
// recovered locally: the error is logged and an empty map substituted, never
// propagated to the caller.
func decodeMetadata(metadataJSON sql.NullString, name string) map[string]interface{} {
	if !metadataJSON.Valid || metadataJSON.String == "" {
		return nil
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(metadataJSON.String), &metadata); err != nil {
		log.Printf("sqlite: discarding malformed metadata for %q: %v", name, err)
		return nil
	}
	return metadata
}

// marshalMetadata serializes a metadata map, returning nil bytes for empty maps.
func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not serializable: %v", storage.ErrInvalidInput, err)
	}
	return data, nil
}

// escapeLike escapes LIKE pattern characters so a user query is matched
// literally. The backslash escape must itself be escaped first.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
