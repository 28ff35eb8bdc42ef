package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/engramdb/engram/internal/storage"
)

// StoreEmbedding writes the vector and its provenance to the entity row.
// This is the durability-of-record copy; the vector index holds a derived
// projection of it. Storing also clears needs_vector_sync, since callers
// write the index (or flag the row) immediately after this succeeds.
func (s *Store) StoreEmbedding(ctx context.Context, name string, embedding []float32, model string, version int) error {
	if name == "" {
		return fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if model == "" {
		return fmt.Errorf("%w: embedding model is required", storage.ErrInvalidInput)
	}
	for i, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: embedding component %d is not finite", storage.ErrInvalidInput, i)
		}
	}

	blob := serializeVector(embedding)
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET embedding = ?, embedding_model = ?, embedding_version = ?,
		    embedded_at = ?, needs_vector_sync = 0
		WHERE name = ?`,
		blob, model, version, now, name)
	if err != nil {
		return fmt.Errorf("sqlite: store embedding: %w", err)
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

// GetEmbedding returns the stored vector for an entity, or ErrNotFound when
// either the entity or its embedding is absent.
func (s *Store) GetEmbedding(ctx context.Context, name string) ([]float32, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM entities WHERE name = ?", name).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get embedding: %w", err)
	}
	if len(blob) == 0 {
		return nil, storage.ErrNotFound
	}

	embedding, err := deserializeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("sqlite: deserialize embedding: %w", err)
	}
	return embedding, nil
}

// SetNeedsVectorSync flags or clears an entity whose vector index entry is
// known to be stale or missing.
func (s *Store) SetNeedsVectorSync(ctx context.Context, name string, needsSync bool) error {
	if name == "" {
		return fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	flag := 0
	if needsSync {
		flag = 1
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE entities SET needs_vector_sync = ? WHERE name = ?", flag, name)
	if err != nil {
		return fmt.Errorf("sqlite: set needs_vector_sync: %w", err)
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

// ListEntitiesWithoutEmbedding returns names of entities lacking an
// embedding, oldest first so backfill works through the backlog in order.
func (s *Store) ListEntitiesWithoutEmbedding(ctx context.Context) ([]string, error) {
	return s.listNames(ctx, `
		SELECT name FROM entities
		WHERE embedding IS NULL
		ORDER BY created_at ASC, name ASC`)
}

// ListEntitiesNeedingSync returns names of entities that have an embedding
// and a set needs_vector_sync flag.
func (s *Store) ListEntitiesNeedingSync(ctx context.Context) ([]string, error) {
	return s.listNames(ctx, `
		SELECT name FROM entities
		WHERE needs_vector_sync = 1 AND embedding IS NOT NULL
		ORDER BY created_at ASC, name ASC`)
}

// ListEmbeddings returns every stored (name, vector) pair, optionally
// filtered by entity types. Rows with corrupt blobs are skipped rather than
// failing the whole scan.
func (s *Store) ListEmbeddings(ctx context.Context, entityTypes []string) ([]storage.EmbeddedEntity, error) {
	query := `
		SELECT name, embedding, created_at FROM entities
		WHERE embedding IS NOT NULL`
	var args []interface{}

	if len(entityTypes) > 0 {
		query += fmt.Sprintf(" AND entity_type IN (%s)", buildInClause(len(entityTypes)))
		for _, t := range entityTypes {
			args = append(args, t)
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list embeddings: %w", err)
	}
	defer rows.Close()

	var embedded []storage.EmbeddedEntity
	for rows.Next() {
		var (
			name      string
			blob      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&name, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan embedding row: %w", err)
		}
		vector, derr := deserializeVector(blob)
		if derr != nil {
			continue
		}
		embedded = append(embedded, storage.EmbeddedEntity{
			Name:      name,
			Embedding: vector,
			CreatedAt: createdAt.Unix(),
		})
	}
	return embedded, rows.Err()
}

// listNames runs a single-column name query.
func (s *Store) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// serializeVector converts a float32 slice to its on-disk representation:
// a raw little-endian 32-bit float array. The format is part of the
// persisted schema contract and must not change.
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector converts a little-endian float32 blob back to a slice.
func deserializeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}

	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}
