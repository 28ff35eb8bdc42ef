package sqlite

import (
	"database/sql"
	"fmt"
)

// Schema is the base relational schema. It intentionally omits the
// embedding columns on entities: those are applied by migrateEmbeddingColumns
// as additive ALTERs so that database files created before embedding support
// remain readable.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	name TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	metadata TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_name TEXT NOT NULL REFERENCES entities(name) ON DELETE CASCADE,
	observation TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS relations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_entity TEXT NOT NULL REFERENCES entities(name) ON DELETE CASCADE,
	to_entity TEXT NOT NULL REFERENCES entities(name) ON DELETE CASCADE,
	relation_type TEXT NOT NULL,
	metadata TEXT,
	created_at DATETIME NOT NULL,
	UNIQUE(from_entity, to_entity, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_observations_entity ON observations(entity_name);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_entity);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_entity);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
`

// embeddingColumns are the additive columns that carry embedding support.
// Each is applied only when missing, so migration is idempotent and safe to
// run against both fresh and pre-embedding database files.
var embeddingColumns = []struct {
	name string
	ddl  string
}{
	{"embedding", "ALTER TABLE entities ADD COLUMN embedding BLOB"},
	{"embedding_model", "ALTER TABLE entities ADD COLUMN embedding_model TEXT"},
	{"embedding_version", "ALTER TABLE entities ADD COLUMN embedding_version INTEGER"},
	{"embedded_at", "ALTER TABLE entities ADD COLUMN embedded_at DATETIME"},
	{"needs_vector_sync", "ALTER TABLE entities ADD COLUMN needs_vector_sync INTEGER DEFAULT 0"},
}

// migrateEmbeddingColumns appends the embedding columns to the entities table
// when they are not already present.
func migrateEmbeddingColumns(db *sql.DB) error {
	existing, err := tableColumns(db, "entities")
	if err != nil {
		return fmt.Errorf("sqlite: inspect entities schema: %w", err)
	}

	for _, col := range embeddingColumns {
		if existing[col.name] {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("sqlite: add column %s: %w", col.name, err)
		}
	}

	return nil
}

// tableColumns returns the set of column names for a table via PRAGMA table_info.
func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
