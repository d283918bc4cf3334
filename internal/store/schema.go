package store

// SchemaVersion is the current store schema version.
const SchemaVersion = 1

// CoreSchema contains the generic, collection-agnostic table definitions
// the engine needs: one records table holding every collection's documents
// as JSON, one edges table holding the similarity graph, one clusters
// table holding cluster membership, and one golden_records table holding
// synthesized output (spec §3, §6). Grounded directly on the teacher's
// CoreSchema constant in internal/database/schema.go, generalized from a
// single fixed "memories" table to a generic (collection, id) keyspace.
const CoreSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS records (
	collection  TEXT NOT NULL,
	id          TEXT NOT NULL,
	source      TEXT,
	fields_json TEXT NOT NULL,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(collection, source);

CREATE TABLE IF NOT EXISTS edges (
	collection        TEXT NOT NULL,
	from_id           TEXT NOT NULL,
	to_id             TEXT NOT NULL,
	weight            REAL NOT NULL,
	decision          TEXT NOT NULL,
	method            TEXT,
	field_scores_json TEXT,
	update_count      INTEGER NOT NULL DEFAULT 1,
	created_at        DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at        DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, from_id, to_id)
);

CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(collection, from_id);
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(collection, to_id);
CREATE INDEX IF NOT EXISTS idx_edges_method ON edges(collection, method);

CREATE TABLE IF NOT EXISTS clusters (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	member_id  TEXT NOT NULL,
	size       INTEGER NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, id, member_id)
);

CREATE INDEX IF NOT EXISTS idx_clusters_member ON clusters(collection, member_id);

CREATE TABLE IF NOT EXISTS golden_records (
	collection         TEXT NOT NULL,
	cluster_id         TEXT NOT NULL,
	fields_json        TEXT NOT NULL,
	provenance_json    TEXT NOT NULL,
	source_record_ids_json TEXT NOT NULL,
	quality_score      REAL NOT NULL DEFAULT 0,
	member_count       INTEGER NOT NULL,
	created_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, cluster_id)
);

CREATE TABLE IF NOT EXISTS text_analyzers (
	collection TEXT NOT NULL,
	field      TEXT NOT NULL,
	analyzer   TEXT NOT NULL,
	index_name TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, field, analyzer)
);
`
