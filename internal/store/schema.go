package store

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
)

const currentSchemaVersion = 2

// Schema definitions. Column names are lowercase snake_case throughout;
// the storage layer never assumes the engine accepts mixed case.
const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

const projectsTable = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	embedding_provider TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	embedding_dimensions INTEGER NOT NULL,
	created_at TEXT DEFAULT (datetime('now')),
	updated_at TEXT DEFAULT (datetime('now')),
	UNIQUE(collection, name)
);
`

const watchersTable = `
CREATE TABLE IF NOT EXISTS watchers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	folder_path TEXT NOT NULL,
	project_name TEXT NOT NULL,
	collection TEXT NOT NULL,
	created_at TEXT DEFAULT (datetime('now')),
	UNIQUE(folder_path, project_name, collection)
);
`

const filesTable = `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	indexed_at TEXT DEFAULT (datetime('now')),
	git_author TEXT,
	git_email TEXT,
	git_commit TEXT,
	git_commit_date TEXT,
	git_message TEXT,
	git_commit_count INTEGER DEFAULT 0,
	churn TEXT DEFAULT 'none',
	UNIQUE(project_id, path)
);

CREATE INDEX IF NOT EXISTS idx_files_project_id ON files(project_id);
CREATE INDEX IF NOT EXISTS idx_files_fingerprint ON files(project_id, fingerprint);
`

const blocksTable = `
CREATE TABLE IF NOT EXISTS blocks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'code',
	file_path TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	content TEXT NOT NULL,
	comments TEXT DEFAULT '',
	summary TEXT DEFAULT '',
	parent_name TEXT DEFAULT '',
	token_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_blocks_file_id ON blocks(file_id);
CREATE INDEX IF NOT EXISTS idx_blocks_project_id ON blocks(project_id);
`

const dependencyEdgesTable = `
CREATE TABLE IF NOT EXISTS dependency_edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	source_file TEXT NOT NULL,
	module TEXT NOT NULL,
	symbols TEXT DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON dependency_edges(project_id, source_file);
`

// blocksFTSTable is an FTS5 table whose rowid mirrors blocks.id, maintained
// alongside block writes so keyword search stays consistent with the rest
// of the index.
const blocksFTSTable = `
CREATE VIRTUAL TABLE IF NOT EXISTS blocks_fts USING fts5(
	name, content, summary
);
`

// createVectorTable creates the sqlite-vec virtual table for the given dimensions.
func createVectorTable(db *sql.DB, dimensions int) error {
	query := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS block_vectors USING vec0(
			block_id INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, dimensions)

	_, err := db.Exec(query)
	return err
}

// initSchema initializes the database schema.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		version = 0
	} else if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		log.Debug("Schema is up to date", "version", version)
		return nil
	}

	log.Debug("Migrating schema", "from", version, "to", currentSchemaVersion)

	if version < 1 {
		if err := migrateV1(db); err != nil {
			return fmt.Errorf("failed to migrate to v1: %w", err)
		}
	}
	if version < 2 {
		if err := migrateV2(db); err != nil {
			return fmt.Errorf("failed to migrate to v2: %w", err)
		}
	}

	return nil
}

// migrateV1 creates the initial schema.
func migrateV1(db *sql.DB) error {
	log.Debug("Applying migration v1")

	tables := []string{projectsTable, watchersTable, filesTable, blocksTable, dependencyEdgesTable, blocksFTSTable}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	// The vector table is created when the first project is registered,
	// since its dimensions depend on the embedding model.

	if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}

// migrateV2 adds the shared parent summary that enrichment attaches to
// the sub-chunks of a split block.
func migrateV2(db *sql.DB) error {
	log.Debug("Applying migration v2")

	if _, err := db.Exec("ALTER TABLE blocks ADD COLUMN parent_summary TEXT DEFAULT ''"); err != nil {
		return fmt.Errorf("failed to add parent_summary column: %w", err)
	}

	if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 2); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}

// ensureVectorTable ensures the vector table exists with the correct dimensions.
func ensureVectorTable(db *sql.DB, dimensions int) error {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='block_vectors'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		log.Debug("Creating vector table", "dimensions", dimensions)
		return createVectorTable(db, dimensions)
	} else if err != nil {
		return fmt.Errorf("failed to check vector table: %w", err)
	}

	return nil
}
