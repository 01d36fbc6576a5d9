package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteStore implements the Store interface using SQLite, sqlite-vec and FTS5.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("Opened SQLite store", "path", dbPath)

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateProject creates a new project record.
func (s *SQLiteStore) CreateProject(collection, name, rootPath string, provider EmbeddingProvider, model string, dimensions int) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ensureVectorTable(s.db, dimensions); err != nil {
		return nil, fmt.Errorf("failed to ensure vector table: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(`
		INSERT INTO projects (collection, name, root_path, embedding_provider, embedding_model, embedding_dimensions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, collection, name, rootPath, string(provider), model, dimensions, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get project ID: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339, now)
	return &Project{
		ID:                  id,
		Collection:          collection,
		Name:                name,
		RootPath:            rootPath,
		EmbeddingProvider:   provider,
		EmbeddingModel:      model,
		EmbeddingDimensions: dimensions,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}, nil
}

const projectColumns = `id, collection, name, root_path, embedding_provider, embedding_model, embedding_dimensions, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var createdAt, updatedAt, provider string

	err := row.Scan(
		&p.ID, &p.Collection, &p.Name, &p.RootPath,
		&provider, &p.EmbeddingModel, &p.EmbeddingDimensions,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.EmbeddingProvider = EmbeddingProvider(provider)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// GetProject retrieves a project by (collection, name).
func (s *SQLiteStore) GetProject(collection, name string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE collection = ? AND name = ?`, collection, name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetProjectByID retrieves a project by ID.
func (s *SQLiteStore) GetProjectByID(id int64) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// DeleteProject deletes a project and all its files, blocks, vectors and edges.
// Watchers are not touched: their lifecycle is an explicit user action.
func (s *SQLiteStore) DeleteProject(collection, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var projectID int64
	err := s.db.QueryRow("SELECT id FROM projects WHERE collection = ? AND name = ?", collection, name).Scan(&projectID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get project ID: %w", err)
	}

	if _, err = s.db.Exec(`
		DELETE FROM block_vectors WHERE block_id IN (
			SELECT id FROM blocks WHERE project_id = ?
		)
	`, projectID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	if _, err = s.db.Exec(`
		DELETE FROM blocks_fts WHERE rowid IN (
			SELECT id FROM blocks WHERE project_id = ?
		)
	`, projectID); err != nil {
		return fmt.Errorf("failed to delete keyword rows: %w", err)
	}

	// Cascades to files, blocks and dependency_edges.
	if _, err = s.db.Exec("DELETE FROM projects WHERE id = ?", projectID); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	return nil
}

// ListProjects returns all projects ordered by collection and name.
func (s *SQLiteStore) ListProjects() ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY collection, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}

	return projects, rows.Err()
}

// UpdateProjectTimestamp updates the project's updated_at timestamp.
func (s *SQLiteStore) UpdateProjectTimestamp(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec("UPDATE projects SET updated_at = ? WHERE id = ?", now, id)
	return err
}

// AddWatcher registers a persistent watcher tuple.
func (s *SQLiteStore) AddWatcher(folderPath, projectName, collection string) (*WatcherRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO watchers (folder_path, project_name, collection, created_at)
		VALUES (?, ?, ?, ?)
	`, folderPath, projectName, collection, now)
	if err != nil {
		return nil, fmt.Errorf("failed to add watcher: %w", err)
	}

	id, _ := result.LastInsertId()
	createdAt, _ := time.Parse(time.RFC3339, now)
	return &WatcherRecord{
		ID:          id,
		FolderPath:  folderPath,
		ProjectName: projectName,
		Collection:  collection,
		CreatedAt:   createdAt,
	}, nil
}

// RemoveWatcher removes a watcher tuple.
func (s *SQLiteStore) RemoveWatcher(folderPath, projectName, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM watchers WHERE folder_path = ? AND project_name = ? AND collection = ?
	`, folderPath, projectName, collection)
	if err != nil {
		return fmt.Errorf("failed to remove watcher: %w", err)
	}
	return nil
}

// ListWatchers returns all registered watchers.
func (s *SQLiteStore) ListWatchers() ([]WatcherRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, folder_path, project_name, collection, created_at
		FROM watchers ORDER BY collection, project_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchers: %w", err)
	}
	defer rows.Close()

	var watchers []WatcherRecord
	for rows.Next() {
		var w WatcherRecord
		var createdAt string
		if err := rows.Scan(&w.ID, &w.FolderPath, &w.ProjectName, &w.Collection, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan watcher: %w", err)
		}
		w.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		watchers = append(watchers, w)
	}

	return watchers, rows.Err()
}

// UpsertFile replaces a file's blocks, vectors and keyword rows in one
// transaction. The file's fingerprint is written in the same transaction,
// so a failed write never advances it.
func (s *SQLiteStore) UpsertFile(projectID int64, file FileInput, blocks []BlockInput, embeddings [][]float32) error {
	if len(blocks) != len(embeddings) {
		return fmt.Errorf("blocks and embeddings count mismatch: %d != %d", len(blocks), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingFileID int64
	err = tx.QueryRow("SELECT id FROM files WHERE project_id = ? AND path = ?", projectID, file.Path).Scan(&existingFileID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing file: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	git := file.Git
	if git == nil {
		git = &GitInfo{Churn: ChurnNone}
	}
	var commitDate string
	if !git.CommitDate.IsZero() {
		commitDate = git.CommitDate.UTC().Format(time.RFC3339)
	}
	churn := git.Churn
	if churn == "" {
		churn = ChurnNone
	}

	if existingFileID > 0 {
		// Old blocks are superseded: remove vectors and keyword rows first.
		if _, err = tx.Exec("DELETE FROM block_vectors WHERE block_id IN (SELECT id FROM blocks WHERE file_id = ?)", existingFileID); err != nil {
			return fmt.Errorf("failed to delete old vectors: %w", err)
		}
		if _, err = tx.Exec("DELETE FROM blocks_fts WHERE rowid IN (SELECT id FROM blocks WHERE file_id = ?)", existingFileID); err != nil {
			return fmt.Errorf("failed to delete old keyword rows: %w", err)
		}
		if _, err = tx.Exec("DELETE FROM blocks WHERE file_id = ?", existingFileID); err != nil {
			return fmt.Errorf("failed to delete old blocks: %w", err)
		}

		if _, err = tx.Exec(`
			UPDATE files SET fingerprint = ?, indexed_at = ?,
				git_author = ?, git_email = ?, git_commit = ?, git_commit_date = ?,
				git_message = ?, git_commit_count = ?, churn = ?
			WHERE id = ?
		`, file.Fingerprint, now, git.Author, git.Email, git.CommitHash, commitDate,
			git.Message, git.CommitCount, string(churn), existingFileID); err != nil {
			return fmt.Errorf("failed to update file: %w", err)
		}
	} else {
		result, err := tx.Exec(`
			INSERT INTO files (project_id, path, fingerprint, indexed_at,
				git_author, git_email, git_commit, git_commit_date, git_message, git_commit_count, churn)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, projectID, file.Path, file.Fingerprint, now,
			git.Author, git.Email, git.CommitHash, commitDate, git.Message, git.CommitCount, string(churn))
		if err != nil {
			return fmt.Errorf("failed to insert file: %w", err)
		}
		existingFileID, _ = result.LastInsertId()
	}

	for i, block := range blocks {
		result, err := tx.Exec(`
			INSERT INTO blocks (file_id, project_id, name, kind, category, file_path,
				start_line, end_line, content, comments, summary, parent_name, parent_summary, token_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, existingFileID, projectID, block.Name, block.Kind, string(block.Category), block.FilePath,
			block.StartLine, block.EndLine, block.Content, block.Comments, block.Summary,
			block.ParentName, block.ParentSummary, block.TokenCount)
		if err != nil {
			return fmt.Errorf("failed to insert block %d: %w", i, err)
		}

		blockID, _ := result.LastInsertId()

		if _, err = tx.Exec(`
			INSERT INTO blocks_fts (rowid, name, content, summary)
			VALUES (?, ?, ?, ?)
		`, blockID, block.Name, block.Content, block.Summary); err != nil {
			return fmt.Errorf("failed to insert keyword row for block %d: %w", i, err)
		}

		embeddingBlob := serializeEmbedding(embeddings[i])
		if _, err = tx.Exec(`
			INSERT INTO block_vectors (block_id, embedding)
			VALUES (?, ?)
		`, blockID, embeddingBlob); err != nil {
			return fmt.Errorf("failed to insert vector for block %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// DeleteFile deletes a file, its blocks, vectors, keyword rows and
// dependency edges.
func (s *SQLiteStore) DeleteFile(projectID int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fileID int64
	err := s.db.QueryRow("SELECT id FROM files WHERE project_id = ? AND path = ?", projectID, path).Scan(&fileID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get file ID: %w", err)
	}

	if _, err = s.db.Exec("DELETE FROM block_vectors WHERE block_id IN (SELECT id FROM blocks WHERE file_id = ?)", fileID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if _, err = s.db.Exec("DELETE FROM blocks_fts WHERE rowid IN (SELECT id FROM blocks WHERE file_id = ?)", fileID); err != nil {
		return fmt.Errorf("failed to delete keyword rows: %w", err)
	}
	if _, err = s.db.Exec("DELETE FROM dependency_edges WHERE project_id = ? AND source_file = ?", projectID, path); err != nil {
		return fmt.Errorf("failed to delete dependency edges: %w", err)
	}

	// Cascades to blocks.
	if _, err = s.db.Exec("DELETE FROM files WHERE id = ?", fileID); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

const fileColumns = `id, project_id, path, fingerprint, indexed_at,
	git_author, git_email, git_commit, git_commit_date, git_message, git_commit_count, churn`

func scanFile(row interface{ Scan(...any) error }) (*FileRecord, error) {
	var f FileRecord
	var indexedAt string
	var author, email, commit, commitDate, message sql.NullString
	var commitCount sql.NullInt64
	var churn sql.NullString

	err := row.Scan(
		&f.ID, &f.ProjectID, &f.Path, &f.Fingerprint, &indexedAt,
		&author, &email, &commit, &commitDate, &message, &commitCount, &churn,
	)
	if err != nil {
		return nil, err
	}

	f.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
	if author.String != "" || commit.String != "" {
		git := &GitInfo{
			Author:      author.String,
			Email:       email.String,
			CommitHash:  commit.String,
			Message:     message.String,
			CommitCount: int(commitCount.Int64),
			Churn:       ChurnLevel(churn.String),
		}
		git.CommitDate, _ = time.Parse(time.RFC3339, commitDate.String)
		f.Git = git
	}
	return &f, nil
}

// GetFileByPath retrieves a file by its project-relative path.
func (s *SQLiteStore) GetFileByPath(projectID int64, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE project_id = ? AND path = ?`, projectID, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// ListFiles returns all files for a project ordered by path.
func (s *SQLiteStore) ListFiles(projectID int64) ([]FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+fileColumns+` FROM files WHERE project_id = ? ORDER BY path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, *f)
	}

	return files, rows.Err()
}

// ReplaceDependencies recomputes the dependency edges for a source file.
func (s *SQLiteStore) ReplaceDependencies(projectID int64, sourceFile string, edges []DependencyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.Exec("DELETE FROM dependency_edges WHERE project_id = ? AND source_file = ?", projectID, sourceFile); err != nil {
		return fmt.Errorf("failed to clear dependency edges: %w", err)
	}

	for _, edge := range edges {
		symbols, err := json.Marshal(edge.Symbols)
		if err != nil {
			return fmt.Errorf("failed to encode symbols: %w", err)
		}
		if _, err = tx.Exec(`
			INSERT INTO dependency_edges (project_id, source_file, module, symbols)
			VALUES (?, ?, ?, ?)
		`, projectID, sourceFile, edge.Module, string(symbols)); err != nil {
			return fmt.Errorf("failed to insert dependency edge: %w", err)
		}
	}

	return tx.Commit()
}

// DependenciesOf returns the dependency edges for a source file.
func (s *SQLiteStore) DependenciesOf(projectID int64, sourceFile string) ([]DependencyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT source_file, module, symbols FROM dependency_edges
		WHERE project_id = ? AND source_file = ?
		ORDER BY module
	`, projectID, sourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	return scanEdges(rows)
}

// UsagesOf returns the source files that import the given symbol.
func (s *SQLiteStore) UsagesOf(projectID int64, symbol string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT DISTINCT source_file FROM dependency_edges
		WHERE project_id = ? AND (module = ? OR symbols LIKE ?)
		ORDER BY source_file
	`, projectID, symbol, `%"`+symbol+`"%`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usages: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

func scanEdges(rows *sql.Rows) ([]DependencyEdge, error) {
	var edges []DependencyEdge
	for rows.Next() {
		var edge DependencyEdge
		var symbols string
		if err := rows.Scan(&edge.SourceFile, &edge.Module, &symbols); err != nil {
			return nil, fmt.Errorf("failed to scan dependency edge: %w", err)
		}
		if symbols != "" {
			_ = json.Unmarshal([]byte(symbols), &edge.Symbols)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

const blockColumns = `b.id, b.file_id, b.project_id, b.name, b.kind, b.category, b.file_path,
	b.start_line, b.end_line, b.content, b.comments, b.summary, b.parent_name, b.parent_summary, b.token_count`

func scanBlock(row interface{ Scan(...any) error }, b *BlockRecord, extra ...any) error {
	var category string
	dest := []any{
		&b.ID, &b.FileID, &b.ProjectID, &b.Name, &b.Kind, &category, &b.FilePath,
		&b.StartLine, &b.EndLine, &b.Content, &b.Comments, &b.Summary, &b.ParentName, &b.ParentSummary, &b.TokenCount,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	b.Category = Category(category)
	return nil
}

// filterClauses builds WHERE fragments for a search filter. The queries
// join blocks b, files f and projects p.
func filterClauses(filter SearchFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.Collection != "" {
		conds = append(conds, "p.collection = ?")
		args = append(args, filter.Collection)
	}
	if filter.Project != "" {
		conds = append(conds, "p.name = ?")
		args = append(args, filter.Project)
	}
	if filter.Category != "" {
		conds = append(conds, "b.category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Author != "" {
		conds = append(conds, "f.git_author = ?")
		args = append(args, filter.Author)
	}
	if filter.Churn != "" {
		conds = append(conds, "f.churn = ?")
		args = append(args, string(filter.Churn))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "f.git_commit_date >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "f.git_commit_date <= ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

// VectorSearch performs a vector similarity search with metadata filters.
func (s *SQLiteStore) VectorSearch(queryEmbedding []float32, filter SearchFilter, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryBlob := serializeEmbedding(queryEmbedding)

	// sqlite-vec applies filters after k rows leave the vector index, so
	// over-request from the index and let LIMIT enforce the final count.
	kForVec := k * 10
	if kForVec > 1000 {
		kForVec = 1000
	}

	where, args := filterClauses(filter)
	query := `
		SELECT ` + blockColumns + `, bv.distance
		FROM block_vectors bv
		JOIN blocks b ON b.id = bv.block_id
		JOIN files f ON f.id = b.file_id
		JOIN projects p ON p.id = b.project_id
		WHERE bv.embedding MATCH ?
			AND k = ?` + where + `
		ORDER BY bv.distance ASC
		LIMIT ?
	`
	queryArgs := append([]any{queryBlob, kForVec}, args...)
	queryArgs = append(queryArgs, k)

	rows, err := s.db.Query(query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var hit VectorHit
		if err := scanBlock(rows, &hit.Block, &hit.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		hit.Score = 1 - hit.Distance
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}

// KeywordSearch performs an FTS5 full-text search with metadata filters.
// Results are ordered best-first by bm25 rank.
func (s *SQLiteStore) KeywordSearch(query string, filter SearchFilter, k int) ([]KeywordHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	where, args := filterClauses(filter)
	sqlQuery := `
		SELECT ` + blockColumns + `, bm25(blocks_fts)
		FROM blocks_fts
		JOIN blocks b ON b.id = blocks_fts.rowid
		JOIN files f ON f.id = b.file_id
		JOIN projects p ON p.id = b.project_id
		WHERE blocks_fts MATCH ?` + where + `
		ORDER BY bm25(blocks_fts) ASC, b.file_path ASC, b.start_line ASC
		LIMIT ?
	`
	queryArgs := append([]any{match}, args...)
	queryArgs = append(queryArgs, k)

	rows, err := s.db.Query(sqlQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var hit KeywordHit
		if err := scanBlock(rows, &hit.Block, &hit.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan keyword hit: %w", err)
		}
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}

// ftsQuery converts free text into a safe FTS5 match expression by quoting
// each term, so user punctuation cannot break the query syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.ReplaceAll(field, `"`, "")
		if field == "" {
			continue
		}
		terms = append(terms, `"`+field+`"`)
	}
	return strings.Join(terms, " ")
}

// GetStats returns statistics for a project.
func (s *SQLiteStore) GetStats(projectID int64) (*ProjectStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats ProjectStats
	stats.ProjectID = projectID

	err := s.db.QueryRow("SELECT name FROM projects WHERE id = ?", projectID).Scan(&stats.Project)
	if err != nil {
		return nil, fmt.Errorf("failed to get project name: %w", err)
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM files WHERE project_id = ?", projectID).Scan(&stats.FileCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get file count: %w", err)
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(token_count), 0) FROM blocks WHERE project_id = ?
	`, projectID).Scan(&stats.BlockCount, &stats.TokenCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get block stats: %w", err)
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM dependency_edges WHERE project_id = ?", projectID).Scan(&stats.EdgeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get edge count: %w", err)
	}

	return &stats, nil
}

// Compact reclaims space from deleted rows.
func (s *SQLiteStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to compact database: %w", err)
	}
	return nil
}

// serializeEmbedding converts a float32 slice to bytes for sqlite-vec.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
