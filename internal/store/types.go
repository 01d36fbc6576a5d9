// Package store provides persistent storage for indexed blocks using SQLite,
// sqlite-vec for vector similarity, and FTS5 for keyword search.
package store

import "time"

// EmbeddingProvider represents the provider used for embeddings.
type EmbeddingProvider string

const (
	ProviderOllama EmbeddingProvider = "ollama"
	ProviderOpenAI EmbeddingProvider = "openai"
)

// Category classifies a block as code or documentation.
type Category string

const (
	CategoryCode          Category = "code"
	CategoryDocumentation Category = "documentation"
)

// ChurnLevel classifies how frequently a file has changed recently.
type ChurnLevel string

const (
	ChurnNone   ChurnLevel = "none"
	ChurnLow    ChurnLevel = "low"
	ChurnMedium ChurnLevel = "medium"
	ChurnHigh   ChurnLevel = "high"
)

// Project is a grouping key over blocks, identified by (collection, name).
type Project struct {
	ID                  int64             `json:"id"`
	Collection          string            `json:"collection"`
	Name                string            `json:"name"`
	RootPath            string            `json:"root_path"`
	EmbeddingProvider   EmbeddingProvider `json:"embedding_provider"`
	EmbeddingModel      string            `json:"embedding_model"`
	EmbeddingDimensions int               `json:"embedding_dimensions"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// WatcherRecord is a persistent "keep this project live" tuple. Its
// lifecycle is independent from the project it names.
type WatcherRecord struct {
	ID          int64     `json:"id"`
	FolderPath  string    `json:"folder_path"`
	ProjectName string    `json:"project_name"`
	Collection  string    `json:"collection"`
	CreatedAt   time.Time `json:"created_at"`
}

// GitInfo holds best-effort git metadata for a file.
type GitInfo struct {
	Author      string     `json:"author,omitempty"`
	Email       string     `json:"email,omitempty"`
	CommitHash  string     `json:"commit_hash,omitempty"`
	CommitDate  time.Time  `json:"commit_date,omitempty"`
	Message     string     `json:"message,omitempty"`
	CommitCount int        `json:"commit_count,omitempty"`
	Churn       ChurnLevel `json:"churn,omitempty"`
}

// FileRecord represents one indexed file. Its fingerprint always reflects
// the content of the last successfully stored version.
type FileRecord struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Path        string    `json:"path"` // relative to the project root
	Fingerprint string    `json:"fingerprint"`
	IndexedAt   time.Time `json:"indexed_at"`
	Git         *GitInfo  `json:"git,omitempty"`
}

// FileInput is the file data supplied on upsert.
type FileInput struct {
	Path        string
	Fingerprint string
	Git         *GitInfo
}

// BlockInput is one indexable unit to be stored.
type BlockInput struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"` // function, class, method, chunk, section, file, ...
	Category   Category `json:"category"`
	FilePath   string   `json:"file_path"`
	StartLine  int      `json:"start_line"` // 1-indexed
	EndLine    int      `json:"end_line"`   // 1-indexed, >= StartLine
	Content    string   `json:"content"`
	Comments   string   `json:"comments,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	ParentName string   `json:"parent_name,omitempty"` // set only for sub-chunks
	// ParentSummary is the shared summary of the split unit this sub-chunk
	// came from, set during enrichment.
	ParentSummary string `json:"parent_summary,omitempty"`
	TokenCount    int    `json:"token_count"`
}

// BlockRecord is a stored block.
type BlockRecord struct {
	ID        int64 `json:"id"`
	FileID    int64 `json:"file_id"`
	ProjectID int64 `json:"project_id"`
	BlockInput
}

// DependencyEdge records that a file imports symbols from a module.
type DependencyEdge struct {
	SourceFile string   `json:"source_file"`
	Module     string   `json:"module"`
	Symbols    []string `json:"symbols,omitempty"`
}

// SearchFilter narrows vector/keyword searches. Zero values mean "no filter".
type SearchFilter struct {
	Collection string
	Project    string
	Category   Category
	Author     string
	Churn      ChurnLevel
	Since      time.Time
	Until      time.Time
}

// VectorHit is one vector search result.
type VectorHit struct {
	Block    BlockRecord `json:"block"`
	Distance float64     `json:"distance"`
	Score    float64     `json:"score"` // 1 - distance
}

// KeywordHit is one keyword search result, ordered best-first by bm25.
type KeywordHit struct {
	Block BlockRecord `json:"block"`
	Rank  float64     `json:"rank"` // raw bm25 rank, lower is better
}

// ProjectStats contains statistics about a project's index.
type ProjectStats struct {
	ProjectID  int64  `json:"project_id"`
	Project    string `json:"project"`
	FileCount  int    `json:"file_count"`
	BlockCount int    `json:"block_count"`
	EdgeCount  int    `json:"edge_count"`
	TokenCount int    `json:"token_count"`
}
