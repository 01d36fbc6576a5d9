package store

// Store defines the interface for index storage operations.
type Store interface {
	// Project management
	CreateProject(collection, name, rootPath string, provider EmbeddingProvider, model string, dimensions int) (*Project, error)
	GetProject(collection, name string) (*Project, error)
	GetProjectByID(id int64) (*Project, error)
	DeleteProject(collection, name string) error
	ListProjects() ([]Project, error)
	UpdateProjectTimestamp(id int64) error

	// Watchers (independent lifecycle from projects)
	AddWatcher(folderPath, projectName, collection string) (*WatcherRecord, error)
	RemoveWatcher(folderPath, projectName, collection string) error
	ListWatchers() ([]WatcherRecord, error)

	// File operations
	UpsertFile(projectID int64, file FileInput, blocks []BlockInput, embeddings [][]float32) error
	DeleteFile(projectID int64, path string) error
	GetFileByPath(projectID int64, path string) (*FileRecord, error)
	ListFiles(projectID int64) ([]FileRecord, error)

	// Dependency graph
	ReplaceDependencies(projectID int64, sourceFile string, edges []DependencyEdge) error
	DependenciesOf(projectID int64, sourceFile string) ([]DependencyEdge, error)
	UsagesOf(projectID int64, symbol string) ([]string, error)

	// Search
	VectorSearch(queryEmbedding []float32, filter SearchFilter, k int) ([]VectorHit, error)
	KeywordSearch(query string, filter SearchFilter, k int) ([]KeywordHit, error)

	// Stats and maintenance
	GetStats(projectID int64) (*ProjectStats, error)
	Compact() error
	Close() error
}
