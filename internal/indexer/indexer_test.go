package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncrowell/codeatlas/internal/job"
	"github.com/ncrowell/codeatlas/internal/llm"
	"github.com/ncrowell/codeatlas/internal/store"
)

// fakeStore is an in-memory Store that can simulate write failures.
type fakeStore struct {
	mu      sync.Mutex
	project *store.Project
	files   map[string]store.FileRecord
	blocks  map[string][]store.BlockInput
	edges   map[string][]store.DependencyEdge

	upserts   int
	deleted   []string
	failPaths map[string]int // path -> remaining failures
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:     make(map[string]store.FileRecord),
		blocks:    make(map[string][]store.BlockInput),
		edges:     make(map[string][]store.DependencyEdge),
		failPaths: make(map[string]int),
	}
}

func (f *fakeStore) CreateProject(collection, name, rootPath string, provider store.EmbeddingProvider, model string, dimensions int) (*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.project = &store.Project{
		ID: 1, Collection: collection, Name: name, RootPath: rootPath,
		EmbeddingProvider: provider, EmbeddingModel: model, EmbeddingDimensions: dimensions,
	}
	return f.project, nil
}

func (f *fakeStore) GetProject(collection, name string) (*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.project != nil && f.project.Collection == collection && f.project.Name == name {
		return f.project, nil
	}
	return nil, nil
}

func (f *fakeStore) GetProjectByID(id int64) (*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.project, nil
}

func (f *fakeStore) DeleteProject(collection, name string) error { return nil }

func (f *fakeStore) ListProjects() ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.project == nil {
		return nil, nil
	}
	return []store.Project{*f.project}, nil
}

func (f *fakeStore) UpdateProjectTimestamp(id int64) error { return nil }

func (f *fakeStore) AddWatcher(folderPath, projectName, collection string) (*store.WatcherRecord, error) {
	return &store.WatcherRecord{}, nil
}
func (f *fakeStore) RemoveWatcher(folderPath, projectName, collection string) error { return nil }
func (f *fakeStore) ListWatchers() ([]store.WatcherRecord, error)                   { return nil, nil }

func (f *fakeStore) UpsertFile(projectID int64, file store.FileInput, blocks []store.BlockInput, embeddings [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if remaining, ok := f.failPaths[file.Path]; ok && remaining > 0 {
		f.failPaths[file.Path] = remaining - 1
		return errors.New("simulated storage error")
	}

	f.upserts++
	f.nextID++
	f.files[file.Path] = store.FileRecord{
		ID: f.nextID, ProjectID: projectID, Path: file.Path, Fingerprint: file.Fingerprint,
	}
	f.blocks[file.Path] = blocks
	return nil
}

func (f *fakeStore) DeleteFile(projectID int64, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	delete(f.blocks, path)
	delete(f.edges, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeStore) GetFileByPath(projectID int64, path string) (*store.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.files[path]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (f *fakeStore) ListFiles(projectID int64) ([]store.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var files []store.FileRecord
	for _, rec := range f.files {
		files = append(files, rec)
	}
	return files, nil
}

func (f *fakeStore) ReplaceDependencies(projectID int64, sourceFile string, edges []store.DependencyEdge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges[sourceFile] = edges
	return nil
}

func (f *fakeStore) DependenciesOf(projectID int64, sourceFile string) ([]store.DependencyEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edges[sourceFile], nil
}

func (f *fakeStore) UsagesOf(projectID int64, symbol string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var files []string
	for src, edges := range f.edges {
		for _, e := range edges {
			if e.Module == symbol {
				files = append(files, src)
			}
		}
	}
	return files, nil
}

func (f *fakeStore) VectorSearch(queryEmbedding []float32, filter store.SearchFilter, k int) ([]store.VectorHit, error) {
	return nil, nil
}
func (f *fakeStore) KeywordSearch(query string, filter store.SearchFilter, k int) ([]store.KeywordHit, error) {
	return nil, nil
}
func (f *fakeStore) GetStats(projectID int64) (*store.ProjectStats, error) {
	return &store.ProjectStats{}, nil
}
func (f *fakeStore) Compact() error { return nil }
func (f *fakeStore) Close() error   { return nil }

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// fakeEmbedder returns deterministic vectors without any network calls.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}
func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0, 0}
	}
	return vectors, nil
}
func (fakeEmbedder) Dimensions() int                     { return 4 }
func (fakeEmbedder) Provider() store.EmbeddingProvider   { return store.ProviderOllama }
func (fakeEmbedder) ModelName() string                   { return "fake-embed" }

// fakeLLM answers every completion with a fixed summary.
type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (string, error) {
	return "fake summary", nil
}
func (fakeLLM) Provider() llm.Provider { return llm.ProviderOllama }
func (fakeLLM) ModelName() string      { return "fake-llm" }

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func testOptions(root string) Options {
	return Options{
		RootPath:   root,
		Collection: "default",
		Project:    "testproj",
		Workers:    4,
	}
}

func TestRunIndexesProject(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"main.go":   "package main\n\nfunc main() {}\n",
		"README.md": "# Test\n\nSome docs.\n",
	})

	fs := newFakeStore()
	ix := New(fs, fakeEmbedder{}, nil, job.NewTracker())

	snap, err := ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.ProcessedFiles)
	assert.Zero(t, snap.FailedFiles)
	assert.Equal(t, 2, fs.upsertCount())
	assert.NotNil(t, fs.project)
	assert.Equal(t, "fake-embed", fs.project.EmbeddingModel)
}

func TestRunIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.go": "package a\n",
		"b.go": "package b\n",
	})

	fs := newFakeStore()
	tracker := job.NewTracker()
	ix := New(fs, fakeEmbedder{}, nil, tracker)

	_, err := ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)
	require.NoError(t, tracker.Reset())

	firstUpserts := fs.upsertCount()

	snap, err := ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)

	// Unchanged tree: everything is skipped, nothing is rewritten.
	assert.Equal(t, snap.ProcessedFiles, snap.SkippedFiles)
	assert.Equal(t, firstUpserts, fs.upsertCount())
}

func TestRunForceReprocessesEverything(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.go": "package a\n"})

	fs := newFakeStore()
	tracker := job.NewTracker()
	ix := New(fs, fakeEmbedder{}, nil, tracker)

	_, err := ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)
	require.NoError(t, tracker.Reset())

	opts := testOptions(dir)
	opts.Force = true
	snap, err := ix.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Zero(t, snap.SkippedFiles)
	assert.Equal(t, 2, fs.upsertCount())
}

func TestRunDeletesVanishedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"keep.go": "package keep\n",
		"gone.go": "package gone\n",
	})

	fs := newFakeStore()
	tracker := job.NewTracker()
	ix := New(fs, fakeEmbedder{}, nil, tracker)

	_, err := ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)
	require.NoError(t, tracker.Reset())

	require.NoError(t, os.Remove(filepath.Join(dir, "gone.go")))

	_, err = ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)

	assert.Contains(t, fs.deleted, "gone.go")
	_, stillThere := fs.files["gone.go"]
	assert.False(t, stillThere)
}

func TestRunRecordsDependencyEdges(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.py": "def helper():\n    pass\n",
		"b.py": "from a import helper\n\ndef use():\n    helper()\n",
		"c.py": "def other():\n    pass\n",
	})

	fs := newFakeStore()
	tracker := job.NewTracker()
	ix := New(fs, fakeEmbedder{}, nil, tracker)

	_, err := ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)

	edges, err := fs.DependenciesOf(1, "b.py")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "a", edges[0].Module)
	assert.Equal(t, []string{"helper"}, edges[0].Symbols)

	// Deleting the imported file prunes its edges on the next pass.
	require.NoError(t, tracker.Reset())
	require.NoError(t, os.Remove(filepath.Join(dir, "a.py")))

	_, err = ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)
	assert.Contains(t, fs.deleted, "a.py")
}

func TestRunFailuresAreIsolated(t *testing.T) {
	dir := t.TempDir()
	files := make(map[string]string, 10)
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("f%d.go", i)] = fmt.Sprintf("package f%d\n", i)
	}
	writeTree(t, dir, files)

	fs := newFakeStore()
	fs.failPaths["f3.go"] = 1
	fs.failPaths["f7.go"] = 1

	tracker := job.NewTracker()
	ix := New(fs, fakeEmbedder{}, nil, tracker)

	snap, err := ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompletedWithErrors, snap.Status)
	assert.Equal(t, 2, snap.FailedFiles)
	assert.Equal(t, 10, snap.ProcessedFiles)
	assert.Contains(t, snap.LastError, "simulated storage error")
}

func TestRetryReprocessesOnlyFailed(t *testing.T) {
	dir := t.TempDir()
	files := make(map[string]string, 10)
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("f%d.go", i)] = fmt.Sprintf("package f%d\n", i)
	}
	writeTree(t, dir, files)

	fs := newFakeStore()
	fs.failPaths["f3.go"] = 1
	fs.failPaths["f7.go"] = 1

	tracker := job.NewTracker()
	ix := New(fs, fakeEmbedder{}, nil, tracker)

	snap, err := ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)
	require.Equal(t, job.StatusCompletedWithErrors, snap.Status)

	upsertsBefore := fs.upsertCount()

	snap, err = ix.RetryFailed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.TotalFiles)
	assert.Equal(t, 2, snap.ProcessedFiles)
	assert.Zero(t, snap.FailedFiles)
	// Only the two failed files were rewritten.
	assert.Equal(t, upsertsBefore+2, fs.upsertCount())
}

func TestRunWithEnrichment(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.go": "package a\n\nfunc F() {}\n"})

	fs := newFakeStore()
	ix := New(fs, fakeEmbedder{}, llm.NewEnricher(fakeLLM{}), job.NewTracker())

	opts := testOptions(dir)
	opts.Enrich = true
	_, err := ix.Run(context.Background(), opts)
	require.NoError(t, err)

	blocks := fs.blocks["a.go"]
	require.NotEmpty(t, blocks)
	for _, b := range blocks {
		assert.Equal(t, "fake summary", b.Summary)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.go": "package a\n"})

	fs := newFakeStore()
	// Project must exist for a dry run against an indexed tree.
	_, err := fs.CreateProject("default", "testproj", dir, store.ProviderOllama, "fake-embed", 4)
	require.NoError(t, err)

	ix := New(fs, fakeEmbedder{}, nil, job.NewTracker())

	opts := testOptions(dir)
	opts.DryRun = true
	snap, err := ix.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.TotalFiles)
	assert.Zero(t, fs.upsertCount())
}

// flakyEmbedder pushes back a fixed number of times before behaving.
type flakyEmbedder struct {
	fakeEmbedder
	mu        sync.Mutex
	throttles int
}

func (e *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	if e.throttles > 0 {
		e.throttles--
		e.mu.Unlock()
		return nil, errors.New("429 too many requests")
	}
	e.mu.Unlock()
	return e.fakeEmbedder.EmbedBatch(ctx, texts)
}

func TestThrottledAttemptLowersCeilingDespiteRecovery(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.go": "package a\n"})

	fs := newFakeStore()
	ix := New(fs, &flakyEmbedder{throttles: 1}, nil, job.NewTracker())
	ix.retry.Initial = time.Millisecond

	snap, err := ix.Run(context.Background(), testOptions(dir))
	require.NoError(t, err)

	// The retry recovered, so the file succeeds.
	assert.Equal(t, job.StatusCompleted, snap.Status)
	assert.Zero(t, snap.FailedFiles)

	// The pushback still halved the provider ceiling: 4 workers give a
	// ceiling of 2, one throttled attempt drops it to 1.
	assert.Equal(t, 1, ix.limiter.Limit())
}

// gatedEmbedder signals each batch call and waits for the test to let it
// finish, so dispatch order is observable.
type gatedEmbedder struct {
	fakeEmbedder
	started chan struct{}
	release chan struct{}
}

func (e *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.started <- struct{}{}
	<-e.release
	return e.fakeEmbedder.EmbedBatch(ctx, texts)
}

func TestPauseStopsDispatchResumeCompletes(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.go": "package a\n",
		"b.go": "package b\n",
		"c.go": "package c\n",
	})

	emb := &gatedEmbedder{
		started: make(chan struct{}, 3),
		release: make(chan struct{}),
	}
	fs := newFakeStore()
	tracker := job.NewTracker()
	ix := New(fs, emb, nil, tracker)

	opts := testOptions(dir)
	opts.Workers = 1

	done := make(chan *job.Snapshot, 1)
	go func() {
		snap, err := ix.Run(context.Background(), opts)
		assert.NoError(t, err)
		done <- snap
	}()

	select {
	case <-emb.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first file never reached the embedder")
	}

	require.NoError(t, tracker.Pause())
	emb.release <- struct{}{}

	// Files dispatched before the pause drain; the gate holds the rest.
	drained := 1
drain:
	for {
		select {
		case <-emb.started:
			emb.release <- struct{}{}
			drained++
		case <-time.After(300 * time.Millisecond):
			break drain
		}
	}

	assert.Equal(t, job.StatusPaused, tracker.Status())
	assert.Less(t, drained, 3, "pause must stop dispatch before the last file")
	assert.Less(t, tracker.Snapshot().ProcessedFiles, 3)

	require.NoError(t, tracker.Resume())

	for i := drained; i < 3; i++ {
		select {
		case <-emb.started:
			emb.release <- struct{}{}
		case <-time.After(5 * time.Second):
			t.Fatal("remaining files never dispatched after resume")
		}
	}

	select {
	case snap := <-done:
		assert.Equal(t, job.StatusCompleted, snap.Status)
		assert.Equal(t, 3, snap.ProcessedFiles)
	case <-time.After(5 * time.Second):
		t.Fatal("run never finished after resume")
	}

	// Each file was written exactly once across the pause.
	assert.Equal(t, 3, fs.upsertCount())
	assert.Len(t, fs.files, 3)
}

// countingLLM numbers its answers so calls are distinguishable.
type countingLLM struct {
	mu    sync.Mutex
	calls int
}

func (c *countingLLM) Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return fmt.Sprintf("summary %d", c.calls), nil
}
func (c *countingLLM) Provider() llm.Provider { return llm.ProviderOllama }
func (c *countingLLM) ModelName() string      { return "fake-llm" }

func TestEnrichmentSummarizesSplitParentOnce(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"big.go": "package big\n\nfunc Big() {\n\ta()\n\tb()\n\tc()\n\td()\n}\n",
	})

	fs := newFakeStore()
	counter := &countingLLM{}
	ix := New(fs, fakeEmbedder{}, llm.NewEnricher(counter), job.NewTracker())

	opts := testOptions(dir)
	opts.Enrich = true
	opts.SplitThreshold = 3
	_, err := ix.Run(context.Background(), opts)
	require.NoError(t, err)

	blocks := fs.blocks["big.go"]
	var subChunks []store.BlockInput
	for _, b := range blocks {
		if b.ParentName == "Big" {
			subChunks = append(subChunks, b)
		}
	}
	require.GreaterOrEqual(t, len(subChunks), 2)

	// All sub-chunks share one parent summary from a single extra call.
	parentSummary := subChunks[0].ParentSummary
	assert.NotEmpty(t, parentSummary)
	for _, b := range subChunks {
		assert.Equal(t, parentSummary, b.ParentSummary)
		assert.NotEqual(t, parentSummary, b.Summary)
	}
	assert.Equal(t, len(blocks)+1, counter.calls)

	// Unsplit blocks carry no parent summary.
	for _, b := range blocks {
		if b.ParentName == "" {
			assert.Empty(t, b.ParentSummary)
		}
	}
}

func TestRunRejectsModelMismatch(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.go": "package a\n"})

	fs := newFakeStore()
	_, err := fs.CreateProject("default", "testproj", dir, store.ProviderOllama, "other-model", 4)
	require.NoError(t, err)

	ix := New(fs, fakeEmbedder{}, nil, job.NewTracker())

	_, err = ix.Run(context.Background(), testOptions(dir))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "other-model")
}
