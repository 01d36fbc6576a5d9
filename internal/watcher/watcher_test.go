package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncrowell/codeatlas/internal/indexer"
	"github.com/ncrowell/codeatlas/internal/job"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (f *fakeRunner) Run(_ context.Context, _ indexer.Options) (*job.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.runs++
	return &job.Snapshot{Status: job.StatusCompleted, ProcessedFiles: 1}, nil
}

func (f *fakeRunner) Tracker() *job.Tracker { return nil }

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func startWatcher(t *testing.T, root string, runner Runner) context.CancelFunc {
	t.Helper()

	w, err := New(runner, indexer.Options{RootPath: root, Collection: "c", Project: "p"},
		WithDebounceTime(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Start(ctx) }()

	// Give the watcher time to register its directories.
	time.Sleep(200 * time.Millisecond)
	return cancel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcherTriggersRunOnWrite(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	cancel := startWatcher(t, root, runner)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0644))

	assert.True(t, waitFor(t, 5*time.Second, func() bool { return runner.runCount() >= 1 }),
		"a write should trigger an index run")
}

func TestWatcherCoalescesBurst(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	cancel := startWatcher(t, root, runner)
	defer cancel()

	for i := 0; i < 5; i++ {
		name := filepath.Join(root, "file"+string(rune('a'+i))+".go")
		require.NoError(t, os.WriteFile(name, []byte("package main\n"), 0644))
	}

	require.True(t, waitFor(t, 5*time.Second, func() bool { return runner.runCount() >= 1 }))

	// A burst written within one debounce window should not produce one
	// run per file.
	time.Sleep(300 * time.Millisecond)
	assert.Less(t, runner.runCount(), 5)
}

func TestWatcherIgnoresUnknownFiles(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	cancel := startWatcher(t, root, runner)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(root, "data.bin"), []byte{0, 1, 2}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.go"), []byte("package x\n"), 0644))

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 0, runner.runCount())
}

func TestShouldSkipDir(t *testing.T) {
	assert.True(t, shouldSkipDir("node_modules"))
	assert.True(t, shouldSkipDir(".git"))
	assert.True(t, shouldSkipDir("__pycache__"))
	assert.False(t, shouldSkipDir("src"))
	assert.False(t, shouldSkipDir("internal"))
}

func TestRequeueKeepsPendingEvents(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{err: assert.AnError}

	w, err := New(runner, indexer.Options{RootPath: root},
		WithDebounceTime(time.Hour))
	require.NoError(t, err)

	w.debounce["a.go"] = 0
	w.flushDebounced(context.Background())

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	assert.Contains(t, w.debounce, "a.go", "failed runs keep events for the next tick")
}
