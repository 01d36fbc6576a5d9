package job

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginFromIdle(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("default", "proj", 10))

	snap := tr.Snapshot()
	assert.Equal(t, StatusActive, snap.Status)
	assert.Equal(t, "proj", snap.Project)
	assert.Equal(t, 10, snap.TotalFiles)
	assert.Zero(t, snap.ProcessedFiles)
}

func TestBeginRejectsSecondJob(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("default", "a", 1))

	err := tr.Begin("default", "b", 1)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already")
}

func TestOutcomeCounters(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("default", "proj", 4))

	tr.FileStarted("a.go")
	tr.FileCompleted("a.go")
	tr.FileSkipped("b.go")
	tr.FileStarted("c.go")
	tr.FileFailed("c.go", errors.New("boom"))
	tr.FileCompleted("d.go")

	snap := tr.Snapshot()
	assert.Equal(t, 4, snap.ProcessedFiles)
	assert.Equal(t, 1, snap.SkippedFiles)
	assert.Equal(t, 1, snap.FailedFiles)
	assert.Equal(t, "boom", snap.LastError)
	assert.Empty(t, snap.InProgress)
	assert.Len(t, snap.Recent, 4)
}

func TestRecentListBounded(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("default", "proj", 100))

	for i := 0; i < 50; i++ {
		tr.FileCompleted(fmt.Sprintf("file%d.go", i))
	}

	snap := tr.Snapshot()
	assert.Len(t, snap.Recent, maxRecent)
	assert.Equal(t, "file49.go", snap.Recent[len(snap.Recent)-1].Path)
	assert.Equal(t, 50, snap.ProcessedFiles)
}

func TestFinishDistinguishesOutcomes(t *testing.T) {
	t.Run("clean completion", func(t *testing.T) {
		tr := NewTracker()
		require.NoError(t, tr.Begin("default", "proj", 1))
		tr.FileCompleted("a.go")
		require.NoError(t, tr.Finish())
		assert.Equal(t, StatusCompleted, tr.Status())
	})

	t.Run("completion with errors", func(t *testing.T) {
		tr := NewTracker()
		require.NoError(t, tr.Begin("default", "proj", 2))
		tr.FileCompleted("a.go")
		tr.FileFailed("b.go", errors.New("write failed"))
		require.NoError(t, tr.Finish())
		assert.Equal(t, StatusCompletedWithErrors, tr.Status())
	})
}

func TestPauseResumeTransitions(t *testing.T) {
	tr := NewTracker()

	// Pause requires an active job.
	assert.Error(t, tr.Pause())

	require.NoError(t, tr.Begin("default", "proj", 1))
	require.NoError(t, tr.Pause())
	assert.Equal(t, StatusPaused, tr.Status())

	// Double pause rejected.
	assert.Error(t, tr.Pause())

	require.NoError(t, tr.Resume())
	assert.Equal(t, StatusActive, tr.Status())

	// Resume requires a paused job.
	assert.Error(t, tr.Resume())
}

func TestWaitIfPausedBlocksUntilResume(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("default", "proj", 1))
	require.NoError(t, tr.Pause())

	released := make(chan struct{})
	go func() {
		if err := tr.WaitIfPaused(context.Background()); err == nil {
			close(released)
		}
	}()

	select {
	case <-released:
		t.Fatal("dispatch should block while paused")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tr.Resume())

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("dispatch should continue after resume")
	}
}

func TestWaitIfPausedHonorsContext(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("default", "proj", 1))
	require.NoError(t, tr.Pause())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tr.WaitIfPaused(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryScopedToFailedFiles(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("default", "proj", 3))
	tr.FileCompleted("ok.go")
	tr.FileFailed("bad1.go", errors.New("e1"))
	tr.FileFailed("bad2.go", errors.New("e2"))
	require.NoError(t, tr.Finish())

	paths, err := tr.Retry()
	require.NoError(t, err)
	assert.Equal(t, []string{"bad1.go", "bad2.go"}, paths)

	snap := tr.Snapshot()
	assert.Equal(t, StatusActive, snap.Status)
	assert.Equal(t, 2, snap.TotalFiles)
	assert.Zero(t, snap.ProcessedFiles)
	assert.Zero(t, snap.FailedFiles)
}

func TestRetryRequiresErrors(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("default", "proj", 1))
	tr.FileCompleted("a.go")
	require.NoError(t, tr.Finish())

	_, err := tr.Retry()
	assert.Error(t, err)
}

func TestResetTransitions(t *testing.T) {
	tr := NewTracker()

	// Reset on idle is a no-op.
	assert.NoError(t, tr.Reset())

	require.NoError(t, tr.Begin("default", "proj", 1))

	// Active jobs cannot be reset away.
	assert.Error(t, tr.Reset())

	tr.FileCompleted("a.go")
	require.NoError(t, tr.Finish())

	// Terminal state persists until explicitly reset.
	assert.Equal(t, StatusCompleted, tr.Status())
	require.NoError(t, tr.Reset())
	assert.Equal(t, StatusIdle, tr.Status())

	// A new run can begin after reset.
	assert.NoError(t, tr.Begin("default", "proj", 1))
}

func TestProcessedMonotonicUnderConcurrency(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Begin("default", "proj", 100))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			go tr.FileCompleted(fmt.Sprintf("f%d.go", i))
		}
	}()
	<-done

	// Wait for the recorded count to settle.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tr.Snapshot().ProcessedFiles == 100 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 100, tr.Snapshot().ProcessedFiles)
}
