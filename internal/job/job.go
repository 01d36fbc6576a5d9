// Package job tracks the lifecycle of the single process-wide indexing job.
// Workers report outcomes through the tracker; all state mutation happens
// under one lock so counters stay coherent regardless of completion order.
package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusIdle                Status = "idle"
	StatusActive              Status = "active"
	StatusPaused              Status = "paused"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
)

// Outcome classifies how one file finished.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// maxRecent bounds the recently-finished list in snapshots.
const maxRecent = 20

// FileOutcome records how one file finished.
type FileOutcome struct {
	Path       string    `json:"path"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Snapshot is a point-in-time copy of the job state.
type Snapshot struct {
	Status         Status        `json:"status"`
	Project        string        `json:"project,omitempty"`
	Collection     string        `json:"collection,omitempty"`
	TotalFiles     int           `json:"total_files"`
	ProcessedFiles int           `json:"processed_files"`
	SkippedFiles   int           `json:"skipped_files"`
	FailedFiles    int           `json:"failed_files"`
	InProgress     []string      `json:"in_progress,omitempty"`
	Recent         []FileOutcome `json:"recent,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	FinishedAt     time.Time     `json:"finished_at,omitempty"`
}

// Tracker is the single-writer owner of job state.
type Tracker struct {
	mu   sync.Mutex
	cond *sync.Cond

	status     Status
	project    string
	collection string

	totalFiles     int
	processedFiles int
	skippedFiles   int
	failedFiles    int

	inProgress  map[string]struct{}
	recent      []FileOutcome
	failedPaths map[string]string // path -> error message, fuels Retry
	lastError   string

	startedAt  time.Time
	finishedAt time.Time
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	t := &Tracker{
		status:      StatusIdle,
		inProgress:  make(map[string]struct{}),
		failedPaths: make(map[string]string),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Begin starts a new run. Only one job may be active at a time; starting
// over a finished run requires an explicit Reset first.
func (t *Tracker) Begin(collection, project string, totalFiles int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusIdle {
		return fmt.Errorf("an indexing job is already %s", t.status)
	}

	t.status = StatusActive
	t.collection = collection
	t.project = project
	t.totalFiles = totalFiles
	t.processedFiles = 0
	t.skippedFiles = 0
	t.failedFiles = 0
	t.inProgress = make(map[string]struct{})
	t.recent = nil
	t.failedPaths = make(map[string]string)
	t.lastError = ""
	t.startedAt = time.Now()
	t.finishedAt = time.Time{}

	return nil
}

// FileStarted marks a file as in progress.
func (t *Tracker) FileStarted(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inProgress[path] = struct{}{}
}

// FileCompleted records a successful file.
func (t *Tracker) FileCompleted(path string) {
	t.record(path, OutcomeCompleted, "")
}

// FileSkipped records an up-to-date file. Skips count toward progress so
// the processed counter reaches totalFiles.
func (t *Tracker) FileSkipped(path string) {
	t.record(path, OutcomeSkipped, "")
}

// FileFailed records a failed file with its triggering error.
func (t *Tracker) FileFailed(path string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.record(path, OutcomeFailed, msg)
}

func (t *Tracker) record(path string, outcome Outcome, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.inProgress, path)
	t.processedFiles++

	switch outcome {
	case OutcomeSkipped:
		t.skippedFiles++
	case OutcomeFailed:
		t.failedFiles++
		t.failedPaths[path] = errMsg
		t.lastError = errMsg
	}

	t.recent = append(t.recent, FileOutcome{
		Path:       path,
		Outcome:    outcome,
		Error:      errMsg,
		FinishedAt: time.Now(),
	})
	if len(t.recent) > maxRecent {
		t.recent = t.recent[len(t.recent)-maxRecent:]
	}
}

// Pause stops new files from being dequeued. In-flight files finish.
func (t *Tracker) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusActive {
		return fmt.Errorf("cannot pause a %s job", t.status)
	}
	t.status = StatusPaused
	return nil
}

// Resume continues a paused job.
func (t *Tracker) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusPaused {
		return fmt.Errorf("cannot resume a %s job", t.status)
	}
	t.status = StatusActive
	t.cond.Broadcast()
	return nil
}

// WaitIfPaused blocks the dispatch loop while the job is paused. Returns
// when the job resumes or the context ends.
func (t *Tracker) WaitIfPaused(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()

	for t.status == StatusPaused {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.cond.Wait()
	}

	return ctx.Err()
}

// Finish moves an active or paused job to its terminal state.
func (t *Tracker) Finish() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusActive && t.status != StatusPaused {
		return fmt.Errorf("cannot finish a %s job", t.status)
	}

	if t.failedFiles > 0 {
		t.status = StatusCompletedWithErrors
	} else {
		t.status = StatusCompleted
	}
	t.finishedAt = time.Now()
	t.cond.Broadcast()
	return nil
}

// Retry reactivates a job that completed with errors, scoped to the files
// that failed. It returns those paths for re-enqueueing; counters restart
// against the retry set.
func (t *Tracker) Retry() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusCompletedWithErrors {
		return nil, fmt.Errorf("retry requires a job that completed with errors, not %s", t.status)
	}

	paths := make([]string, 0, len(t.failedPaths))
	for path := range t.failedPaths {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	t.status = StatusActive
	t.totalFiles = len(paths)
	t.processedFiles = 0
	t.skippedFiles = 0
	t.failedFiles = 0
	t.failedPaths = make(map[string]string)
	t.recent = nil
	t.startedAt = time.Now()
	t.finishedAt = time.Time{}

	return paths, nil
}

// Reset returns a finished job to idle so a new run can begin.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.status {
	case StatusIdle:
		return nil
	case StatusCompleted, StatusCompletedWithErrors:
		t.status = StatusIdle
		t.project = ""
		t.collection = ""
		return nil
	default:
		return fmt.Errorf("cannot reset a %s job", t.status)
	}
}

// Status returns the current lifecycle state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot returns a copy of the current job state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	inProgress := make([]string, 0, len(t.inProgress))
	for path := range t.inProgress {
		inProgress = append(inProgress, path)
	}
	sort.Strings(inProgress)

	recent := make([]FileOutcome, len(t.recent))
	copy(recent, t.recent)

	return Snapshot{
		Status:         t.status,
		Project:        t.project,
		Collection:     t.collection,
		TotalFiles:     t.totalFiles,
		ProcessedFiles: t.processedFiles,
		SkippedFiles:   t.skippedFiles,
		FailedFiles:    t.failedFiles,
		InProgress:     inProgress,
		Recent:         recent,
		LastError:      t.lastError,
		StartedAt:      t.startedAt,
		FinishedAt:     t.finishedAt,
	}
}
