// Package indexer drives the per-file pipeline: detect, extract, chunk,
// enrich, embed, store. A bounded worker pool processes files while an
// adaptive limiter gates calls into rate-limited providers.
package indexer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/ncrowell/codeatlas/internal/chunker"
	"github.com/ncrowell/codeatlas/internal/detect"
	"github.com/ncrowell/codeatlas/internal/extract"
	"github.com/ncrowell/codeatlas/internal/gitmeta"
	"github.com/ncrowell/codeatlas/internal/job"
	"github.com/ncrowell/codeatlas/internal/llm"
	"github.com/ncrowell/codeatlas/internal/store"
	"github.com/ncrowell/codeatlas/internal/throttle"

	"github.com/ncrowell/codeatlas/internal/embeddings"
)

// DefaultWorkers is the file-level pool size.
const DefaultWorkers = 16

// Options configures one indexing run.
type Options struct {
	RootPath   string
	Collection string
	Project    string

	Enrich bool // generate AI summaries per block
	Force  bool // reprocess every file regardless of fingerprint
	DryRun bool // report the plan without writing anything

	Workers        int
	SplitThreshold int
	IgnorePatterns []string
	MaxFileSize    int64

	// ThrottleSignatures overrides the built-in provider pushback
	// signatures. Empty means throttle.DefaultSignatures().
	ThrottleSignatures []string
}

// Indexer owns the indexing pipeline for one store.
type Indexer struct {
	store    store.Store
	embedder embeddings.Service
	enricher *llm.Enricher
	tracker  *job.Tracker
	limiter  *throttle.AdaptiveLimiter
	retry    throttle.RetryOptions

	// Guards against interleaved writes for the same path when a watcher
	// and a manual run overlap.
	fileLocks sync.Map

	mu       sync.Mutex
	lastOpts Options
}

// New creates an indexer. The enricher may be nil when summaries are off.
func New(s store.Store, embedder embeddings.Service, enricher *llm.Enricher, tracker *job.Tracker) *Indexer {
	return &Indexer{
		store:    s,
		embedder: embedder,
		enricher: enricher,
		tracker:  tracker,
		retry:    throttle.DefaultRetryOptions(),
	}
}

// Tracker exposes the job tracker for status, pause, resume and reset.
func (ix *Indexer) Tracker() *job.Tracker {
	return ix.tracker
}

// Run executes a full indexing pass. It returns once every file has been
// processed and the job has reached a terminal state.
func (ix *Indexer) Run(ctx context.Context, opts Options) (*job.Snapshot, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	var project *store.Project
	var err error
	if opts.DryRun {
		// Dry runs never write, not even the project row.
		project, err = ix.store.GetProject(opts.Collection, opts.Project)
	} else {
		project, err = ix.getOrCreateProject(opts)
	}
	if err != nil {
		return nil, err
	}

	walker, err := detect.NewWalker(detect.WalkOptions{
		Root:           opts.RootPath,
		IgnorePatterns: opts.IgnorePatterns,
		UseGitignore:   true,
		MaxFileSize:    opts.MaxFileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create walker: %w", err)
	}

	var indexed []store.FileRecord
	if project != nil {
		indexed, err = ix.store.ListFiles(project.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list indexed files: %w", err)
		}
	}

	plan, err := detect.BuildPlan(walker, indexed, opts.Force)
	if err != nil {
		return nil, fmt.Errorf("change detection failed: %w", err)
	}

	if opts.DryRun {
		snap := job.Snapshot{
			Status:         job.StatusIdle,
			Collection:     opts.Collection,
			Project:        opts.Project,
			TotalFiles:     len(plan.ToProcess) + len(plan.Unchanged),
			SkippedFiles:   len(plan.Unchanged),
			ProcessedFiles: 0,
		}
		log.Info("Dry run", "process", len(plan.ToProcess), "unchanged", len(plan.Unchanged), "delete", len(plan.ToDelete))
		return &snap, nil
	}

	total := len(plan.ToProcess) + len(plan.Unchanged)
	if err := ix.tracker.Begin(opts.Collection, opts.Project, total); err != nil {
		return nil, err
	}

	ix.mu.Lock()
	ix.lastOpts = opts
	ix.mu.Unlock()

	ix.limiter = throttle.NewAdaptiveLimiter(providerCeiling(opts.Workers))

	for _, path := range plan.ToDelete {
		if err := ix.store.DeleteFile(project.ID, path); err != nil {
			log.Warn("Failed to delete stale file", "path", path, "error", err)
		} else {
			log.Debug("Deleted stale file", "path", path)
		}
	}

	for _, path := range plan.Unchanged {
		ix.tracker.FileSkipped(path)
	}

	if err := ix.processFiles(ctx, project, opts, plan.ToProcess); err != nil {
		return nil, err
	}

	if err := ix.store.UpdateProjectTimestamp(project.ID); err != nil {
		log.Warn("Failed to update project timestamp", "error", err)
	}

	if err := ix.tracker.Finish(); err != nil {
		return nil, err
	}

	snap := ix.tracker.Snapshot()
	log.Info("Indexing finished",
		"status", snap.Status,
		"processed", snap.ProcessedFiles,
		"skipped", snap.SkippedFiles,
		"failed", snap.FailedFiles)

	return &snap, nil
}

// RetryFailed reprocesses only the files that failed in the last run.
func (ix *Indexer) RetryFailed(ctx context.Context) (*job.Snapshot, error) {
	paths, err := ix.tracker.Retry()
	if err != nil {
		return nil, err
	}

	ix.mu.Lock()
	opts := ix.lastOpts
	ix.mu.Unlock()

	project, err := ix.store.GetProject(opts.Collection, opts.Project)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fmt.Errorf("project %s/%s not found", opts.Collection, opts.Project)
	}

	if ix.limiter == nil {
		ix.limiter = throttle.NewAdaptiveLimiter(providerCeiling(opts.Workers))
	}

	walker, err := detect.NewWalker(detect.WalkOptions{
		Root:           opts.RootPath,
		IgnorePatterns: opts.IgnorePatterns,
		UseGitignore:   true,
		MaxFileSize:    opts.MaxFileSize,
	})
	if err != nil {
		return nil, err
	}

	retrySet := make(map[string]bool, len(paths))
	for _, p := range paths {
		retrySet[p] = true
	}

	var toProcess []detect.FileInfo
	err = walker.Walk(func(info detect.FileInfo) error {
		if retrySet[info.RelPath] {
			toProcess = append(toProcess, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Files that failed last time but vanished since count as processed.
	for _, p := range paths {
		found := false
		for _, info := range toProcess {
			if info.RelPath == p {
				found = true
				break
			}
		}
		if !found {
			ix.tracker.FileSkipped(p)
		}
	}

	if err := ix.processFiles(ctx, project, opts, toProcess); err != nil {
		return nil, err
	}

	if err := ix.tracker.Finish(); err != nil {
		return nil, err
	}

	snap := ix.tracker.Snapshot()
	return &snap, nil
}

// processFiles runs the worker pool over the given file set. Worker errors
// are recorded per file and never cancel the pool.
func (ix *Indexer) processFiles(ctx context.Context, project *store.Project, opts Options, files []detect.FileInfo) error {
	chunk := chunker.New(chunker.Options{MaxLines: opts.SplitThreshold})
	git := gitmeta.NewCollector(opts.RootPath)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, info := range files {
		// Pause gates dispatch only; in-flight workers always finish.
		if err := ix.tracker.WaitIfPaused(ctx); err != nil {
			break
		}
		if gctx.Err() != nil {
			break
		}

		info := info
		ix.tracker.FileStarted(info.RelPath)

		g.Go(func() error {
			if err := ix.processFile(gctx, project, chunk, git, opts, info); err != nil {
				log.Debug("File failed", "path", info.RelPath, "error", err)
				ix.tracker.FileFailed(info.RelPath, err)
			} else {
				ix.tracker.FileCompleted(info.RelPath)
			}
			return nil
		})
	}

	return g.Wait()
}

// processFile runs the stages for one file in order: extract, chunk,
// enrich, embed, store. The fingerprint is only persisted with the blocks,
// so a failure at any stage leaves the old record intact.
func (ix *Indexer) processFile(ctx context.Context, project *store.Project, chunk *chunker.Chunker, git *gitmeta.Collector, opts Options, info detect.FileInfo) error {
	content, err := os.ReadFile(info.Path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	result := extract.File(info.RelPath, string(content))
	blocks := chunk.Blocks(info.RelPath, result)

	retry := ix.providerRetry(opts)

	if opts.Enrich && ix.enricher != nil {
		if err := ix.enrichBlocks(ctx, retry, blocks); err != nil {
			return err
		}
	}

	vectors, err := ix.embedBlocks(ctx, retry, blocks)
	if err != nil {
		return err
	}

	file := store.FileInput{
		Path:        info.RelPath,
		Fingerprint: info.Fingerprint,
		Git:         git.ForFile(info.RelPath),
	}

	lock := ix.lockFor(info.RelPath)
	lock.Lock()
	defer lock.Unlock()

	if err := ix.store.UpsertFile(project.ID, file, blocks, vectors); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	edges := make([]store.DependencyEdge, 0, len(result.Imports))
	for _, imp := range result.Imports {
		edges = append(edges, store.DependencyEdge{
			SourceFile: info.RelPath,
			Module:     imp.Module,
			Symbols:    imp.Symbols,
		})
	}
	if err := ix.store.ReplaceDependencies(project.ID, info.RelPath, edges); err != nil {
		return fmt.Errorf("dependencies: %w", err)
	}

	return nil
}

// providerRetry builds the retry options for one file's provider calls.
// OnThrottle feeds every throttled attempt into the limiter, so the
// ceiling drops even when a later attempt succeeds.
func (ix *Indexer) providerRetry(opts Options) throttle.RetryOptions {
	retry := ix.retry
	retry.Signatures = opts.ThrottleSignatures
	retry.OnThrottle = ix.limiter.Throttled
	return retry
}

// enrichBlocks generates summaries through the adaptive limiter. Exhausted
// retries surface as the file's failure.
func (ix *Indexer) enrichBlocks(ctx context.Context, retry throttle.RetryOptions, blocks []store.BlockInput) error {
	if err := ix.summarizeParents(ctx, retry, blocks); err != nil {
		return err
	}

	for i := range blocks {
		if err := ix.limiter.Acquire(ctx); err != nil {
			return err
		}

		var summary string
		err := throttle.Do(ctx, retry, func() error {
			var serr error
			summary, serr = ix.enricher.Summarize(ctx, blocks[i].Name, blocks[i].Kind, blocks[i].Content)
			return serr
		})
		ix.limiter.Release(err)

		if err != nil {
			return fmt.Errorf("enrich %s: %w", blocks[i].Name, err)
		}
		blocks[i].Summary = summary
	}
	return nil
}

// summarizeParents gives the sub-chunks of each split unit one shared
// summary of the whole unit. Individual windows lack the context of the
// unit they came from; the parent summary restores it in their embed text.
func (ix *Indexer) summarizeParents(ctx context.Context, retry throttle.RetryOptions, blocks []store.BlockInput) error {
	groups := make(map[string][]int)
	var order []string
	for i := range blocks {
		parent := blocks[i].ParentName
		if parent == "" {
			continue
		}
		if _, seen := groups[parent]; !seen {
			order = append(order, parent)
		}
		groups[parent] = append(groups[parent], i)
	}

	for _, parent := range order {
		members := groups[parent]

		// Sub-chunks are contiguous windows, so joining them restores
		// the parent's content.
		var b strings.Builder
		for _, i := range members {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(blocks[i].Content)
		}

		if err := ix.limiter.Acquire(ctx); err != nil {
			return err
		}

		var summary string
		err := throttle.Do(ctx, retry, func() error {
			var serr error
			summary, serr = ix.enricher.Summarize(ctx, parent, blocks[members[0]].Kind, b.String())
			return serr
		})
		ix.limiter.Release(err)

		if err != nil {
			return fmt.Errorf("enrich %s: %w", parent, err)
		}
		for _, i := range members {
			blocks[i].ParentSummary = summary
		}
	}
	return nil
}

// embedBlocks embeds all blocks of a file in one batch call.
func (ix *Indexer) embedBlocks(ctx context.Context, retry throttle.RetryOptions, blocks []store.BlockInput) ([][]float32, error) {
	if len(blocks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(blocks))
	for i, block := range blocks {
		texts[i] = chunker.EmbedText(block)
	}

	if err := ix.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var vectors [][]float32
	err := throttle.Do(ctx, retry, func() error {
		var eerr error
		vectors, eerr = ix.embedder.EmbedBatch(ctx, texts)
		return eerr
	})
	ix.limiter.Release(err)

	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(blocks) {
		return nil, fmt.Errorf("embed: got %d vectors for %d blocks", len(vectors), len(blocks))
	}

	return vectors, nil
}

func (ix *Indexer) getOrCreateProject(opts Options) (*store.Project, error) {
	project, err := ix.store.GetProject(opts.Collection, opts.Project)
	if err != nil {
		return nil, err
	}
	if project != nil {
		if project.EmbeddingModel != ix.embedder.ModelName() {
			return nil, fmt.Errorf("project %s/%s was indexed with model %s, current config uses %s",
				opts.Collection, opts.Project, project.EmbeddingModel, ix.embedder.ModelName())
		}
		return project, nil
	}

	return ix.store.CreateProject(
		opts.Collection,
		opts.Project,
		opts.RootPath,
		ix.embedder.Provider(),
		ix.embedder.ModelName(),
		ix.embedder.Dimensions(),
	)
}

func (ix *Indexer) lockFor(path string) *sync.Mutex {
	actual, _ := ix.fileLocks.LoadOrStore(path, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// providerCeiling derives the provider-call ceiling from the pool size.
// Provider calls are the expensive stage, so they get fewer slots than the
// file pool.
func providerCeiling(workers int) int {
	ceiling := workers / 2
	if ceiling < 1 {
		ceiling = 1
	}
	return ceiling
}
