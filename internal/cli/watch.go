package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ncrowell/codeatlas/internal/config"
	"github.com/ncrowell/codeatlas/internal/ui"
	"github.com/ncrowell/codeatlas/internal/watcher"
)

var (
	watchCollection string
	watchProject    string
	watchNoInitial  bool
	watchEnrich     bool
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch for file changes and auto-reindex",
	Long: `Watch a directory for file changes and keep its index current.

An initial incremental index runs first (unless --no-initial is specified),
then changes are debounced and coalesced into follow-up incremental runs.
The watcher is registered persistently so it can be restored later.

Examples:
  # Watch current directory
  codeatlas watch

  # Watch a specific directory into a named project
  codeatlas watch ./src --collection backend --project api

  # Skip initial sync (assumes already indexed)
  codeatlas watch --no-initial`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().StringVar(&watchCollection, "collection", "default", "collection to file the project under")
	watchCmd.Flags().StringVar(&watchProject, "project", "", "project name (defaults to directory name)")
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "skip initial index sync")
	watchCmd.Flags().BoolVar(&watchEnrich, "enrich", false, "generate AI summaries per block")
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	cfg := config.Get()

	project := watchProject
	if project == "" {
		project = filepath.Base(absPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	emb, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	ix, err := newIndexer(cfg, st, emb, watchEnrich)
	if err != nil {
		return err
	}

	opts := indexerOptions(cfg, absPath, watchCollection, project, false, watchEnrich, false, nil)

	if !watchNoInitial {
		fmt.Println(ui.Header.Render("Initial Index"))
		fmt.Printf("Path: %s\n", absPath)
		fmt.Printf("Provider: %s (%s)\n\n", cfg.Embeddings.Provider, emb.ModelName())

		snap, err := ix.Run(ctx, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("initial index failed: %w", err)
		}

		fmt.Printf("Initial index complete: %d processed, %d unchanged, %d failed\n\n",
			snap.ProcessedFiles-snap.SkippedFiles, snap.SkippedFiles, snap.FailedFiles)

		if err := ix.Tracker().Reset(); err != nil {
			return fmt.Errorf("failed to reset job state: %w", err)
		}
	}

	// Record the watcher so other tooling can see what is being kept live.
	if _, err := st.AddWatcher(absPath, project, watchCollection); err != nil {
		log.Warn("Failed to register watcher", "error", err)
	}
	defer func() {
		if err := st.RemoveWatcher(absPath, project, watchCollection); err != nil {
			log.Debug("Failed to unregister watcher", "error", err)
		}
	}()

	w, err := watcher.New(ix, opts,
		watcher.WithDebounceTime(500*time.Millisecond),
		watcher.WithEventCallback(func(event, path string) {
			log.Debug("File event", "event", event, "path", path)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	fmt.Println(ui.Header.Render("Watching for Changes"))
	fmt.Printf("Directory: %s\n", absPath)
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
