package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ncrowell/codeatlas/internal/config"
	"github.com/ncrowell/codeatlas/internal/job"
	"github.com/ncrowell/codeatlas/internal/ui"
)

var (
	indexCollection string
	indexProject    string
	indexForce      bool
	indexEnrich     bool
	indexDryRun     bool
	indexIgnore     []string
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index files for hybrid search",
	Long: `Index files in the specified directory (or current directory).

Indexing is incremental: unchanged files are detected by content fingerprint
and skipped. Files that vanished since the last run are removed from the
index. Use --force to reprocess everything.

Examples:
  # Index current directory
  codeatlas index

  # Index a specific directory into a named collection
  codeatlas index ./src --collection backend --project api

  # Generate AI summaries per block while indexing
  codeatlas index --enrich

  # Force re-index regardless of fingerprints
  codeatlas index --force

  # Preview what would be processed without writing anything
  codeatlas index --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexCollection, "collection", "default", "collection to file the project under")
	indexCmd.Flags().StringVar(&indexProject, "project", "", "project name (defaults to directory name)")
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "reprocess every file regardless of fingerprints")
	indexCmd.Flags().BoolVar(&indexEnrich, "enrich", false, "generate AI summaries per block")
	indexCmd.Flags().BoolVarP(&indexDryRun, "dry-run", "d", false, "report the plan without writing anything")
	indexCmd.Flags().StringSliceVarP(&indexIgnore, "ignore", "i", nil, "additional patterns to ignore")
}

func runIndex(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("path does not exist: %s", absPath)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	cfg := config.Get()

	project := indexProject
	if project == "" {
		project = filepath.Base(absPath)
	}

	log.Debug("Starting index",
		"path", absPath,
		"collection", indexCollection,
		"project", project,
		"force", indexForce,
		"dry-run", indexDryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, cleaning up...")
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

	ix, err := newIndexer(cfg, st, emb, indexEnrich)
	if err != nil {
		return err
	}

	fmt.Println(ui.Header.Render("Indexing " + indexCollection + "/" + project))
	fmt.Printf("Path: %s\n", absPath)
	fmt.Printf("Provider: %s (%s)\n", cfg.Embeddings.Provider, emb.ModelName())
	if indexEnrich {
		fmt.Printf("Enrichment: %s (%s)\n", cfg.LLM.Provider, "summaries on")
	}
	fmt.Println()

	opts := indexerOptions(cfg, absPath, indexCollection, project, indexForce, indexEnrich, indexDryRun, indexIgnore)

	startTime := time.Now()

	// Progress line driven off tracker snapshots while the run executes.
	progressDone := make(chan struct{})
	go showProgress(ctx, ix.Tracker(), progressDone)

	snap, err := ix.Run(ctx, opts)

	cancel()
	<-progressDone
	fmt.Printf("\r\033[K")

	if err != nil {
		if ctx.Err() != nil && err == ctx.Err() {
			fmt.Println(ui.Warning.Render("Indexing cancelled"))
			return nil
		}
		return fmt.Errorf("indexing failed: %w", err)
	}

	if indexDryRun {
		fmt.Println(ui.Header.Render("Dry Run"))
		fmt.Printf("  Would process: %d files\n", snap.TotalFiles-snap.SkippedFiles)
		fmt.Printf("  Unchanged:     %d files\n", snap.SkippedFiles)
		return nil
	}

	duration := time.Since(startTime).Round(time.Millisecond)

	switch snap.Status {
	case job.StatusCompletedWithErrors:
		fmt.Println(ui.Warning.Render("Indexing completed with errors"))
	default:
		fmt.Println(ui.Success.Render("Indexing complete!"))
	}
	fmt.Println()
	fmt.Printf("  Processed: %d files\n", snap.ProcessedFiles)
	fmt.Printf("  Unchanged: %d files\n", snap.SkippedFiles)
	if snap.FailedFiles > 0 {
		fmt.Printf("  Failed:    %d files\n", snap.FailedFiles)
		printFailures(snap)
	}
	fmt.Printf("  Duration:  %s\n", duration)

	// Failed files keep their old fingerprints, so the next incremental
	// run picks them up again.
	if snap.Status == job.StatusCompletedWithErrors {
		fmt.Println()
		fmt.Println(ui.Dim.Render("Re-run 'codeatlas index' to retry the failed files."))
	}

	return nil
}

// showProgress redraws a single progress line from tracker snapshots.
func showProgress(ctx context.Context, tracker *job.Tracker, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := tracker.Snapshot()
			if snap.Status != job.StatusActive || snap.TotalFiles == 0 {
				continue
			}

			current := ""
			if len(snap.InProgress) > 0 {
				current = truncatePath(snap.InProgress[0], 40)
			}
			pct := float64(snap.ProcessedFiles) / float64(snap.TotalFiles) * 100
			fmt.Printf("\r\033[KProgress: %d/%d files (%.0f%%) %s",
				snap.ProcessedFiles, snap.TotalFiles, pct, current)
		}
	}
}

func printFailures(snap *job.Snapshot) {
	shown := 0
	for _, outcome := range snap.Recent {
		if outcome.Outcome != job.OutcomeFailed {
			continue
		}
		fmt.Printf("    %s %s\n", ui.Error.Render(outcome.Path+":"), outcome.Error)
		shown++
		if shown >= 5 {
			break
		}
	}
	if snap.FailedFiles > shown {
		fmt.Printf("    %s\n", ui.Dim.Render(fmt.Sprintf("... and %d more", snap.FailedFiles-shown)))
	}
}

// truncatePath shortens a path for display.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}

// listCmd lists indexed projects.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed projects",
	Long:  `List all indexed projects with their statistics.`,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	projects, err := st.ListProjects()
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	if len(projects) == 0 {
		fmt.Println("No indexed projects found.")
		fmt.Println("\nRun 'codeatlas index [path]' to create one.")
		return nil
	}

	fmt.Println(ui.Header.Render("Indexed Projects"))
	fmt.Println()

	for _, p := range projects {
		stats, err := st.GetStats(p.ID)
		if err != nil {
			log.Warn("Failed to get stats", "project", p.Name, "error", err)
			continue
		}

		fmt.Printf("%s\n", ui.Highlight.Render(p.Collection+"/"+p.Name))
		fmt.Printf("  Path:    %s\n", p.RootPath)
		fmt.Printf("  Model:   %s (%s)\n", p.EmbeddingModel, p.EmbeddingProvider)
		fmt.Printf("  Files:   %d\n", stats.FileCount)
		fmt.Printf("  Blocks:  %d\n", stats.BlockCount)
		fmt.Printf("  Edges:   %d\n", stats.EdgeCount)
		fmt.Printf("  Updated: %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}

	return nil
}

// deleteCmd removes a project and all its data.
var deleteCmd = &cobra.Command{
	Use:   "delete <collection/project>",
	Short: "Delete an indexed project",
	Long:  `Delete an indexed project and all its blocks, vectors and dependency edges.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	collection, project, err := splitProjectRef(args[0])
	if err != nil {
		return err
	}

	cfg := config.Get()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	record, err := st.GetProject(collection, project)
	if err != nil {
		return fmt.Errorf("failed to check project: %w", err)
	}
	if record == nil {
		return fmt.Errorf("project not found: %s/%s", collection, project)
	}

	fmt.Printf("Delete project '%s/%s'? This will remove all indexed data. [y/N]: ", collection, project)
	var confirm string
	fmt.Scanln(&confirm)
	if strings.ToLower(confirm) != "y" {
		fmt.Println("Cancelled.")
		return nil
	}

	if err := st.DeleteProject(collection, project); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	fmt.Println(ui.Success.Render(fmt.Sprintf("Project '%s/%s' deleted.", collection, project)))
	return nil
}

// compactCmd reclaims space after deletions.
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact the index database",
	Long:  `Reclaim disk space left behind by deleted projects and files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		start := time.Now()
		if err := st.Compact(); err != nil {
			return fmt.Errorf("failed to compact database: %w", err)
		}

		fmt.Println(ui.Success.Render(fmt.Sprintf("Compacted in %s.", time.Since(start).Round(time.Millisecond))))
		return nil
	},
}

// splitProjectRef parses "collection/project"; a bare name means the
// default collection.
func splitProjectRef(ref string) (string, string, error) {
	parts := strings.SplitN(ref, "/", 2)
	switch len(parts) {
	case 1:
		return "default", parts[0], nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("invalid project reference: %s", ref)
		}
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("invalid project reference: %s", ref)
}
