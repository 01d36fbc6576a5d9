package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ncrowell/codeatlas/internal/config"
	"github.com/ncrowell/codeatlas/internal/store"
	"github.com/ncrowell/codeatlas/internal/ui"
)

var statusProject string

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status and statistics",
	Long: `Display information about indexed projects including:
- Number of indexed files, blocks and dependency edges
- Embedding provider and model used
- Last indexing time

Live job progress (pause, resume, retry) is available through the MCP
server, where the indexer stays resident.

Examples:
  # Show status of all projects
  codeatlas status

  # Show status for a specific project
  codeatlas status --project backend/api`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProject, "project", "", "specific project to show (collection/name)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	log.Debug("Showing status", "project", statusProject)

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
		fmt.Println()
		fmt.Println("Run 'codeatlas index [path]' to create one.")
		return nil
	}

	var display []store.Project
	if statusProject != "" {
		collection, name, err := splitProjectRef(statusProject)
		if err != nil {
			return err
		}
		for _, p := range projects {
			if p.Collection == collection && p.Name == name {
				display = append(display, p)
				break
			}
		}
		if len(display) == 0 {
			return fmt.Errorf("project not found: %s", statusProject)
		}
	} else {
		display = projects
	}

	fmt.Println(ui.Header.Render("Index Status"))
	fmt.Println()

	for i, p := range display {
		stats, err := st.GetStats(p.ID)
		if err != nil {
			log.Warn("Failed to get stats", "project", p.Name, "error", err)
			continue
		}

		fmt.Printf("%s %s\n",
			ui.Highlight.Render("Project:"),
			ui.Bold.Render(p.Collection+"/"+p.Name),
		)

		fmt.Printf("  %s %s\n", ui.Dim.Render("Path:"), p.RootPath)
		if _, err := os.Stat(p.RootPath); os.IsNotExist(err) {
			fmt.Printf("  %s\n", ui.Warning.Render("(path no longer exists)"))
		}

		fmt.Printf("  %s %s (%s)\n",
			ui.Dim.Render("Model:"),
			p.EmbeddingModel,
			p.EmbeddingProvider,
		)
		fmt.Printf("  %s %d\n", ui.Dim.Render("Dimensions:"), p.EmbeddingDimensions)

		fmt.Printf("  %s %d files, %d blocks, %d edges\n",
			ui.Dim.Render("Indexed:"),
			stats.FileCount,
			stats.BlockCount,
			stats.EdgeCount,
		)
		fmt.Printf("  %s %d\n", ui.Dim.Render("Tokens:"), stats.TokenCount)

		fmt.Printf("  %s %s\n", ui.Dim.Render("Created:"), formatTime(p.CreatedAt))
		fmt.Printf("  %s %s\n", ui.Dim.Render("Updated:"), formatTime(p.UpdatedAt))

		fmt.Printf("  %s %s\n", ui.Dim.Render("Health:"), getHealthStatus(stats))

		if i < len(display)-1 {
			fmt.Println()
		}
	}

	if len(display) > 1 {
		fmt.Println()
		fmt.Println(ui.Dim.Render(fmt.Sprintf("Total: %d projects", len(display))))
	}

	fmt.Println()
	fmt.Println(ui.Dim.Render("Configuration:"))
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Embedding Provider: %s\n", cfg.Embeddings.Provider)

	return nil
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return "today at " + t.Format("15:04")
	}

	if t.Year() == now.Year() {
		return t.Format("Jan 2 at 15:04")
	}

	return t.Format("Jan 2, 2006 at 15:04")
}

// getHealthStatus returns a health indicator based on stats.
func getHealthStatus(stats *store.ProjectStats) string {
	if stats.FileCount == 0 {
		return ui.Warning.Render("empty (no files indexed)")
	}
	if stats.BlockCount == 0 {
		return ui.Warning.Render("no blocks (re-index may be needed)")
	}

	avgBlocks := float64(stats.BlockCount) / float64(stats.FileCount)
	if avgBlocks < 0.5 {
		return ui.Warning.Render("low block count (check file filters)")
	}

	return ui.Success.Render("healthy")
}
