package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ncrowell/codeatlas/internal/config"
	"github.com/ncrowell/codeatlas/internal/store"
	"github.com/ncrowell/codeatlas/internal/ui"
)

var (
	depsProject   string
	usagesProject string
)

// depsCmd shows what a file imports.
var depsCmd = &cobra.Command{
	Use:   "deps <file>",
	Short: "Show the modules a source file imports",
	Long: `Show the modules and symbols a source file imports, from the
indexed dependency graph.

Examples:
  # Dependencies of a file in the default project
  codeatlas deps internal/server/handler.go --project api

  # With an explicit collection
  codeatlas deps src/auth.py --project backend/api`,
	Args: cobra.ExactArgs(1),
	RunE: runDeps,
}

// usagesCmd shows which files import a module or symbol.
var usagesCmd = &cobra.Command{
	Use:   "usages <symbol>",
	Short: "Show the files that import a module or symbol",
	Long: `Show every indexed source file that imports a given module path or
symbol name.

Examples:
  codeatlas usages requests --project backend/api
  codeatlas usages ParseToken --project api`,
	Args: cobra.ExactArgs(1),
	RunE: runUsages,
}

func init() {
	depsCmd.Flags().StringVar(&depsProject, "project", "", "project to query (collection/name)")
	_ = depsCmd.MarkFlagRequired("project")

	usagesCmd.Flags().StringVar(&usagesProject, "project", "", "project to query (collection/name)")
	_ = usagesCmd.MarkFlagRequired("project")
}

func runDeps(cmd *cobra.Command, args []string) error {
	file := args[0]

	st, project, err := openProject(depsProject)
	if err != nil {
		return err
	}
	defer st.Close()

	edges, err := st.DependenciesOf(project.ID, file)
	if err != nil {
		return fmt.Errorf("failed to look up dependencies: %w", err)
	}

	if len(edges) == 0 {
		fmt.Printf("No recorded dependencies for %s.\n", file)
		return nil
	}

	fmt.Println(ui.Header.Render("Dependencies of " + file))
	fmt.Println()
	for _, edge := range edges {
		if len(edge.Symbols) > 0 {
			fmt.Printf("  %s %s\n",
				ui.Highlight.Render(edge.Module),
				ui.Dim.Render("("+strings.Join(edge.Symbols, ", ")+")"),
			)
		} else {
			fmt.Printf("  %s\n", ui.Highlight.Render(edge.Module))
		}
	}

	return nil
}

func runUsages(cmd *cobra.Command, args []string) error {
	symbol := args[0]

	st, project, err := openProject(usagesProject)
	if err != nil {
		return err
	}
	defer st.Close()

	files, err := st.UsagesOf(project.ID, symbol)
	if err != nil {
		return fmt.Errorf("failed to look up usages: %w", err)
	}

	if len(files) == 0 {
		fmt.Printf("No indexed files import %q.\n", symbol)
		return nil
	}

	fmt.Println(ui.Header.Render(fmt.Sprintf("Files importing %q", symbol)))
	fmt.Println()
	for _, f := range files {
		fmt.Printf("  %s\n", ui.FilePath.Render(f))
	}

	return nil
}

// openProject opens the store and resolves a collection/name reference.
// The caller owns closing the returned store.
func openProject(ref string) (store.Store, *store.Project, error) {
	collection, name, err := splitProjectRef(ref)
	if err != nil {
		return nil, nil, err
	}

	cfg := config.Get()
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	project, err := st.GetProject(collection, name)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to look up project: %w", err)
	}
	if project == nil {
		st.Close()
		return nil, nil, fmt.Errorf("project not found: %s/%s", collection, name)
	}

	return st, project, nil
}
