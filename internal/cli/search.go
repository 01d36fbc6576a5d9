package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ncrowell/codeatlas/internal/config"
	"github.com/ncrowell/codeatlas/internal/search"
	"github.com/ncrowell/codeatlas/internal/store"
	"github.com/ncrowell/codeatlas/internal/ui"
)

var (
	searchLimit      int
	searchMinScore   float64
	searchPreview    bool
	searchContent    bool
	searchSuggest    bool
	searchJSON       bool
	searchCollection string
	searchProject    string
	searchCategory   string
	searchAuthor     string
	searchChurn      string
	searchSince      string
	searchUntil      string
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index with a natural-language query",
	Long: `Search indexed code and documentation.

Vector similarity and keyword matches are merged, filtered, and optionally
reranked by a cross-encoder before display.

Examples:
  # Basic search
  codeatlas search "how does authentication work"

  # Show content snippets with syntax highlighting
  codeatlas search "database connection" -c

  # Filter by project and category
  codeatlas search "error handling" --project api --category code

  # Filter by git metadata
  codeatlas search "payment flow" --author alice --churn high --since 2026-06-01

  # Cheap aggregate preview without fetching results
  codeatlas search "http handlers" --preview

  # Machine-readable output
  codeatlas search "worker pool" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearchCmd,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "m", 10, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0.0, "minimum pre-rerank score (0-1)")
	searchCmd.Flags().BoolVar(&searchPreview, "preview", false, "return aggregate metadata instead of results")
	searchCmd.Flags().BoolVarP(&searchContent, "content", "c", false, "show content snippets in results")
	searchCmd.Flags().BoolVar(&searchSuggest, "suggest", false, "suggest a follow-up question for the top result (uses the LLM)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().StringVar(&searchCollection, "collection", "", "restrict to one collection")
	searchCmd.Flags().StringVar(&searchProject, "project", "", "restrict to one project")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "restrict to 'code' or 'documentation'")
	searchCmd.Flags().StringVar(&searchAuthor, "author", "", "restrict to files last touched by this author")
	searchCmd.Flags().StringVar(&searchChurn, "churn", "", "restrict by change frequency: none, low, medium, high")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "restrict to files committed on or after this date (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchUntil, "until", "", "restrict to files committed on or before this date (YYYY-MM-DD)")
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	query := args[0]

	log.Debug("Starting search",
		"query", query,
		"limit", searchLimit,
		"preview", searchPreview,
	)

	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted")
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

	engine, err := newSearchEngine(cfg, st, emb)
	if err != nil {
		return err
	}

	filter, err := buildFilter()
	if err != nil {
		return err
	}

	opts := search.Options{
		Limit:         searchLimit,
		MinScore:      searchMinScore,
		PreviewOnly:   searchPreview,
		KeywordWeight: cfg.Search.KeywordWeight,
		Filter:        filter,
	}

	resp, err := engine.Search(ctx, query, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputJSON(resp)
	}

	if resp.Preview != nil {
		displayPreview(resp.Preview)
		return nil
	}

	if len(resp.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	displayResults(resp.Results, searchContent)

	if searchSuggest {
		suggestQuestion(ctx, cfg, resp.Results[0])
	}
	return nil
}

// suggestQuestion prints the question the top result best answers, as a
// chat starter. Failures only log; the results are already on screen.
func suggestQuestion(ctx context.Context, cfg *config.Config, top search.Result) {
	enricher, err := newEnricher(cfg, true)
	if err != nil {
		log.Warn("Suggestion unavailable", "error", err)
		return
	}

	question, err := enricher.BestQuestion(ctx, top.Block.Name, top.Block.Summary, top.Block.Content)
	if err != nil {
		log.Warn("Failed to generate suggestion", "error", err)
		return
	}

	fmt.Println(ui.SectionTitle.Render("Suggested question"))
	fmt.Printf("  %s\n", ui.Italic.Render(question))
}

func buildFilter() (store.SearchFilter, error) {
	filter := store.SearchFilter{
		Collection: searchCollection,
		Project:    searchProject,
		Category:   store.Category(searchCategory),
		Author:     searchAuthor,
		Churn:      store.ChurnLevel(searchChurn),
	}

	switch filter.Category {
	case "", store.CategoryCode, store.CategoryDocumentation:
	default:
		return filter, fmt.Errorf("category must be 'code' or 'documentation', got %q", searchCategory)
	}

	switch filter.Churn {
	case "", store.ChurnNone, store.ChurnLow, store.ChurnMedium, store.ChurnHigh:
	default:
		return filter, fmt.Errorf("churn must be none, low, medium or high, got %q", searchChurn)
	}

	var err error
	if searchSince != "" {
		if filter.Since, err = time.Parse("2006-01-02", searchSince); err != nil {
			return filter, fmt.Errorf("invalid --since date: %w", err)
		}
	}
	if searchUntil != "" {
		if filter.Until, err = time.Parse("2006-01-02", searchUntil); err != nil {
			return filter, fmt.Errorf("invalid --until date: %w", err)
		}
	}

	return filter, nil
}

// displayPreview prints the aggregate summary of a preview-only search.
func displayPreview(p *search.Preview) {
	fmt.Println(ui.Header.Render("Search Preview"))
	fmt.Println()
	fmt.Printf("  Candidates:  %d\n", p.CandidateCount)
	fmt.Printf("  Token sum:   %d (budget %d)\n", p.TokenSum, p.TokenBudget)
	fmt.Printf("  Mean score:  %.3f\n", p.MeanScore)
	fmt.Println()

	if p.TokenSum <= p.TokenBudget {
		fmt.Println(ui.Success.Render(p.Recommendation))
	} else {
		fmt.Println(ui.Warning.Render(p.Recommendation))
	}
}

// displayResults formats and displays search results.
func displayResults(results []search.Result, showContent bool) {
	fmt.Printf("Found %d results:\n\n", len(results))

	for i, r := range results {
		scoreStr := fmt.Sprintf("%.1f%%", r.Score*100)

		name := r.Block.Name
		if r.Block.ParentName != "" {
			name = r.Block.ParentName + " > " + name
		}

		fmt.Printf("%s %s %s\n",
			ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
			ui.FilePath.Render(r.Block.FilePath),
			ui.ResultScore.Render(scoreStr),
		)

		fmt.Printf("    %s %s\n",
			ui.LineNum.Render(fmt.Sprintf("Lines %d-%d", r.Block.StartLine, r.Block.EndLine)),
			ui.Dim.Render(r.Block.Kind+" "+name),
		)

		if r.Block.Summary != "" {
			fmt.Printf("    %s\n", ui.Dim.Render(r.Block.Summary))
		}

		if showContent && r.Block.Content != "" {
			fmt.Println()
			if r.Block.Category == store.CategoryDocumentation {
				displayMarkdown(r.Block.Content)
			} else {
				displayContentHighlighted(r.Block.Content, r.Block.StartLine, r.Block.FilePath)
			}
		}

		fmt.Println()
	}
}

// displayMarkdown renders documentation blocks with glamour.
func displayMarkdown(content string) {
	rendered, err := renderMarkdown(content)
	if err != nil {
		fmt.Println(content)
		return
	}
	fmt.Print(rendered)
}

// renderMarkdown renders markdown content using glamour.
func renderMarkdown(content string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(content)
}

// displayContentHighlighted formats and displays code content with syntax highlighting.
func displayContentHighlighted(content string, startLine int, filename string) {
	lexer := lexers.Match(filename)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("dracula")
	if style == nil {
		style = styles.Fallback
	}

	formatter := formatters.Get("terminal16m")
	if formatter == nil {
		formatter = formatters.Get("terminal256")
	}
	if formatter == nil {
		formatter = formatters.Fallback
	}

	lines := strings.Split(content, "\n")
	maxLines := 15

	if len(lines) > maxLines {
		showLines := maxLines / 2

		firstContent := strings.Join(lines[:showLines], "\n")
		displayHighlightedLines(firstContent, startLine, lexer, style, formatter)

		fmt.Printf("    %s\n", ui.Dim.Render(fmt.Sprintf("    ... (%d lines omitted)", len(lines)-maxLines)))

		lastContent := strings.Join(lines[len(lines)-showLines:], "\n")
		displayHighlightedLines(lastContent, startLine+len(lines)-showLines, lexer, style, formatter)
	} else {
		displayHighlightedLines(content, startLine, lexer, style, formatter)
	}
}

// displayHighlightedLines highlights and displays code with line numbers.
func displayHighlightedLines(content string, startLine int, lexer chroma.Lexer, style *chroma.Style, formatter chroma.Formatter) {
	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		displayPlainLines(content, startLine)
		return
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		displayPlainLines(content, startLine)
		return
	}

	highlightedLines := strings.Split(buf.String(), "\n")
	for i, line := range highlightedLines {
		lineNum := startLine + i
		fmt.Printf("    %s %s\n",
			ui.LineNum.Render(fmt.Sprintf("%4d│", lineNum)),
			line,
		)
	}
}

// displayPlainLines displays content without highlighting (fallback).
func displayPlainLines(content string, startLine int) {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lineNum := startLine + i
		fmt.Printf("    %s %s\n",
			ui.LineNum.Render(fmt.Sprintf("%4d│", lineNum)),
			truncateLine(line, 80),
		)
	}
}

// truncateLine shortens a line for display.
func truncateLine(line string, maxLen int) string {
	line = strings.ReplaceAll(line, "\t", "    ")
	if len(line) <= maxLen {
		return line
	}
	return line[:maxLen-3] + "..."
}

// outputJSON prints the full response as JSON.
func outputJSON(resp *search.Response) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
