package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ncrowell/codeatlas/internal/indexer"
	"github.com/ncrowell/codeatlas/internal/job"
	"github.com/ncrowell/codeatlas/internal/search"
	"github.com/ncrowell/codeatlas/internal/store"
)

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

// --- Tool schemas ---

func searchTool() mcp.Tool {
	return mcp.NewTool("search",
		mcp.WithDescription("Hybrid search over indexed code and documentation. Merges vector similarity with keyword matches and reranks when configured. Set preview to true for a cheap aggregate estimate instead of full results."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language or keyword query"),
		),
		mcp.WithString("collection",
			mcp.Description("Restrict results to one collection"),
		),
		mcp.WithString("project",
			mcp.Description("Restrict results to one project"),
		),
		mcp.WithString("category",
			mcp.Description("Restrict results to 'code' or 'documentation'"),
		),
		mcp.WithString("author",
			mcp.Description("Restrict results to blocks whose file was last touched by this author"),
		),
		mcp.WithString("churn",
			mcp.Description("Restrict results by recent change frequency: none, low, medium, high"),
		),
		mcp.WithString("since",
			mcp.Description("Restrict results to files committed on or after this date (YYYY-MM-DD)"),
		),
		mcp.WithString("until",
			mcp.Description("Restrict results to files committed on or before this date (YYYY-MM-DD)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 10)"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Minimum pre-rerank score, 0.0-1.0"),
		),
		mcp.WithBoolean("preview",
			mcp.Description("Return aggregate metadata only: candidate count, token sum, mean score"),
		),
	)
}

func startIndexTool() mcp.Tool {
	return mcp.NewTool("start_index",
		mcp.WithDescription("Start an incremental indexing run over a directory. Returns immediately; poll index_status for progress. Only one job may run at a time."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to the directory to index"),
		),
		mcp.WithString("collection",
			mcp.Description("Collection to file the project under (default 'default')"),
		),
		mcp.WithString("project",
			mcp.Description("Project name (default: directory base name)"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Reprocess every file regardless of content fingerprints"),
		),
		mcp.WithBoolean("enrich",
			mcp.Description("Generate AI summaries per block during indexing"),
		),
	)
}

func indexStatusTool() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Report the current indexing job: lifecycle state, progress counters, in-flight files and recent outcomes."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func indexPauseTool() mcp.Tool {
	return mcp.NewTool("index_pause",
		mcp.WithDescription("Pause the active indexing job. In-flight files finish; no new files start until resume."),
	)
}

func indexResumeTool() mcp.Tool {
	return mcp.NewTool("index_resume",
		mcp.WithDescription("Resume a paused indexing job."),
	)
}

func indexRetryTool() mcp.Tool {
	return mcp.NewTool("index_retry",
		mcp.WithDescription("Re-run only the files that failed in the last job. Requires the job to have completed with errors."),
	)
}

func indexResetTool() mcp.Tool {
	return mcp.NewTool("index_reset",
		mcp.WithDescription("Return a finished indexing job to idle so a new run can begin."),
	)
}

func dependenciesOfTool() mcp.Tool {
	return mcp.NewTool("dependencies_of",
		mcp.WithDescription("List the modules and symbols a source file imports, from the indexed dependency graph."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection of the project")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("file", mcp.Required(), mcp.Description("Source file path relative to the project root")),
	)
}

func usagesOfTool() mcp.Tool {
	return mcp.NewTool("usages_of",
		mcp.WithDescription("List the source files that import a given module or symbol."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection of the project")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Module path or symbol name to look up")),
	)
}

func listProjectsTool() mcp.Tool {
	return mcp.NewTool("list_projects",
		mcp.WithDescription("List all indexed projects with their collection, root path and embedding model."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handlers ---

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	filter, err := filterFromRequest(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := searchOptions(req, filter)

	resp, err := s.engine.Search(ctx, query, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(resp)), nil
}

func (s *Server) handleStartIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	if s.indexer.Tracker().Status() != job.StatusIdle {
		return mcp.NewToolResultError(fmt.Sprintf("an indexing job is already %s; reset it first", s.indexer.Tracker().Status())), nil
	}

	project := req.GetString("project", "")
	if project == "" {
		project = filepath.Base(path)
	}

	opts := indexer.Options{
		RootPath:       path,
		Collection:     req.GetString("collection", "default"),
		Project:        project,
		Force:          req.GetBool("force", false),
		Enrich:         req.GetBool("enrich", false),
		Workers:        s.cfg.Indexing.Workers,
		SplitThreshold: s.cfg.Indexing.SplitThreshold,
		IgnorePatterns: s.cfg.Ignore,
		MaxFileSize:    int64(s.cfg.Indexing.MaxFileSize),

		ThrottleSignatures: s.cfg.Indexing.ThrottleSignatures,
	}

	// The run outlives this request; progress is observable via
	// index_status.
	go func() {
		if _, err := s.indexer.Run(context.Background(), opts); err != nil {
			log.Error("Index run failed", "path", path, "error", err)
		}
	}()

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"started":    true,
		"path":       path,
		"collection": opts.Collection,
		"project":    opts.Project,
	})), nil
}

func (s *Server) handleIndexStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.indexer.Tracker().Snapshot()
	return mcp.NewToolResultText(formatJSON(snap)), nil
}

func (s *Server) handleIndexPause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.indexer.Tracker().Pause(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(`{"status":"paused"}`), nil
}

func (s *Server) handleIndexResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.indexer.Tracker().Resume(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(`{"status":"active"}`), nil
}

func (s *Server) handleIndexRetry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.indexer.Tracker().Status() != job.StatusCompletedWithErrors {
		return mcp.NewToolResultError("retry requires a job that completed with errors"), nil
	}

	go func() {
		if _, err := s.indexer.RetryFailed(context.Background()); err != nil {
			log.Error("Retry run failed", "error", err)
		}
	}()

	return mcp.NewToolResultText(`{"retrying":true}`), nil
}

func (s *Server) handleIndexReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.indexer.Tracker().Reset(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(`{"status":"idle"}`), nil
}

func (s *Server) handleDependenciesOf(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, result := s.projectFromRequest(req)
	if result != nil {
		return result, nil
	}

	file := req.GetString("file", "")
	if file == "" {
		return mcp.NewToolResultError("file is required"), nil
	}

	edges, err := s.store.DependenciesOf(project.ID, file)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"file":         file,
		"dependencies": edges,
	})), nil
}

func (s *Server) handleUsagesOf(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, result := s.projectFromRequest(req)
	if result != nil {
		return result, nil
	}

	symbol := req.GetString("symbol", "")
	if symbol == "" {
		return mcp.NewToolResultError("symbol is required"), nil
	}

	files, err := s.store.UsagesOf(project.ID, symbol)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"symbol": symbol,
		"files":  files,
	})), nil
}

func (s *Server) handleListProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjects()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(projects)), nil
}

// --- Helpers ---

func (s *Server) projectFromRequest(req mcp.CallToolRequest) (*store.Project, *mcp.CallToolResult) {
	collection := req.GetString("collection", "")
	name := req.GetString("project", "")
	if collection == "" || name == "" {
		return nil, mcp.NewToolResultError("collection and project are required")
	}

	project, err := s.store.GetProject(collection, name)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err))
	}
	if project == nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("project %s/%s not found", collection, name))
	}
	return project, nil
}

func filterFromRequest(req mcp.CallToolRequest) (store.SearchFilter, error) {
	filter := store.SearchFilter{
		Collection: req.GetString("collection", ""),
		Project:    req.GetString("project", ""),
		Category:   store.Category(req.GetString("category", "")),
		Author:     req.GetString("author", ""),
		Churn:      store.ChurnLevel(req.GetString("churn", "")),
	}

	switch filter.Category {
	case "", store.CategoryCode, store.CategoryDocumentation:
	default:
		return filter, fmt.Errorf("category must be 'code' or 'documentation'")
	}

	switch filter.Churn {
	case "", store.ChurnNone, store.ChurnLow, store.ChurnMedium, store.ChurnHigh:
	default:
		return filter, fmt.Errorf("churn must be none, low, medium or high")
	}

	var err error
	if filter.Since, err = parseDate(req.GetString("since", "")); err != nil {
		return filter, fmt.Errorf("invalid since date: %w", err)
	}
	if filter.Until, err = parseDate(req.GetString("until", "")); err != nil {
		return filter, fmt.Errorf("invalid until date: %w", err)
	}

	return filter, nil
}

func searchOptions(req mcp.CallToolRequest, filter store.SearchFilter) search.Options {
	return search.Options{
		Limit:       req.GetInt("limit", 0),
		MinScore:    req.GetFloat("min_score", 0),
		PreviewOnly: req.GetBool("preview", false),
		Filter:      filter,
	}
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", value)
}

func formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}
