package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ncrowell/codeatlas/internal/config"
	"github.com/ncrowell/codeatlas/internal/mcp"
)

var mcpEnrich bool

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server for integration with AI coding agents.

The server communicates via stdin/stdout using JSON-RPC 2.0 and exposes
search, indexing with full job control (status, pause, resume, retry,
reset), and dependency graph lookups.

This command is typically invoked by AI agents and not run directly by
users.`,
	RunE: runMcpCmd,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpEnrich, "enrich", false, "generate AI summaries during agent-triggered index runs")
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// MCP uses stdin/stdout for the protocol, so logs go to stderr only.
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)

	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("Received signal, shutting down", "signal", sig)
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

	ix, err := newIndexer(cfg, st, emb, mcpEnrich)
	if err != nil {
		return err
	}

	engine, err := newSearchEngine(cfg, st, emb)
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}

	server := mcp.NewServer(st, engine, ix, cfg)
	return server.Serve(ctx)
}
