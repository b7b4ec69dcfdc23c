package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	dmcp "github.com/datagate-io/datagate/internal/mcp"
	"github.com/datagate-io/datagate/internal/proxy"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes registered
connectors as read-only query tools for AI agents. Supports stdio
(default) and HTTP transports.

In stdio mode, the server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with MCP desktop clients.

In HTTP mode, the server listens on the specified port for streamable
HTTP connections.`,
		Example: `  datagate mcp                              # stdio mode
  datagate mcp --transport http --port 3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	// Logs go to stderr: stdout belongs to the stdio transport.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	v, err := openVault()
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	adapters, err := newAdapterSet()
	if err != nil {
		return err
	}

	cfg := loadConfig()
	dispatcher := proxy.NewDispatcher(
		proxy.DispatcherConfig{ProxyHost: cfg.Server.Host, ProxyPort: cfg.Server.Port},
		store, v, mustAuth(store, cfg), adapters, newRewriter(cfg), logger,
	)

	mcpSrv := dmcp.NewMCPServer(store, dispatcher, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		addr := fmt.Sprintf(":%d", port)
		logger.Info("starting MCP HTTP server", "addr", addr)
		return mcpSrv.ServeHTTP(addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
