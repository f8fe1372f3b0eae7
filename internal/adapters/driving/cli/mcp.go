package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lorekeep/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server for AI assistant integration.

By default, the server communicates over stdio using newline-delimited
JSON-RPC and can be used with any MCP-compatible AI assistant. Logs go to
stderr.

Use --port to serve POST /mcp over HTTP instead. All HTTP requests share
one session.

Examples:
  # Stdio mode (default)
  lorekeep mcp serve

  # HTTP mode
  lorekeep mcp serve --port 8080

Client configuration:
  {
    "mcpServers": {
      "lorekeep": {
        "command": "/path/to/lorekeep",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	Annotations: map[string]string{needsServices: checkProvider},
	RunE:        runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}
	if queryService == nil || contentService == nil {
		return errors.New("content services not configured")
	}

	ports := &mcp.Ports{
		Query:   queryService,
		Content: contentService,
	}

	server, err := mcp.NewServer(ports, mcp.ConfigFrom(settings))
	if err != nil {
		return err
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on http://localhost%s/mcp\n", addr)
		return server.RunHTTP(cmd.Context(), addr)
	}

	return server.Run(cmd.Context())
}
