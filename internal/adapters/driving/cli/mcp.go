package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/tally/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the grid over MCP",
	Long: `Starts a Model Context Protocol server exposing the grid to AI assistants.
The processing engine runs alongside it.

By default the server speaks JSON-RPC over stdio. Use --http to listen on
an address instead.

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "tally": {
        "command": "/path/to/tally",
        "args": ["mcp"]
      }
    }
  }`,
	Example: `  tally mcp
  tally mcp --http localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().String("http", "", "listen address for HTTP transport (default: stdio)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	addr, err := cmd.Flags().GetString("http")
	if err != nil {
		return err
	}
	if engine == nil {
		return errors.New("engine not configured")
	}

	server, err := mcp.NewServer(&mcp.Ports{
		Grid:    gridService,
		Control: controlService,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	startEngine(ctx)
	defer func() { _ = engine.Stop() }()

	if addr != "" {
		cmd.PrintErrf("MCP server listening on http://%s\n", addr)
		return server.RunHTTP(ctx, addr)
	}
	return server.Run(ctx)
}
