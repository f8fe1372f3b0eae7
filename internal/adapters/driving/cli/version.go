package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/lorekeep/internal/adapters/driving/mcp"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("lorekeep version %s\n", version)
		cmd.Printf("MCP protocol %s\n", mcp.ProtocolVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
