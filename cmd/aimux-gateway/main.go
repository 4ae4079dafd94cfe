// Command aimux-gateway is the multi-provider AI request gateway's entry
// point: a cobra root command with serve, config, and version
// subcommands, initializing the logger in PersistentPreRunE before any
// subcommand runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimux/gateway/cmd/aimux-gateway/commands"
	"github.com/aimux/gateway/logger"
)

var rootCmd = &cobra.Command{
	Use:   "aimux-gateway",
	Short: "aimux-gateway - multi-provider AI request gateway",
	Long: `aimux-gateway routes Anthropic-compatible chat requests across multiple
upstream AI providers with caching, circuit breaking, and automatic
failover.

Available commands:
  serve    - Start the gateway's HTTP server
  config   - Print the resolved configuration
  version  - Show build information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "emit structured JSON logs instead of human-readable console output")
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
