package commands

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/aimux/gateway/config"
)

// ConfigCmd resolves configuration (file + defaults + AIMUX_ env overrides)
// the same way serve does and prints the result, useful for inspecting the
// fully-merged config before the long-running process picks it up.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved gateway configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	},
}

func init() {
	ConfigCmd.Flags().StringVar(&configPath, "config", "gateway.toml", "path to the gateway's TOML configuration file")
}
