package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makerGeek/claudiomiro/internal/config"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for claudiomiro-ui
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claudiomiro-ui",
		Short: "Live dashboard for claudiomiro task pipelines",
		Long: `claudiomiro-ui serves a live view of the .claudiomiro state directory
of a project.

Browsers subscribe to a project over a WebSocket, receive a full snapshot
of every task and then a stream of changes as the executor rewrites its
status, blueprint and review documents.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", fmt.Sprintf("Path to config file (default: ./%s)", config.DefaultConfigFile))

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewCheckCommand())
	cmd.AddCommand(NewTailCommand())

	return cmd
}

// loadConfig reads --config, or the default file in the working directory
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultConfigFile
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return cfg, nil
}
