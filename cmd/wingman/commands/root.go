package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wingman",
		Short: "Wingman - Game Server Deployment Orchestrator",
		Long: `Wingman provisions game servers end to end: a DNS record, firewall
port forwards, a reverse-proxy host with optional TLS, and a hosting-panel
server, executed as one resumable multi-step deployment.

Every step transition is persisted, so a failed deployment can be resumed
from where it stopped or rolled back in reverse order.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newRollbackCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newPanelCommand())

	return rootCmd
}
