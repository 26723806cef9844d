package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/treestandk/wingman/pkg/config"
	"github.com/treestandk/wingman/pkg/deploy"
	"github.com/treestandk/wingman/pkg/telemetry"
)

func newTestCommand() *cobra.Command {
	var configOnly bool
	var watch bool
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Probe connectivity to every configured service",
		Long: `Run a read-only connectivity probe against each configured service:
DNS token verification, a firewall controller login, the reverse-proxy
API, and the hosting-panel API. No resources are created.

With --watch the command keeps running and re-probes every time the
config file changes on disk, so credentials can be corrected in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configOnly {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				fmt.Printf("Configuration valid: %s, database %s\n", cfg.Domain, cfg.Database.Path)
				return nil
			}

			probe := func() error {
				a, err := newApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.close(cmd.Context())

				if err := a.store.HealthCheck(cmd.Context()); err != nil {
					return fmt.Errorf("database health check failed: %w", err)
				}
				return printProbeResults(a.orch.TestAll(cmd.Context()))
			}

			err := probe()
			if !watch {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
			}

			cfg, loadErr := config.Load(configPath)
			if loadErr != nil {
				return loadErr
			}
			logger, loadErr := telemetry.NewLogger(cfg.Telemetry.Logging)
			if loadErr != nil {
				return loadErr
			}
			fmt.Printf("\nWatching %s for changes...\n", configPath)
			return probeOnReload(cmd.Context(), configPath, logger, probe)
		},
	}
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "validate the config file without probing services")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-probe when the config file changes")
	return cmd
}

func printProbeResults(results map[deploy.StepName]deploy.ProbeResult) error {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, string(name))
	}
	sort.Strings(names)

	failed := false
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATUS\tLATENCY\tDETAIL")
	for _, name := range names {
		res := results[deploy.StepName(name)]
		status := "ok"
		if !res.OK {
			status = "failed"
			failed = true
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, status, res.Duration.Round(time.Millisecond), res.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("one or more services are unreachable")
	}
	return nil
}

// probeOnReload blocks until the context is done, re-running the probe
// each time the config file is successfully reloaded. A probe failure is
// reported and watching continues.
func probeOnReload(ctx context.Context, path string, logger zerolog.Logger, probe func() error) error {
	reloads := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, logger, func(*config.Config) {
		select {
		case reloads <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	go func() { _ = w.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reloads:
			if err := probe(); err != nil {
				logger.Error().Err(err).Msg("service probe failed")
			}
		}
	}
}
