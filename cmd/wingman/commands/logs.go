package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <deployment-id>",
		Short: "Show a deployment's step event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			// Resolve the deployment first so a bad id reports not_found
			// instead of an empty log.
			if _, err := a.orch.GetDeployment(cmd.Context(), args[0]); err != nil {
				return err
			}

			events, err := a.store.ListEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(events)
			}
			if len(events) == 0 {
				fmt.Println("No events recorded.")
				return nil
			}
			for _, e := range events {
				fmt.Printf("%s  %-10s %-10s %s\n",
					e.CreatedAt.Local().Format(time.RFC3339), e.Step, e.Kind, e.Message)
			}
			return nil
		},
	}
	return cmd
}
