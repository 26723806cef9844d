package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treestandk/wingman/pkg/deploy"
)

func newRollbackCommand() *cobra.Command {
	var deletePanelServer bool

	cmd := &cobra.Command{
		Use:   "rollback <deployment-id>",
		Short: "Roll back a deployment's resources",
		Long: `Delete the deployment's created resources in reverse creation order.
Resources that are already gone count as removed. A service that cannot
be reached does not stop the reversal of the others; whatever survives
is reported with status "rollback_partial" for manual cleanup.

The hosting-panel server holds game state, so it is left in place unless
--delete-server is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			d, err := a.orch.RollbackDeployment(cmd.Context(), args[0],
				deploy.RollbackOptions{DeletePanelServer: deletePanelServer})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(d)
			}
			printDeployment(d)
			if d.Status == deploy.StatusRollbackPartial {
				fmt.Println("\nSome resources were not removed; see the step outcomes above.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&deletePanelServer, "delete-server", false, "also delete the hosting-panel server and its files")
	return cmd
}
