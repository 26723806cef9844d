package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/treestandk/wingman/pkg/deploy"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			list, err := a.orch.ListDeployments(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(list)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDOMAIN\tSTATUS\tSTEPS\tCREATED")
			byStatus := map[deploy.Status]int{}
			for _, d := range list {
				byStatus[d.Status]++
				done := 0
				for _, step := range d.Steps {
					if step.Outcome == deploy.StepDone {
						done++
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					d.ID, d.FQDN, d.Status, done, len(d.Steps), d.CreatedAt.Format("2006-01-02 15:04"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d deployments: %d completed, %d failed, %d in progress\n",
				len(list), byStatus[deploy.StatusCompleted], byStatus[deploy.StatusFailed], byStatus[deploy.StatusInProgress])
			return nil
		},
	}
	return cmd
}

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <deployment-id>",
		Short: "Delete a finished deployment record",
		Long: `Remove a deployment record from the local database. Only completed or
rolled-back deployments can be deleted; a record that still tracks
remote resources must be rolled back first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if err := a.orch.DeleteDeployment(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted deployment %s\n", args[0])
			return nil
		},
	}
	return cmd
}
