package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <deployment-id>",
		Short: "Resume a failed deployment",
		Long: `Re-enter a failed deployment at the step that failed. Steps that
already completed are not re-executed; their recorded resources are
trusted as-is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			d, runErr := a.orch.ResumeDeployment(cmd.Context(), args[0])
			if runErr != nil && d == nil {
				return runErr
			}

			if jsonOutput {
				return printJSON(d)
			}
			printDeployment(d)
			if runErr != nil {
				fmt.Printf("\nDeployment failed again. Resume with: wingman resume %s\n", d.ID)
				return runErr
			}
			fmt.Printf("\nServer is reachable at %s\n", d.FQDN)
			return nil
		},
	}
	return cmd
}
