package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show a deployment's steps and resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			d, err := a.orch.GetDeployment(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(d)
			}
			printDeployment(d)
			for _, step := range d.Steps {
				if step.Ref == nil || step.Ref.IsZero() {
					continue
				}
				switch {
				case step.Ref.RecordID != "":
					fmt.Printf("  %s record: %s\n", step.Name, step.Ref.RecordID)
				case len(step.Ref.RuleIDs) > 0:
					fmt.Printf("  %s rules: %v\n", step.Name, step.Ref.RuleIDs)
				case step.Ref.ServerID != 0:
					fmt.Printf("  %s server: %d (%s)\n", step.Name, step.Ref.ServerID, step.Ref.ServerUUID)
				case step.Ref.ProxyHostID != 0:
					fmt.Printf("  %s host: %d\n", step.Name, step.Ref.ProxyHostID)
				}
			}
			return nil
		},
	}
	return cmd
}
