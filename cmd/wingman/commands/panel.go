package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPanelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Browse the hosting panel's catalog",
		Long: `Read-only listings of the hosting panel's nests, eggs, nodes, and
allocations, to find the ids the deploy command needs.`,
	}
	cmd.AddCommand(newPanelNestsCommand())
	cmd.AddCommand(newPanelEggsCommand())
	cmd.AddCommand(newPanelNodesCommand())
	cmd.AddCommand(newPanelAllocationsCommand())
	return cmd
}

func panelApp(cmd *cobra.Command) (*app, error) {
	a, err := newApp(cmd.Context())
	if err != nil {
		return nil, err
	}
	if a.panel == nil {
		a.close(cmd.Context())
		return nil, fmt.Errorf("hosting panel is not enabled in the configuration")
	}
	return a, nil
}

func newPanelNestsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nests",
		Short: "List nests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := panelApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			nests, err := a.panel.Nests(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(nests)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
			for _, n := range nests {
				fmt.Fprintf(w, "%d\t%s\t%s\n", n.ID, n.Name, n.Description)
			}
			return w.Flush()
		},
	}
}

func newPanelEggsCommand() *cobra.Command {
	var nestID int
	cmd := &cobra.Command{
		Use:   "eggs",
		Short: "List eggs in a nest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := panelApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			eggs, err := a.panel.Eggs(cmd.Context(), nestID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(eggs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tIMAGE")
			for _, e := range eggs {
				fmt.Fprintf(w, "%d\t%s\t%s\n", e.ID, e.Name, e.DockerImage)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&nestID, "nest", 0, "nest id (required)")
	_ = cmd.MarkFlagRequired("nest")
	return cmd
}

func newPanelNodesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := panelApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			nodes, err := a.panel.Nodes(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(nodes)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tFQDN\tMEMORY\tDISK")
			for _, n := range nodes {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", n.ID, n.Name, n.FQDN, n.Memory, n.Disk)
			}
			return w.Flush()
		},
	}
}

func newPanelAllocationsCommand() *cobra.Command {
	var nodeID int
	var freeOnly bool
	cmd := &cobra.Command{
		Use:   "allocations",
		Short: "List allocations on a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := panelApp(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			allocations, err := a.panel.Allocations(cmd.Context(), nodeID)
			if err != nil {
				return err
			}
			if freeOnly {
				filtered := allocations[:0]
				for _, al := range allocations {
					if !al.Assigned {
						filtered = append(filtered, al)
					}
				}
				allocations = filtered
			}
			if jsonOutput {
				return printJSON(allocations)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tIP\tPORT\tASSIGNED")
			for _, al := range allocations {
				fmt.Fprintf(w, "%d\t%s\t%d\t%v\n", al.ID, al.IP, al.Port, al.Assigned)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&nodeID, "node", 0, "node id (required)")
	cmd.Flags().BoolVar(&freeOnly, "free", false, "show only unassigned allocations")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}
