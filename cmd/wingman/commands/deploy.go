package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treestandk/wingman/pkg/deploy"
)

func newDeployCommand() *cobra.Command {
	var params deploy.Parameters
	var protocol string

	cmd := &cobra.Command{
		Use:   "deploy <subdomain>",
		Short: "Deploy a game server",
		Long: `Create a full deployment for a game server: the DNS record, firewall
port forwards (when the firewall service is enabled), the reverse-proxy
host, and the hosting-panel server (when the panel service is enabled).

Steps run in a fixed order and every transition is persisted. If a step
fails, the deployment stops with status "failed" and can be resumed with
"wingman resume" or reversed with "wingman rollback".`,
		Example: `  # Minecraft server on the default panel egg
  wingman deploy mc --server-ip 192.168.1.50 --port 25565 --egg 3 --nest 5 --node 1

  # Extra ports, UDP only, with TLS on the proxy host
  wingman deploy valheim --server-ip 192.168.1.60 --port 2456 \
    --additional-port 2457 --protocol udp --ssl

  # DNS, firewall, and proxy only
  wingman deploy web --server-ip 192.168.1.70 --port 8080 --skip-panel`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Subdomain = args[0]
			params.Protocol = deploy.Protocol(protocol)

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			applyPanelDefaults(&params, a)
			if !cmd.Flags().Changed("ssl") {
				params.EnableSSL = a.cfg.Proxy.EnableSSLByDefault
			}

			fqdn := a.fqdn(params.Subdomain)
			fmt.Printf("Deploying %s -> %s:%d\n", fqdn, params.ServerIP, params.GamePort)

			d, err := a.orch.StartDeployment(cmd.Context(), params, fqdn)
			if err != nil && d == nil {
				return err
			}

			if jsonOutput {
				return printJSON(d)
			}
			fmt.Println()
			printDeployment(d)
			if err != nil {
				fmt.Printf("\nDeployment failed. Resume with:   wingman resume %s\n", d.ID)
				fmt.Printf("Or roll back with:                wingman rollback %s\n", d.ID)
				return err
			}
			fmt.Printf("\nServer is reachable at %s\n", fqdn)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.ServerIP, "server-ip", "", "internal server address (required)")
	cmd.Flags().IntVar(&params.GamePort, "port", 0, "primary game port (required)")
	cmd.Flags().IntSliceVar(&params.AdditionalPorts, "additional-port", nil, "extra ports to forward")
	cmd.Flags().StringVar(&protocol, "protocol", "tcp_udp", "port protocol: tcp, udp, or tcp_udp")
	cmd.Flags().BoolVar(&params.EnableSSL, "ssl", false, "request a certificate for the proxy host")
	cmd.Flags().BoolVar(&params.OverwriteDNS, "overwrite-dns", false, "proceed even if the DNS record already exists")
	cmd.Flags().BoolVar(&params.SkipPanel, "skip-panel", false, "do not create a hosting-panel server")
	cmd.Flags().StringVar(&params.GameType, "game", "", "game label for the panel server name")
	cmd.Flags().IntVar(&params.EggID, "egg", 0, "panel egg id")
	cmd.Flags().IntVar(&params.NestID, "nest", 0, "panel nest id")
	cmd.Flags().IntVar(&params.NodeID, "node", 0, "panel node id")
	cmd.Flags().IntVar(&params.AllocationID, "allocation", 0, "explicit panel allocation id")
	cmd.Flags().BoolVar(&params.AutoAllocate, "auto-allocate", false, "pick the first free panel allocation")
	cmd.Flags().IntVar(&params.MemoryMB, "memory", 0, "panel server memory limit in MB")
	cmd.Flags().IntVar(&params.DiskMB, "disk", 0, "panel server disk limit in MB")
	cmd.Flags().IntVar(&params.CPUPercent, "cpu", 0, "panel server cpu limit in percent")

	_ = cmd.MarkFlagRequired("server-ip")
	_ = cmd.MarkFlagRequired("port")

	return cmd
}

// applyPanelDefaults fills unset panel sizing from the configuration.
func applyPanelDefaults(params *deploy.Parameters, a *app) {
	if params.MemoryMB == 0 {
		params.MemoryMB = a.cfg.Pterodactyl.DefaultMemoryMB
	}
	if params.DiskMB == 0 {
		params.DiskMB = a.cfg.Pterodactyl.DefaultDiskMB
	}
	if params.CPUPercent == 0 {
		params.CPUPercent = a.cfg.Pterodactyl.DefaultCPUPercent
	}
}
