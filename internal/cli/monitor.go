package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/safesh/safesh/internal/monitor"
)

func newMonitorCmd() *cobra.Command {
	var (
		processes int
		disk      bool
		network   bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show a system resource snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			root, err := filepath.Abs(cfg.Safety.AllowedRoot)
			if err != nil {
				return err
			}
			snap, err := monitor.New(root).Snapshot(cmd.Context(), monitor.Options{
				TopProcesses: processes,
				Disk:         disk,
				Network:      network,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, snap)
			}
			fmt.Fprint(cmd.OutOrStdout(), snap.Render())
			return nil
		},
	}
	cmd.Flags().IntVarP(&processes, "processes", "p", 0, "include the top N processes by CPU")
	cmd.Flags().BoolVarP(&disk, "disk", "d", false, "include per-partition disk usage")
	cmd.Flags().BoolVarP(&network, "network", "n", false, "include network interface counters")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the snapshot as JSON")
	return cmd
}
