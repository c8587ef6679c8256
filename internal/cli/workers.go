package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nova-gateway/gateway/internal/daemon"
)

func init() {
	rootCmd.AddCommand(workersCmd)
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Probe the configured worker catalogue once and print its status",
	RunE:  runWorkers,
}

func runWorkers(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	deadline := time.Duration(d.Config.Workers.ProbeTimeoutS)*time.Second + 2*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	d.Registry.Run(ctx) // runs exactly one probe pass, then ctx expires and Run returns

	for _, w := range d.Registry.List() {
		status, _ := d.Registry.Status(w.Name)
		fmt.Printf("%-24s %-16s %-10s %6dms cpu=%.1f%% mem=%.0fMB\n",
			w.Name, w.Domain, status.State, status.ResponseTimeMs, status.CPUPct, status.MemoryMB)
	}
	return nil
}
