// Package cli implements the gateway's command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "nova-gateway — multi-tier inference gateway and orchestrator",
	Long: `nova-gateway routes queries across a pool of specialised inference
workers: it analyses each query, dispatches to one or more workers in
parallel, optionally synthesises their results, and fronts the whole thing
with auth, per-principal rate limiting, and a response cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
