// Package cli implements the infercored command-line interface using Cobra:
// serve runs the daemon, infer/stats/report are operator-facing utilities
// against the same wiring.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "infercored",
	Short: "infercored — multi-tenant local inference serving core",
	Long: `infercored binds the hardware probe, selection policy, warm pool, quota
limiter, and resilience primitives behind a single-process serving core.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to infercored.toml (defaults applied if absent)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reportCmd)
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
