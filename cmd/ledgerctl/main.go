// Package main provides ledgerctl, the operator and auditor tool for the
// ledger: offline verification of exports, on-demand sweeps and token minting.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	outputFlag string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate and audit the veriledger hash chains",
		Long: `ledgerctl verifies exported chains without access to the service,
runs integrity sweeps against the ledger database and mints access tokens
for operators.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(newVerifyExportCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
