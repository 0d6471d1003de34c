package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"veriledger/internal/ledger"
	"veriledger/internal/ledger/correction"
	"veriledger/internal/ledger/store"
	"veriledger/internal/platform/postgres"
	auditpostgres "veriledger/pkg/platform/audit/store/postgres"
	txcontext "veriledger/pkg/platform/tx"
)

func newSweepCmd() *cobra.Command {
	var (
		databaseURL string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Verify every chain in the ledger database once",
		Long: `sweep runs the same full-chain verification as the nightly worker.
Broken chains are flagged suspect, audited and alerted exactly as they would
be by the service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return errors.New("--database-url or LEDGER_DATABASE_URL is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runSweep(ctx, databaseURL, concurrency)
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("LEDGER_DATABASE_URL"), "Postgres connection URL")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Scopes verified in parallel")
	return cmd
}

func runSweep(ctx context.Context, databaseURL string, concurrency int) error {
	db, err := postgres.Open(ctx, postgres.Config{URL: databaseURL, MaxOpenConns: concurrency + 2})
	if err != nil {
		return err
	}
	defer db.Close()

	module := ledger.New(ledger.Stores{
		Ledger:      store.NewPostgres(db),
		Corrections: correction.NewPostgresStore(db),
		Audit:       auditpostgres.New(db),
		Tx:          txcontext.NewPostgresRunner(db),
	}, ledger.Options{OpsSampleRate: 1, Logger: slog.Default()})
	defer func() { _ = module.Close(context.Background()) }()

	report, err := module.Verifier.Sweep(ctx, concurrency)
	if report == nil {
		return err
	}
	if outputFlag == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	} else {
		fmt.Printf("Scopes:  %d (%d unreadable)\n", report.Scopes, report.Failed)
		fmt.Printf("Checked: %d entries in %s\n", report.Checked, report.Duration)
		for _, b := range report.Broken {
			fmt.Printf("BROKEN   %s at seq %d (%s)\n", b.Scope.Key(), b.FirstBreakAt, b.Reason)
		}
	}
	if len(report.Broken) > 0 {
		return errors.Join(errChainBroken, err)
	}
	return err
}
