package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/agencyledger/internal/cache"
	"github.com/smallbiznis/agencyledger/internal/money"
	"github.com/smallbiznis/agencyledger/internal/reconciliation"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare the cash register with the ledger once",
	Long: `reconcile recomputes every balance from the active ledger transactions
and compares it with the stored cash register. Drift is reported and
alerted, never corrected. The command exits non-zero on drift.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var runner *reconciliation.Runner
		stack := fx.Options(
			ledgerStack(),
			cache.Module,
			fx.Provide(reconciliation.NewReconciler, reconciliation.NewRunner),
		)
		return runWith(cmd, "ledgerctl.reconcile", stack, func(ctx context.Context) error {
			report, err := runner.RunOnce(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if report == nil {
				fmt.Fprintln(out, "another reconciliation is running, skipped")
				return nil
			}
			if report.Balanced() {
				fmt.Fprintf(out, "register balanced at %s\n", money.Format(report.Register.Total))
				return nil
			}
			for _, d := range report.Drift {
				fmt.Fprintf(out, "%s: register %s, ledger %s\n", d.Balance, money.Format(d.Register), money.Format(d.Expected))
			}
			return fmt.Errorf("register drift on %d balances", len(report.Drift))
		}, &runner)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
