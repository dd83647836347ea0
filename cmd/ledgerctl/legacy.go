package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/smallbiznis/agencyledger/internal/migration/legacy"
	"github.com/smallbiznis/agencyledger/internal/money"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var legacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Import the cash register history kept before the ledger",
}

var legacyStageCmd = &cobra.Command{
	Use:   "stage <file.json>",
	Short: "Append exported legacy rows to the staging table",
	Long: `stage reads a JSON array of legacy register rows, in the order they
were recorded, and appends them to the staging table. Nothing touches
the ledger until "legacy import" runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("%s: expected a json array: %w", args[0], err)
		}

		var importer *legacy.Importer
		return runWith(cmd, "ledgerctl.legacy", legacyStack(), func(ctx context.Context) error {
			staged, err := importer.Stage(ctx, items)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "staged %d rows\n", staged)
			return nil
		}, &importer)
	},
}

var legacyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replay staged rows into the ledger",
	Long: `import moves every staged row that has not been migrated yet into the
ledger, oldest first. It stops at the first row that cannot be imported;
fix the row and run it again to continue from there.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var importer *legacy.Importer
		return runWith(cmd, "ledgerctl.legacy", legacyStack(), func(ctx context.Context) error {
			report, err := importer.Run(ctx)
			if report != nil {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "run %s: imported %d, skipped %d\n", report.CorrelationID, report.Imported, report.Skipped)
				for _, w := range report.Warnings {
					fmt.Fprintf(out, "warning: %v\n", w)
				}
				fmt.Fprintf(out, "register total %s (cash %s, card %s, transfer %s)\n",
					money.Format(report.Register.Total), money.Format(report.Register.Cash),
					money.Format(report.Register.Card), money.Format(report.Register.Transfer))
			}
			var rowErr *legacy.RowError
			if errors.As(err, &rowErr) {
				return fmt.Errorf("stopped at %w", rowErr)
			}
			return err
		}, &importer)
	},
}

func legacyStack() fx.Option {
	return fx.Options(ledgerStack(), legacy.Module)
}

func init() {
	legacyCmd.AddCommand(legacyStageCmd, legacyImportCmd)
	rootCmd.AddCommand(legacyCmd)
}
