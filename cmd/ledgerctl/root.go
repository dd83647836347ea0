package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/alerting"
	"github.com/smallbiznis/agencyledger/internal/audit"
	"github.com/smallbiznis/agencyledger/internal/auditcontext"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	"github.com/smallbiznis/agencyledger/internal/clock"
	"github.com/smallbiznis/agencyledger/internal/config"
	"github.com/smallbiznis/agencyledger/internal/ledger"
	"github.com/smallbiznis/agencyledger/internal/migration"
	"github.com/smallbiznis/agencyledger/internal/numbering"
	"github.com/smallbiznis/agencyledger/internal/observability"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// CLI ids come from their own node so they never collide with the API's.
const cliNodeID = 2

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Administrative tasks for the agency ledger",
	Long: `ledgerctl runs one-off ledger maintenance: schema migrations, the
import of the pre-ledger cash register history and on-demand
reconciliation. Configuration is read from the same environment
variables as the API server.`,
	SilenceUsage: true,
}

var timeout time.Duration

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Abort the command after this long")
}

func newNode() (*snowflake.Node, error) {
	return snowflake.NewNode(cliNodeID)
}

// ledgerStack is the service graph shared by the commands that write to
// the ledger.
func ledgerStack() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(newNode),
		db.Module,
		clock.Module,
		migration.Module,
		alerting.Module,
		authorization.Module,
		audit.Module,
		numbering.Module,
		ledger.Module,
	)
}

// runWith starts an app built from opts, fills targets and calls fn under
// the system actor named name.
func runWith(cmd *cobra.Command, name string, opts fx.Option, fn func(ctx context.Context) error, targets ...any) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	app := fx.New(opts, fx.Populate(targets...), fx.NopLogger)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	ctx = auditcontext.WithActor(ctx, auditcontext.SystemActor(name))
	return fn(ctx)
}
