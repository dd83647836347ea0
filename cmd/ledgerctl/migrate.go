package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/agencyledger/internal/clock"
	"github.com/smallbiznis/agencyledger/internal/config"
	"github.com/smallbiznis/agencyledger/internal/migration"
	"github.com/smallbiznis/agencyledger/internal/observability"
	"github.com/smallbiznis/agencyledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var conn *gorm.DB
		return runWith(cmd, "ledgerctl.migrate", schemaStack(), func(context.Context) error {
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", conn.Dialector.Name())
			return nil
		}, &conn)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var conn *gorm.DB
		return runWith(cmd, "ledgerctl.migrate", schemaStack(), func(context.Context) error {
			if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
				fmt.Fprintf(cmd.OutOrStdout(), "%s schema is auto-migrated from the models\n", conn.Dialector.Name())
				return nil
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			version, dirty, err := migration.Version(sqlDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
			return nil
		}, &conn)
	},
}

func schemaStack() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,
		migration.Module,
	)
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}
