package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/bygglogg/internal/config"
	"github.com/smallbiznis/bygglogg/internal/migration"
	"github.com/smallbiznis/bygglogg/internal/observability"
	"github.com/smallbiznis/bygglogg/pkg/db"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), func(context.Context) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return err
			}, config.Module, observability.Module, db.Module, migration.Module)
		},
	}
}
