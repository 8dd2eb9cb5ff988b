package main

import (
	"github.com/smallbiznis/bygglogg/internal/migration"
	"github.com/smallbiznis/bygglogg/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{coreModules(), server.Module}
			if !skipMigrations {
				opts = append(opts, migration.Module)
			}
			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply embedded migrations on start")
	return cmd
}
