package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/smallbiznis/bygglogg/internal/clock"
	"github.com/smallbiznis/bygglogg/internal/config"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis"
	"github.com/smallbiznis/bygglogg/internal/keylock"
	"github.com/smallbiznis/bygglogg/internal/observability"
	"github.com/smallbiznis/bygglogg/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bygglogg",
		Short: "Invoice basis engine for construction projects",
		Long: `bygglogg aggregates approved time, materials, expenses, mileage,
change orders (ÄTA) and site-diary entries of a project period into a
persisted invoice basis with per-VAT-rate totals.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newRefreshCmd(),
		newLockCmd(),
		newMigrateCmd(),
	)
	return root
}

// coreModules wires everything a one-shot command needs to run the engine.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		clock.Module,
		db.Module,
		keylock.Module,
		invoicebasis.Module,
	)
}

// runOnce starts an fx app, runs fn with the populated targets and stops the
// app again.
func runOnce(ctx context.Context, fn func(context.Context) error, opts ...fx.Option) error {
	app := fx.New(append([]fx.Option{fx.NopLogger}, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fx.DefaultTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
