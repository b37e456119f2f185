package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/app"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the store schema",
}

var schemaEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create missing tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := app.EnsureSchema(ctx, a.Store); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ensured (%s)\n", a.Config.DatabaseDriver)
			return nil
		})
	},
}

func init() {
	schemaCmd.AddCommand(schemaEnsureCmd)
	rootCmd.AddCommand(schemaCmd)
}
