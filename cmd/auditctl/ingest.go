package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/app"
)

var ingestOnce bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest unprocessed audit batches from object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := app.EnsureSchema(ctx, a.Store); err != nil {
				return err
			}
			blobs, err := a.Blobs()
			if err != nil {
				return err
			}
			r := a.Runner(blobs)
			if !ingestOnce {
				return r.RunForever(ctx)
			}
			if err := r.ProcessPass(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ingestion pass completed")
			return nil
		})
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestOnce, "once", false, "run a single pass and exit")
	rootCmd.AddCommand(ingestCmd)
}
