package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/app"
)

var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Resolve component owners",
}

var ownerGetCmd = &cobra.Command{
	Use:   "get <component-id>",
	Short: "Print the owner of a component, inherited from its ancestors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			owner, err := a.Owners.GetOwner(ctx, args[0])
			if err != nil {
				return err
			}
			if owner == "" {
				owner = "(none)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), owner)
			return nil
		})
	},
}

func init() {
	ownerCmd.AddCommand(ownerGetCmd)
	rootCmd.AddCommand(ownerCmd)
}
