package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/app"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Inspect the score aggregation cache",
}

var scoresReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Recompute the scores of the trailing window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			return a.Scores.Reload(ctx)
		})
	},
}

var scoresDate string

var scoresGetCmd = &cobra.Command{
	Use:   "get [component-id]",
	Short: "Print the counters of a component on one day (default Overall, today)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		componentID := model.OverallID
		if len(args) == 1 {
			componentID = args[0]
		}
		date := time.Now().UTC()
		if scoresDate != "" {
			var err error
			if date, err = time.Parse(time.DateOnly, scoresDate); err != nil {
				return err
			}
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			counters, err := a.Scores.Get(ctx, componentID, date)
			if err != nil {
				return err
			}
			out := struct {
				Component string `json:"component"`
				Date      string `json:"date"`
				Score     int    `json:"score"`
				model.CountersSummary
			}{componentID, model.Day(date).Format(time.DateOnly), counters.Score(), counters}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		})
	},
}

func init() {
	scoresGetCmd.Flags().StringVar(&scoresDate, "date", "", "UTC day as YYYY-MM-DD")
	scoresCmd.AddCommand(scoresReloadCmd, scoresGetCmd)
	rootCmd.AddCommand(scoresCmd)
}
