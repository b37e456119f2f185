package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/app"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "auditctl",
	Short: "Operate the audit ingestion store and caches",
	Long: `auditctl runs one-off ingestion passes, reloads and queries the score
cache and resolves component owners against the configured store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env.local")
		_ = godotenv.Load(".env")
		return nil
	},
}

var debugMode bool

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
}

// withApp loads the configuration, opens the store and runs fn until the
// process is interrupted.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if debugMode {
		cfg.LogLevel = "debug"
	}
	if err := cfg.SetupLogging(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
