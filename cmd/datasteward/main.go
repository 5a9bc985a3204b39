// Command datasteward is the operator CLI: it runs pipeline jobs in process,
// manages datasets and buckets, and sends signed triggers to the API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/DataSteward/internal/app"
	"github.com/dharsanguruparan/DataSteward/internal/config"
)

var (
	envFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "datasteward: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasteward",
		Short: "EHR submission curation CLI",
		Long: `datasteward runs submission validation, the EHR union and retractions directly
against the configured warehouse and object store, manages the environment's datasets
and buckets, and triggers the API's cron endpoints.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.AddCommand(
		newValidateCmd(),
		newValidateAllCmd(),
		newCopyCmd(),
		newUnionCmd(),
		newRetractCmd(),
		newSiteCmd(),
		newRunsCmd(),
		newEnvCmd(),
		newCleanDatasetsCmd(),
		newTriggerCmd(),
		newDevCmd(),
	)
	return cmd
}

func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return config.Load()
}

// withApp opens the wired application for the duration of fn.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
