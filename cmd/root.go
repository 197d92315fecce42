// Package cmd defines the CLI commands of the snowball crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/app"
	"github.com/JakeFAU/snowball-crawler/internal/config"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
	"github.com/JakeFAU/snowball-crawler/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey    appKeyType = "app"
	configKey appKeyType = "config"
)

// App is what the subcommands need from the application container.
type App interface {
	Run(ctx context.Context) error
	Seed(ctx context.Context, categories []int64) (int, error)
	Queues() queue.Store
	Records() store.Store
	Logger() *zap.Logger
	Close(ctx context.Context)
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "snowball",
		Short: "Incremental crawler for Snowball articles and comment threads.",
		Long: `snowball discovers articles per category, snapshots every article version,
follows each article's comment thread incrementally and joins both into
schema documents. Stages communicate through durable queues and resume
from watermarks kept in the record store.`,
		SilenceUsage: true,

		// Builds the application once config is known and before the
		// subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			ctx = context.WithValue(ctx, configKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables use the SNOWBALL_ prefix)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newInspectCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) config.Config {
	cfg, _ := ctx.Value(configKey).(config.Config)
	return cfg
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
