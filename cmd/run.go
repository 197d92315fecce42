package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs every crawl stage and the admin server until interrupted",
		Long: `Starts the discovery, article, comment and join runners plus the admin
HTTP server. SIGINT or SIGTERM requeues each runner's in-flight item and
exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run pipeline: %w", err)
			}
			return nil
		},
	}
}
