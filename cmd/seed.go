package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [category...]",
		Short: "Queues discovery jobs for categories",
		Long: `Pushes one discovery job per category onto the discovery queue. Without
arguments the categories from stages.categories are used. Categories already
waiting in the queue are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			categories := resolveConfig(cmd.Context()).Stages.Categories
			if len(args) > 0 {
				categories = make([]int64, 0, len(args))
				for _, arg := range args {
					c, err := strconv.ParseInt(arg, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid category %q: %w", arg, err)
					}
					categories = append(categories, c)
				}
			}
			n, err := appInstance.Seed(cmd.Context(), categories)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d of %d categories\n", n, len(categories))
			return nil
		},
	}
}
