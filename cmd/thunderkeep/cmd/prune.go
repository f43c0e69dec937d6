package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pruneCmd deletes the retained previous version.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the retained previous version.",
	Long: `Frees the disk held by the previous version once the active one is
trusted. Rollback is no longer possible afterwards. Pruning never happens
automatically.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pruned, err := buildManager(cfg).Prune(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if pruned == "" {
			_, _ = fmt.Fprintln(out, "No previous version retained, nothing to prune")
		} else {
			_, _ = fmt.Fprintf(out, "Pruned %s\n", pruned)
		}

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(pruneCmd)
}
