package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// rollbackCmd repoints the install at the retained previous version.
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Switch back to the previously installed version.",
	Long: `Repoints the install at the version retained by the last update. The swap
is the same atomic link replacement used during updates. Fails when no
previous version is retained.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		outcome, err := buildManager(cfg).Rollback(ctx)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Rolled back to %s (abandoned %s)\n",
			outcome.Version, outcome.PreviousVersion)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(rollbackCmd)
}
