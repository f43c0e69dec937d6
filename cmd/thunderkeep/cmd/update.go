package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thunderkeep/thunderkeep/internal/service/installer"
)

// updateCmd runs the full pipeline: resolve, download, extract, swap.
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Download and install the newest release.",
	Long: `Runs the full update pipeline. The archive is verified against its
published checksum, extracted into staging, and promoted with an atomic link
swap; the live install is never in a partial state. When no newer release
exists the command succeeds without touching anything. The previous version
is retained for rollback.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		outcome, err := buildManager(cfg).Update(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if outcome.Status == installer.StatusUpToDate {
			_, _ = fmt.Fprintf(out, "Already up to date at %s\n", outcome.Version)
			return nil
		}

		if outcome.PreviousVersion != "" {
			_, _ = fmt.Fprintf(out, "Updated %s -> %s (previous version retained)\n",
				outcome.PreviousVersion, outcome.Version)
		} else {
			_, _ = fmt.Fprintf(out, "Installed %s\n", outcome.Version)
		}

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(updateCmd)
}
