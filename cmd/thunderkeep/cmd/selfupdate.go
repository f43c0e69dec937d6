package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thunderkeep/thunderkeep/internal/service/downloader"
	"github.com/thunderkeep/thunderkeep/internal/service/resolver"
	"github.com/thunderkeep/thunderkeep/internal/service/selfupdate"
)

// selfupdateCmd replaces this binary with the newest published build.
var selfupdateCmd = &cobra.Command{
	Use:   "selfupdate",
	Short: "Update this tool to its newest published build.",
	Long: `Checks the release manifest for a newer build of this tool, verifies its
checksum, and swaps the running executable in place. Fails when the manifest
publishes no updater entry.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		service := selfupdate.New(
			resolver.New(cfg.ManifestURL, cfg.Timeout, cfg.MaxRetries),
			downloader.New(cfg.CacheDir, cfg.Timeout, cfg.MaxRetries),
		)

		outcome, err := service.Run(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		if outcome.Updated {
			_, _ = fmt.Fprintf(out, "Updated thunderkeep %s -> %s\n", outcome.PreviousVersion, outcome.Version)
		} else {
			_, _ = fmt.Fprintf(out, "thunderkeep %s is up to date\n", outcome.Version)
		}

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(selfupdateCmd)
}
