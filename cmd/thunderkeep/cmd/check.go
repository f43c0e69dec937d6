package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// checkCmd resolves the manifest and compares versions without touching the
// install.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether a newer release is published.",
	Long: `Fetches the release manifest and compares the newest release against the
installed version. Read-only: no lock is taken and nothing is downloaded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		result, err := buildManager(cfg).Check(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		switch {
		case result.CurrentVersion == "":
			_, _ = fmt.Fprintf(out, "Nothing installed yet, latest release is %s\n", result.LatestVersion)
		case result.UpdateAvailable:
			_, _ = fmt.Fprintf(out, "Update available: %s -> %s\n", result.CurrentVersion, result.LatestVersion)
		default:
			_, _ = fmt.Fprintf(out, "Up to date at %s\n", result.CurrentVersion)
		}

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(checkCmd)
}
