package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thunderkeep/thunderkeep/internal/config"
)

var manifestURL string

// initCmd writes a starter settings file so the other commands have a
// manifest to talk to.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with defaults.",
	Long: `Writes the settings file with the given manifest URL and the default
install root, cache and state locations. Existing settings are overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}

		cfg := &config.Config{ManifestURL: manifestURL}
		if err := config.Save(path, cfg); err != nil {
			return err
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", path)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	initCmd.Flags().StringVarP(&manifestURL, "manifest-url", "m", "", "URL of the release manifest")
	_ = initCmd.MarkFlagRequired("manifest-url")

	rootCmd.AddCommand(initCmd)
}
