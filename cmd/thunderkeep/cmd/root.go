package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thunderkeep/thunderkeep/internal/config"
	"github.com/thunderkeep/thunderkeep/internal/logger"
	"github.com/thunderkeep/thunderkeep/internal/repository/state"
	"github.com/thunderkeep/thunderkeep/internal/service/downloader"
	"github.com/thunderkeep/thunderkeep/internal/service/extractor"
	"github.com/thunderkeep/thunderkeep/internal/service/installer"
	"github.com/thunderkeep/thunderkeep/internal/service/resolver"
	"github.com/thunderkeep/thunderkeep/internal/version"
)

// Exit codes distinguish failure stages so wrapper scripts and cron jobs can
// react without parsing log output.
const (
	exitCodeOK              = 0
	exitCodeGeneral         = 1
	exitCodeResolve         = 2
	exitCodeDownload        = 3
	exitCodeExtract         = 4
	exitCodeCorruptState    = 5
	exitCodeAlreadyRunning  = 6
	exitCodeNothingToUnwind = 7
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel controls output verbosity (debug, info, warn, error).
	logLevel string

	// rootCmd represents the base command managing the mail client install.
	rootCmd = &cobra.Command{
		Use:   "thunderkeep",
		Short: "Keep an unprivileged Thunderbird install up to date.",
		Long: `Manages a per-user mail client installation without touching system
package management. Releases are resolved from a published manifest,
downloaded and checksum-verified into a cache, extracted into staging, and
promoted with a single atomic link swap. The previous version is retained
until pruned, so a bad release is one rollback away.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}
		},
	}
)

// Execute runs the thunderkeep CLI and exits with a stage-specific code on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "path to configuration file (default ~/"+config.DefaultConfigFilename+")")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
}

// signalContext is the base context for every subcommand run.
func signalContext() (context.Context, context.CancelFunc) {
	// Setup graceful shutdown handling.
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// loadConfig resolves the configuration path and loads settings.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	return config.Load(path)
}

// buildManager wires the full pipeline from configuration.
func buildManager(cfg *config.Config) *installer.Manager {
	return installer.NewManager(
		cfg.InstallRoot,
		state.NewFileRepository(cfg.StateFile),
		resolver.New(cfg.ManifestURL, cfg.Timeout, cfg.MaxRetries),
		downloader.New(cfg.CacheDir, cfg.Timeout, cfg.MaxRetries),
		extractor.New(installer.StagingDir(cfg.InstallRoot)),
		installer.WithAppExecutable("thunderbird"),
	)
}

// exitCodeFor maps pipeline failures to stage-specific exit codes.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitCodeOK
	case errors.Is(err, installer.ErrAlreadyRunning):
		return exitCodeAlreadyRunning
	case errors.Is(err, installer.ErrNothingToRollBack):
		return exitCodeNothingToUnwind
	case errors.Is(err, state.ErrCorrupt):
		return exitCodeCorruptState
	case errors.Is(err, resolver.ErrUnreachable), errors.Is(err, resolver.ErrMalformed),
		errors.Is(err, resolver.ErrNoUpdaterRelease):
		return exitCodeResolve
	case errors.Is(err, downloader.ErrTransport), errors.Is(err, downloader.ErrTruncated),
		errors.Is(err, downloader.ErrIntegrityMismatch):
		return exitCodeDownload
	case errors.Is(err, extractor.ErrCorrupt), errors.Is(err, extractor.ErrUnsafePath),
		errors.Is(err, extractor.ErrIncompleteBundle):
		return exitCodeExtract
	default:
		return exitCodeGeneral
	}
}
