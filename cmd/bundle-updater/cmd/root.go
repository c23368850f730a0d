package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/bundle-updater/internal/config"
	"github.com/oshokin/bundle-updater/internal/service/updater"
	"github.com/oshokin/bundle-updater/internal/version"
)

var (
	// options are filled from the flags shared by check and install.
	options updater.Options

	// rootCmd groups the update commands.
	rootCmd = &cobra.Command{
		Use:   "bundle-updater",
		Short: "Check for, download and install signed application updates",
	}

	// checkCmd reports an available update.
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Check the configured endpoints for a newer release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, false)
		},
	}

	// installCmd downloads, verifies and installs an available update.
	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Download, verify and install a newer release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, true)
		},
	}
)

// run prints the result to stdout; logs go to stderr.
func run(cmd *cobra.Command, install bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	options.Install = install

	result, err := updater.Run(ctx, &options)
	if err != nil {
		return err
	}

	return result.Print(cmd.OutOrStdout())
}

// Execute runs the bundle-updater CLI and exits with non-zero status on error.
func Execute(executablePath string) {
	options.ExecutablePath = executablePath

	rootCmd.AddCommand(version.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&options.ConfigPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVar(&options.CurrentVersion, "current-version", version.Short(),
		"version of the installed application")
	flags.StringVar(&options.ExtractPath, "extract-path", "",
		"installed artifact to replace (AppImage file, .app bundle or install directory)")
	flags.StringVar(&options.Target, "target", "", "override the <os>-<arch> target")
	flags.StringVar(&options.LogLevel, "log-level", "",
		"log level: debug, info, warn, error (defaults to log_level from the configuration)")

	rootCmd.AddCommand(checkCmd, installCmd)
}
