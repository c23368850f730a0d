package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/bundle-updater/internal/logger"
	"github.com/oshokin/bundle-updater/internal/service/packager"
	"github.com/oshokin/bundle-updater/internal/service/signer"
	"github.com/oshokin/bundle-updater/internal/version"
)

var (
	// logLevel is one of debug, info, warn, error.
	logLevel string

	// generateOptions are filled from the generate flags.
	generateOptions signer.GenerateOptions

	// signOptions are filled from the sign flags.
	signOptions signer.SignOptions

	// manifestOptions are filled from the manifest flags.
	manifestOptions packager.Options

	// rootCmd groups the release signing commands.
	rootCmd = &cobra.Command{
		Use:   "bundle-signer",
		Short: "Sign release artifacts and publish the update manifest",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}
		},
	}

	// generateCmd creates a signing keypair.
	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate a new signing keypair",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return signer.Generate(ctx, &generateOptions)
		},
	}

	// signCmd writes <file>.sig for every file.
	signCmd = &cobra.Command{
		Use:   "sign [file...]",
		Short: "Sign release artifacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			signOptions.Files = args

			return signer.Sign(ctx, &signOptions)
		},
	}

	// manifestCmd builds latest.json from signed artifacts.
	manifestCmd = &cobra.Command{
		Use:   "manifest [target=artifact...]",
		Short: "Build the static release manifest from signed artifacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			manifestOptions.Artifacts = args

			return packager.Run(ctx, &manifestOptions)
		},
	}
)

// Execute runs the bundle-signer CLI and exits with non-zero status on error.
func Execute() {
	rootCmd.AddCommand(version.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	generateCmd.Flags().StringVarP(&generateOptions.KeyPath, "write-keys", "w", "",
		"write the private key to this path and the public key to <path>.pub")
	generateCmd.Flags().StringVarP(&generateOptions.Password, "password", "p", "", "password for the private key")
	generateCmd.Flags().BoolVarP(&generateOptions.Force, "force", "f", false, "overwrite an existing key")

	signCmd.Flags().StringVarP(&signOptions.PrivateKey, "private-key", "k", "",
		"private key, falls back to $"+signer.PrivateKeyEnv)
	signCmd.Flags().StringVarP(&signOptions.PrivateKeyPath, "private-key-path", "f", "", "path to the private key")
	signCmd.Flags().StringVarP(&signOptions.Password, "password", "p", "",
		"private key password, falls back to $"+signer.PrivateKeyPasswordEnv)

	manifestCmd.Flags().StringVar(&manifestOptions.Version, "version", version.Short(), "release version")
	manifestCmd.Flags().StringVar(&manifestOptions.Notes, "notes", "", "release notes")
	manifestCmd.Flags().StringVarP(&manifestOptions.BaseURL, "base-url", "u", "",
		"URL of the folder the artifacts are uploaded to")
	manifestCmd.Flags().StringVarP(&manifestOptions.Output, "output", "o", packager.DefaultManifestFilename,
		"manifest output path")
	manifestCmd.Flags().StringVarP(&manifestOptions.ConfigPath, "write-config", "c", "",
		"also write a client configuration to this path")
	manifestCmd.Flags().StringVar(&manifestOptions.PublicKeyPath, "public-key-path", "",
		"public key embedded into the client configuration")

	_ = manifestCmd.MarkFlagRequired("base-url")
	manifestCmd.MarkFlagsRequiredTogether("write-config", "public-key-path")

	rootCmd.AddCommand(generateCmd, signCmd, manifestCmd)
}
