package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oshokin/bundle-updater/internal/config"
	"github.com/oshokin/bundle-updater/internal/installer"
	"github.com/oshokin/bundle-updater/internal/logger"
	"github.com/oshokin/bundle-updater/internal/updater"
)

var errUpdaterAlreadyRunning = errors.New("the updater is already running")

// Options are inputs accepted by the updater entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// CurrentVersion is the version of the installed application.
	CurrentVersion string
	// ExecutablePath is the installed application's executable.
	ExecutablePath string
	// ExtractPath overrides the artifact to replace.
	ExtractPath string
	// Target overrides the configured target.
	Target string
	// LogLevel overrides the log_level setting when set.
	LogLevel string
	// Install downloads and installs the update instead of only reporting it.
	Install bool
	// Launcher overrides the Windows installer launcher.
	Launcher installer.Launcher
	// Exit overrides os.Exit after a Windows installer handoff.
	Exit func(code int)
}

// Result reports what a run found and did.
type Result struct {
	// CurrentVersion is the running version the release was compared against.
	CurrentVersion string
	// Update is nil when no update is available.
	Update *updater.Update
	// Installed is set when the update was installed.
	Installed bool
}

// runner holds the state of a single check or install.
// It is unexported; callers use Run.
type runner struct {
	opts    *Options
	cfg     *config.Config
	updater *updater.Updater
	// markerPath is set while an install holds the marker.
	markerPath string
}

// Run checks for an update and installs it when asked to.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "bundle-updater")

	r, err := newRunner(opts)
	if err != nil {
		return nil, err
	}

	result, err := r.Run(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Updater run failed", "error", err)

		return nil, err
	}

	logger.Info(ctx, "Updater completed")

	return result, nil
}

// logLevel prefers the command line over the configuration file.
func logLevel(opts *Options, settings *config.Config) string {
	if opts.LogLevel != "" {
		return opts.LogLevel
	}

	return settings.LogLevel
}

func newRunner(opts *Options) (*runner, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigFilename
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if level, ok := logger.ParseLogLevel(logLevel(opts, settings)); ok {
		logger.SetLevel(level)
	}

	r := &runner{opts: opts, cfg: settings}

	updaterOptions := []updater.Option{
		updater.WithExecutablePath(opts.ExecutablePath),
		// Deferred cleanup does not run when a Windows installer takes over.
		updater.WithOnBeforeExit(r.releaseMarker),
	}

	if opts.ExtractPath != "" {
		updaterOptions = append(updaterOptions, updater.WithExtractPath(opts.ExtractPath))
	}

	if opts.Target != "" {
		updaterOptions = append(updaterOptions, updater.WithTarget(opts.Target))
	}

	if opts.Launcher != nil {
		updaterOptions = append(updaterOptions, updater.WithLauncher(opts.Launcher))
	}

	if opts.Exit != nil {
		updaterOptions = append(updaterOptions, updater.WithExit(opts.Exit))
	}

	if r.updater, err = updater.New(settings, opts.CurrentVersion, updaterOptions...); err != nil {
		return nil, err
	}

	return r, nil
}

// Run executes the workflow:
// 1) Query the endpoints.
// 2) Report the update.
// 3) Download, verify and install it when requested.
func (r *runner) Run(ctx context.Context) (*Result, error) {
	logger.InfoKV(ctx, "Checking for updates", "current_version", r.updater.CurrentVersion().String())

	update, err := r.updater.Check(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{CurrentVersion: r.updater.CurrentVersion().String()}

	if update == nil {
		logger.Info(ctx, "The application is up to date")

		return result, nil
	}

	logger.InfoKV(ctx, "Update available",
		"version", update.Version.String(),
		"target", update.Target,
		"format", update.Format,
		"url", update.DownloadURL)

	if update.Notes != "" {
		logger.InfoKV(ctx, "Release notes", "notes", update.Notes)
	}

	result.Update = update

	if !r.opts.Install {
		return result, nil
	}

	if err = r.install(ctx, update); err != nil {
		return nil, err
	}

	result.Installed = true

	return result, nil
}

// install downloads and installs the update while holding the marker file.
func (r *runner) install(ctx context.Context, update *updater.Update) error {
	markerPath := MarkerPath(update.ExtractPath)

	if IsUpdaterRunningNow(ctx, markerPath) {
		return errUpdaterAlreadyRunning
	}

	if err := createMarker(markerPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return errUpdaterAlreadyRunning
		}

		return fmt.Errorf("create update marker: %w", err)
	}

	r.markerPath = markerPath
	defer r.releaseMarker()

	reporter := &progress{ctx: ctx}

	return update.DownloadAndInstall(ctx, reporter.onChunk, reporter.onFinished)
}

func (r *runner) releaseMarker() {
	if r.markerPath == "" {
		return
	}

	_ = os.Remove(r.markerPath)
	r.markerPath = ""
}

// Print writes a one-line summary for scripts:
//
//	up-to-date 1.0.0
//	available 1.0.0 1.2.0 linux-x86_64 appimage
//	installed 1.0.0 1.2.0 linux-x86_64 appimage
func (r *Result) Print(w io.Writer) error {
	if r.Update == nil {
		_, err := fmt.Fprintln(w, "up-to-date", r.CurrentVersion)

		return err
	}

	status := "available"
	if r.Installed {
		status = "installed"
	}

	_, err := fmt.Fprintln(w, status, r.CurrentVersion, r.Update.Version.String(), r.Update.Target, r.Update.Format)

	return err
}
