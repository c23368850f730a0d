package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/oshokin/bundle-updater/internal/config"
	"github.com/oshokin/bundle-updater/internal/domain/release"
	"github.com/oshokin/bundle-updater/internal/installer"
	"github.com/oshokin/bundle-updater/internal/logger"
)

// maxManifestSize bounds how much of a manifest response is read.
const maxManifestSize = 4 << 20

// Updater checks the configured endpoints for a newer release.
type Updater struct {
	endpoints      []string
	publicKey      string
	currentVersion *semver.Version
	// target is the running platform; arch feeds {{arch}} even with a custom target.
	target       release.Target
	customTarget string
	headers      http.Header
	timeout      time.Duration
	windows      config.Windows
	comparator   Comparator
	client       *http.Client

	executablePath string
	extractPath    string
	goos           string
	getenv         func(string) string

	launcher     installer.Launcher
	exit         func(code int)
	onBeforeExit func()
}

// Option customizes an Updater.
type Option func(*Updater)

// WithComparator replaces the default "remote is newer" rule.
func WithComparator(comparator Comparator) Option {
	return func(u *Updater) {
		u.comparator = comparator
	}
}

// WithTarget overrides the {{target}} placeholder and the static manifest lookup key.
func WithTarget(target string) Option {
	return func(u *Updater) {
		u.customTarget = target
	}
}

// WithHTTPClient sets the client used for manifest requests and downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(u *Updater) {
		u.client = client
	}
}

// WithExecutablePath sets the running executable, normally CurrentExecutable().
func WithExecutablePath(path string) Option {
	return func(u *Updater) {
		u.executablePath = path
	}
}

// WithExtractPath sets the installed artifact explicitly instead of deriving it
// from the executable path.
func WithExtractPath(path string) Option {
	return func(u *Updater) {
		u.extractPath = path
	}
}

// WithLauncher sets the process launcher used by the Windows installers.
func WithLauncher(launcher installer.Launcher) Option {
	return func(u *Updater) {
		u.launcher = launcher
	}
}

// WithExit replaces os.Exit after a Windows installer handoff.
func WithExit(exit func(code int)) Option {
	return func(u *Updater) {
		u.exit = exit
	}
}

// WithOnBeforeExit registers a hook that runs before the process exits for a Windows installer.
func WithOnBeforeExit(hook func()) Option {
	return func(u *Updater) {
		u.onBeforeExit = hook
	}
}

// withPlatform overrides the running OS, for tests.
func withPlatform(goos string, getenv func(string) string) Option {
	return func(u *Updater) {
		u.goos = goos
		u.getenv = getenv
	}
}

// New validates the configuration and returns an Updater for currentVersion.
func New(cfg *config.Config, currentVersion string, opts ...Option) (*Updater, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	current, err := semver.NewVersion(currentVersion)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", errInvalidCurrentVersion, currentVersion, err)
	}

	headers := make(http.Header, len(cfg.Headers))
	for key, value := range cfg.Headers {
		headers.Set(key, value)
	}

	u := &Updater{
		endpoints:      cfg.Endpoints,
		publicKey:      cfg.PublicKey,
		currentVersion: current,
		customTarget:   cfg.Target,
		headers:        headers,
		timeout:        cfg.Timeout,
		windows:        cfg.Windows,
		comparator:     DefaultComparator,
		client:         http.DefaultClient,
		goos:           runtime.GOOS,
		getenv:         os.Getenv,
	}

	for _, opt := range opts {
		opt(u)
	}

	target, err := release.TargetFor(u.goos, runtime.GOARCH)
	if err != nil {
		if u.customTarget == "" {
			return nil, err
		}

		target = release.Target{OS: u.goos, Arch: runtime.GOARCH}
	}

	u.target = target

	if u.executablePath == "" {
		if u.executablePath, err = CurrentExecutable(); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// CurrentVersion returns the running version.
func (u *Updater) CurrentVersion() *semver.Version {
	return u.currentVersion
}

// urlTarget is the value of {{target}}.
func (u *Updater) urlTarget() string {
	if u.customTarget != "" {
		return u.customTarget
	}

	return u.target.OS
}

// lookupKey is the key looked up in static manifests.
func (u *Updater) lookupKey() string {
	if u.customTarget != "" {
		return u.customTarget
	}

	return u.target.Key()
}

// Check queries the endpoints in order and returns the update to install, or
// nil when the server reports no update or the gate rejects the release.
func (u *Updater) Check(ctx context.Context) (*Update, error) {
	ctx = logger.WithName(ctx, "manifest")

	var lastErr error

	for _, template := range u.endpoints {
		url := ResolveEndpoint(template, u.currentVersion.String(), u.urlTarget(), u.target.Arch)

		logger.DebugKV(ctx, "Checking endpoint", "url", url)

		remote, noContent, err := u.fetchRelease(ctx, url)
		if err != nil {
			logger.WarnKV(ctx, "Endpoint failed", "url", url, "error", err)

			lastErr = err

			continue
		}

		if noContent {
			logger.InfoKV(ctx, "Endpoint reported no update", "url", url)

			return nil, nil //nolint:nilnil // No content means no update.
		}

		return u.evaluate(ctx, remote)
	}

	if lastErr == nil {
		return nil, ErrReleaseNotFound
	}

	return nil, fmt.Errorf("%w: %w", ErrReleaseNotFound, lastErr)
}

// fetchRelease reports noContent for 204 responses.
func (u *Updater) fetchRelease(ctx context.Context, url string) (*release.RemoteRelease, bool, error) {
	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("%w: build request for %s: %w", ErrNetwork, url, err)
	}

	req.Header = u.headers.Clone()
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, true, nil
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, false, fmt.Errorf("%w: %s returned %s", ErrNetwork, url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, false, fmt.Errorf("%w: read %s: %w", ErrNetwork, url, err)
	}

	remote, err := release.Parse(body)
	if err != nil {
		return nil, false, fmt.Errorf("parse manifest from %s: %w", url, err)
	}

	return remote, false, nil
}

// evaluate applies the gate and builds the Update.
func (u *Updater) evaluate(ctx context.Context, remote *release.RemoteRelease) (*Update, error) {
	if !u.comparator(u.currentVersion, remote) {
		logger.InfoKV(ctx, "No update available",
			"current", u.currentVersion.String(), "remote", remote.Version.String())

		return nil, nil //nolint:nilnil // The gate rejected the release.
	}

	platform, err := remote.Data.Resolve(u.lookupKey())
	if err != nil {
		return nil, err
	}

	extractPath := u.extractPath
	if extractPath == "" {
		if extractPath, err = extractPathFor(u.goos, u.executablePath, u.getenv); err != nil {
			return nil, err
		}
	}

	logger.InfoKV(ctx, "Update available",
		"current", u.currentVersion.String(), "remote", remote.Version.String(), "format", platform.Format)

	return &Update{
		CurrentVersion: u.currentVersion,
		Version:        remote.Version,
		Notes:          remote.Notes,
		PubDate:        remote.PubDate,
		Target:         u.lookupKey(),
		ExtractPath:    extractPath,
		DownloadURL:    platform.URL,
		Signature:      platform.Signature,
		Format:         platform.Format,
		Headers:        u.headers.Clone(),
		Timeout:        u.timeout,

		publicKey: u.publicKey,
		client:    u.client,
		installOptions: installer.Options{
			ExtractPath:    extractPath,
			ExecutablePath: u.executablePath,
			InstallMode:    u.windows.InstallMode,
			InstallerArgs:  u.windows.InstallerArgs,
			Launcher:       u.launcher,
			OnBeforeExit:   u.onBeforeExit,
			Exit:           u.exit,
			GOOS:           u.goos,
		},
	}, nil
}

// withTimeout applies timeout when it is set.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}
