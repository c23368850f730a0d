package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// InstallMode controls how much UI the Windows installers show.
type InstallMode string

const (
	// InstallModeBasicUI shows the installer's basic UI and waits for the user.
	InstallModeBasicUI InstallMode = "basicUi"
	// InstallModeQuiet runs the installer without any UI. Requires admin rights for per-machine installs.
	InstallModeQuiet InstallMode = "quiet"
	// InstallModePassive shows a progress bar only.
	InstallModePassive InstallMode = "passive"
)

// Windows holds the installer options that only matter on Windows.
type Windows struct {
	// InstallMode selects the NSIS/MSI switches passed to the installer.
	InstallMode InstallMode `yaml:"install_mode"`
	// InstallerArgs are appended verbatim to the installer command line.
	InstallerArgs []string `yaml:"installer_args,omitempty"`
}

// Config holds the updater settings shared by the bundle binaries.
type Config struct {
	// Endpoints are URL templates queried in order for the release manifest.
	// Supported placeholders: {{current_version}}, {{target}}, {{arch}}.
	Endpoints []string `yaml:"endpoints"`
	// PublicKey is the base64 encoded public key box used to verify artifacts.
	PublicKey string `yaml:"pubkey"`
	// Timeout bounds every manifest request and every artifact download.
	Timeout time.Duration `yaml:"timeout"`
	// Headers are added to manifest and download requests.
	Headers map[string]string `yaml:"headers,omitempty"`
	// Target overrides the "<os>-<arch>" lookup key and the {{target}} placeholder.
	Target string `yaml:"target,omitempty"`
	// Windows carries Windows-only installer options.
	Windows Windows `yaml:"windows"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for updater settings.
	DefaultConfigFilename = "bundle-updater.yaml"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// ErrNoEndpoints is returned when no update endpoint is configured.
	ErrNoEndpoints = errors.New("at least one update endpoint must be provided")
	// errPublicKeyRequired is returned when the public key is missing.
	errPublicKeyRequired = errors.New("public key must be provided")
	// errInvalidEndpoint is returned for endpoints that are not absolute http(s) URLs.
	errInvalidEndpoint = errors.New("invalid update endpoint")
	// errInvalidInstallMode is returned for unknown Windows install modes.
	errInvalidInstallMode = errors.New("invalid windows install mode")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if len(settings.Endpoints) == 0 {
		return ErrNoEndpoints
	}

	for _, endpoint := range settings.Endpoints {
		if err := validateEndpoint(endpoint); err != nil {
			return err
		}
	}

	if strings.TrimSpace(settings.PublicKey) == "" {
		return errPublicKeyRequired
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	switch settings.Windows.InstallMode {
	case "":
		settings.Windows.InstallMode = InstallModePassive
	case InstallModeBasicUI, InstallModeQuiet, InstallModePassive:
	default:
		return fmt.Errorf("%w: %q", errInvalidInstallMode, settings.Windows.InstallMode)
	}

	return nil
}

// validateEndpoint checks that the template is an absolute http(s) URL once placeholders are ignored.
func validateEndpoint(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w %q: %w", errInvalidEndpoint, endpoint, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w %q: scheme must be http or https", errInvalidEndpoint, endpoint)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%w %q: host is empty", errInvalidEndpoint, endpoint)
	}

	return nil
}
