package packager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/oshokin/bundle-updater/internal/config"
	"github.com/oshokin/bundle-updater/internal/domain/release"
	"github.com/oshokin/bundle-updater/internal/logger"
	"github.com/oshokin/bundle-updater/internal/signing"
)

const (
	// DefaultManifestFilename is the manifest written when no output is given.
	DefaultManifestFilename = "latest.json"
	// manifestFileMode is the mode of the written manifest.
	manifestFileMode os.FileMode = 0o644
)

var (
	errNoArtifacts      = errors.New("at least one artifact is required")
	errInvalidArtifact  = errors.New("artifact must be given as <target>=<path>")
	errDuplicateTarget  = errors.New("duplicate target")
	errMissingSignature = errors.New("signature file not found, sign the artifact first")
	errInvalidBaseURL   = errors.New("base url must be an absolute http(s) url")
)

// Options contains inputs for the manifest workflow.
type Options struct {
	// Version is the semantic version of the release.
	Version string
	// Notes are optional release notes.
	Notes string
	// PubDate is the publication date. Zero means now.
	PubDate time.Time
	// BaseURL is the folder the artifacts are uploaded to.
	BaseURL string
	// Artifacts are "<target>=<path>" pairs, e.g. linux-x86_64=dist/app.AppImage.
	Artifacts []string
	// Output is the manifest path (defaults to latest.json).
	Output string
	// ConfigPath, when set, receives a client configuration pointing at the manifest.
	ConfigPath string
	// PublicKeyPath is the public key embedded into the client configuration.
	PublicKeyPath string
}

// artifact is one parsed "<target>=<path>" pair.
type artifact struct {
	target string
	path   string
}

// packager builds the static release manifest.
// It is unexported; callers use Run.
type packager struct {
	opts      *Options
	baseURL   *url.URL
	artifacts []artifact
	manifest  *release.RemoteRelease
}

// Run builds, validates and writes the manifest.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "bundle-signer")

	pkg, err := newPackager(opts)
	if err != nil {
		return fmt.Errorf("initialize packager: %w", err)
	}

	if err = pkg.Run(ctx); err != nil {
		return fmt.Errorf("packager failed: %w", err)
	}

	logger.Info(ctx, "Manifest completed successfully")

	return nil
}

func newPackager(opts *Options) (*packager, error) {
	if len(opts.Artifacts) == 0 {
		return nil, errNoArtifacts
	}

	if _, err := semver.NewVersion(opts.Version); err != nil {
		return nil, fmt.Errorf("release version %q: %w", opts.Version, err)
	}

	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil || (baseURL.Scheme != "http" && baseURL.Scheme != "https") || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: %q", errInvalidBaseURL, opts.BaseURL)
	}

	pkg := &packager{
		opts:      opts,
		baseURL:   baseURL,
		artifacts: make([]artifact, 0, len(opts.Artifacts)),
	}

	seen := make(map[string]struct{}, len(opts.Artifacts))

	for _, value := range opts.Artifacts {
		target, path, ok := strings.Cut(value, "=")
		target, path = strings.TrimSpace(target), strings.TrimSpace(path)

		if !ok || target == "" || path == "" {
			return nil, fmt.Errorf("%w: %q", errInvalidArtifact, value)
		}

		if _, exists := seen[target]; exists {
			return nil, fmt.Errorf("%w: %s", errDuplicateTarget, target)
		}

		seen[target] = struct{}{}
		pkg.artifacts = append(pkg.artifacts, artifact{target: target, path: path})
	}

	return pkg, nil
}

// Run fills and writes the manifest, then the optional client configuration.
func (p *packager) Run(ctx context.Context) error {
	logger.Info(ctx, "Preparing release manifest")

	if err := p.fillManifest(ctx); err != nil {
		return err
	}

	output := p.output()

	logger.InfoKV(ctx, "Saving release manifest", "path", output)

	if err := p.saveManifest(output); err != nil {
		return err
	}

	if p.opts.ConfigPath != "" {
		if err := p.saveClientConfig(ctx, output); err != nil {
			return err
		}
	}

	p.printNextSteps(ctx, output)

	return nil
}

// fillManifest builds a platform entry for every artifact.
func (p *packager) fillManifest(ctx context.Context) error {
	version, err := semver.NewVersion(p.opts.Version)
	if err != nil {
		return err
	}

	pubDate := p.opts.PubDate
	if pubDate.IsZero() {
		pubDate = time.Now()
	}

	pubDate = pubDate.UTC().Truncate(time.Second)

	platforms := make(map[string]release.PlatformUpdate, len(p.artifacts))

	for _, item := range p.artifacts {
		format, err := release.FormatFromFilename(item.path)
		if err != nil {
			return err
		}

		if _, err = os.Stat(item.path); err != nil {
			return fmt.Errorf("artifact %s: %w", item.path, err)
		}

		signature, err := os.ReadFile(signing.SignatureFilePath(item.path))
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", errMissingSignature, item.path)
		} else if err != nil {
			return fmt.Errorf("read signature of %s: %w", item.path, err)
		}

		platforms[item.target] = release.PlatformUpdate{
			URL:       p.baseURL.JoinPath(filepath.Base(item.path)).String(),
			Signature: strings.TrimSpace(string(signature)),
			Format:    format,
		}

		logger.DebugKV(ctx, "Added artifact", "target", item.target, "format", format)
	}

	p.manifest = &release.RemoteRelease{
		Version: version,
		Notes:   p.opts.Notes,
		PubDate: &pubDate,
		Data:    release.Data{Kind: release.KindStatic, Static: platforms},
	}

	return nil
}

// saveManifest validates the encoded manifest the way clients will and writes it.
func (p *packager) saveManifest(output string) error {
	contents, err := json.MarshalIndent(p.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if _, err = release.Parse(contents); err != nil {
		return fmt.Errorf("validate manifest: %w", err)
	}

	if dir := filepath.Dir(output); dir != "." {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return os.WriteFile(output, append(contents, '\n'), manifestFileMode)
}

// saveClientConfig writes an updater configuration pointing at the manifest.
func (p *packager) saveClientConfig(ctx context.Context, output string) error {
	publicKey, err := os.ReadFile(filepath.Clean(p.opts.PublicKeyPath))
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}

	settings := &config.Config{
		Endpoints: []string{p.baseURL.JoinPath(filepath.Base(output)).String()},
		PublicKey: strings.TrimSpace(string(publicKey)),
	}

	if err = config.Save(p.opts.ConfigPath, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	logger.InfoKV(ctx, "Saved client configuration", "path", p.opts.ConfigPath)

	return nil
}

func (p *packager) output() string {
	if p.opts.Output == "" {
		return DefaultManifestFilename
	}

	return p.opts.Output
}

// printNextSteps logs which files to upload and where.
func (p *packager) printNextSteps(ctx context.Context, output string) {
	files := make([]string, 0, 2*len(p.artifacts)+1)
	for _, item := range p.artifacts {
		files = append(files, item.path, signing.SignatureFilePath(item.path))
	}

	sort.Strings(files)
	files = append(files, output)

	var builder strings.Builder

	builder.WriteString("You should upload the following files to ")
	builder.WriteString(p.baseURL.String())
	builder.WriteString(":\n")
	builder.WriteString(strings.Join(files, ",\n"))

	if p.opts.ConfigPath != "" {
		builder.WriteString("\n\nShip ")
		builder.WriteString(p.opts.ConfigPath)
		builder.WriteString(" next to bundle-updater on client machines.")
	}

	logger.Info(ctx, builder.String())
}
