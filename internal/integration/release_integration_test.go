//go:build linux

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/bundle-updater/internal/config"
	"github.com/oshokin/bundle-updater/internal/domain/release"
	"github.com/oshokin/bundle-updater/internal/service/packager"
	"github.com/oshokin/bundle-updater/internal/service/signer"
	upd "github.com/oshokin/bundle-updater/internal/service/updater"
	"github.com/oshokin/bundle-updater/internal/signing"
	"github.com/oshokin/bundle-updater/internal/updater"
)

// pipeline is a published release served over HTTP.
type pipeline struct {
	configPath string
	artifact   string
	payload    []byte
}

// publishRelease generates keys, signs an AppImage, writes latest.json and a
// client configuration, and serves the dist folder.
func publishRelease(t *testing.T, version string) *pipeline {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dir := t.TempDir()
	dist := filepath.Join(dir, "dist")
	require.NoError(t, os.MkdirAll(dist, 0o755))

	server := httptest.NewServer(http.FileServer(http.Dir(dist)))
	t.Cleanup(server.Close)

	keyPath := filepath.Join(dir, "keys", "bundle.key")
	require.NoError(t, signer.Generate(ctx, &signer.GenerateOptions{KeyPath: keyPath}))

	payload := []byte("#!/bin/sh\necho " + version + "\n")
	artifact := filepath.Join(dist, "bundle_"+version+"_amd64.AppImage")
	require.NoError(t, os.WriteFile(artifact, payload, 0o755))

	require.NoError(t, signer.Sign(ctx, &signer.SignOptions{PrivateKeyPath: keyPath, Files: []string{artifact}}))

	configPath := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, packager.Run(ctx, &packager.Options{
		Version:       version,
		BaseURL:       server.URL + "/",
		Artifacts:     []string{"linux-x86_64=" + artifact},
		Output:        filepath.Join(dist, packager.DefaultManifestFilename),
		ConfigPath:    configPath,
		PublicKeyPath: signing.PublicKeyPath(keyPath),
	}))

	return &pipeline{configPath: configPath, artifact: artifact, payload: payload}
}

func installedAppImage(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bundle.AppImage")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 1.0.0\n"), 0o755))

	return path
}

// TestRelease_EndToEnd publishes a release and installs it over an older AppImage.
func TestRelease_EndToEnd(t *testing.T) {
	t.Parallel()

	published := publishRelease(t, "1.2.0")
	appImage := installedAppImage(t)

	result, err := upd.Run(context.Background(), &upd.Options{
		ConfigPath:     published.configPath,
		CurrentVersion: "1.0.0",
		ExecutablePath: appImage,
		ExtractPath:    appImage,
		Target:         "linux-x86_64",
		Install:        true,
	})
	require.NoError(t, err)
	require.True(t, result.Installed)
	require.Equal(t, "1.2.0", result.Update.Version.String())

	installed, err := os.ReadFile(appImage)
	require.NoError(t, err)
	require.Equal(t, published.payload, installed)

	info, err := os.Stat(appImage)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

// TestRelease_TamperedArtifact replaces the uploaded artifact after signing.
func TestRelease_TamperedArtifact(t *testing.T) {
	t.Parallel()

	published := publishRelease(t, "1.2.0")
	appImage := installedAppImage(t)
	original, err := os.ReadFile(appImage)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(published.artifact, []byte("#!/bin/sh\nrm -rf ~\n"), 0o755))

	_, err = upd.Run(context.Background(), &upd.Options{
		ConfigPath:     published.configPath,
		CurrentVersion: "1.0.0",
		ExecutablePath: appImage,
		ExtractPath:    appImage,
		Target:         "linux-x86_64",
		Install:        true,
	})
	require.ErrorIs(t, err, signing.ErrSignatureInvalid)

	unchanged, err := os.ReadFile(appImage)
	require.NoError(t, err)
	require.Equal(t, original, unchanged)
}

// TestRelease_UnknownTarget uses the library API against a static manifest.
func TestRelease_UnknownTarget(t *testing.T) {
	t.Parallel()

	published := publishRelease(t, "1.2.0")

	settings, err := config.Load(published.configPath)
	require.NoError(t, err)

	up, err := updater.New(settings, "1.0.0",
		updater.WithExecutablePath(installedAppImage(t)),
		updater.WithTarget("macos-aarch64"))
	require.NoError(t, err)

	_, err = up.Check(context.Background())
	require.ErrorIs(t, err, release.ErrTargetNotFound)

	up, err = updater.New(settings, "1.2.0", updater.WithExecutablePath(installedAppImage(t)),
		updater.WithTarget("linux-x86_64"))
	require.NoError(t, err)

	update, err := up.Check(context.Background())
	require.NoError(t, err)
	require.Nil(t, update)
}
