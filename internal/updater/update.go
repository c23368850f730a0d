package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/oshokin/bundle-updater/internal/domain/release"
	"github.com/oshokin/bundle-updater/internal/installer"
	"github.com/oshokin/bundle-updater/internal/logger"
	"github.com/oshokin/bundle-updater/internal/signing"
	"github.com/oshokin/bundle-updater/internal/version"
)

const (
	// downloadChunkSize is the read size used while streaming an artifact.
	downloadChunkSize = 32 << 10
	// maxPreallocation caps the buffer grown from an untrusted Content-Length.
	maxPreallocation = 64 << 20
)

// Update is an approved release for the running platform. Check builds it once;
// the fields are not meant to be changed afterwards.
type Update struct {
	// CurrentVersion is the running version.
	CurrentVersion *semver.Version
	// Version is the offered version.
	Version *semver.Version
	// Notes are the release notes, if any.
	Notes string
	// PubDate is the publication date, if any.
	PubDate *time.Time
	// Target is the key the artifact was resolved for.
	Target string
	// ExtractPath is the artifact on disk the installer replaces.
	ExtractPath string
	// DownloadURL is where the artifact is fetched from.
	DownloadURL string
	// Signature is the base64 signature box of the artifact.
	Signature string
	// Format selects the installer.
	Format release.Format
	// Headers are sent with the download request.
	Headers http.Header
	// Timeout bounds the download.
	Timeout time.Duration

	publicKey      string
	client         *http.Client
	installOptions installer.Options
}

// Download fetches the artifact into memory. onChunk is called for every read
// with its length and the Content-Length (-1 when unknown), before the bytes
// are buffered. onFinished is called once after the body is exhausted.
// Both callbacks may be nil and run on the calling goroutine.
func (u *Update) Download(
	ctx context.Context,
	onChunk func(chunkLength int, contentLength int64),
	onFinished func(),
) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, u.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.DownloadURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request for %s: %w", ErrNetwork, u.DownloadURL, err)
	}

	req.Header = u.Headers.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := u.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s returned %s", ErrNetwork, u.DownloadURL, resp.Status)
	}

	contentLength := resp.ContentLength

	var buffer bytes.Buffer
	if contentLength > 0 {
		buffer.Grow(int(min(contentLength, maxPreallocation)))
	}

	chunk := make([]byte, downloadChunkSize)

	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			if onChunk != nil {
				onChunk(n, contentLength)
			}

			buffer.Write(chunk[:n])
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrNetwork, u.DownloadURL, err)
		}
	}

	if onFinished != nil {
		onFinished()
	}

	return buffer.Bytes(), nil
}

// Install verifies payload against the release signature and hands it to the
// installer for the release format. Nothing is written when verification fails.
// On Windows a successful Install exits the process.
func (u *Update) Install(ctx context.Context, payload []byte) error {
	ctx = logger.WithName(ctx, "install")

	if err := signing.Verify(payload, u.Signature, u.publicKey); err != nil {
		return err
	}

	logger.DebugKV(ctx, "Signature verified", "version", u.Version.String())

	inst, err := installer.New(u.Format, u.installOptions)
	if err != nil {
		return err
	}

	warnAboutOtherInstances(ctx, u.installOptions.ExecutablePath)

	logger.InfoKV(ctx, "Installing update", "format", u.Format, "path", u.ExtractPath)

	if err = inst.Install(ctx, payload); err != nil {
		return fmt.Errorf("install %s (%s): %w", u.Version, inst.State(), err)
	}

	logger.InfoKV(ctx, "Update installed", "version", u.Version.String())

	return nil
}

// DownloadAndInstall chains Download and Install.
func (u *Update) DownloadAndInstall(
	ctx context.Context,
	onChunk func(chunkLength int, contentLength int64),
	onFinished func(),
) error {
	payload, err := u.Download(ctx, onChunk, onFinished)
	if err != nil {
		return err
	}

	return u.Install(ctx, payload)
}

func (u *Update) httpClient() *http.Client {
	if u.client == nil {
		return http.DefaultClient
	}

	return u.client
}
