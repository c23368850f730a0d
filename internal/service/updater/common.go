package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/bundle-updater/internal/logger"
)

const (
	// markerLifetime is the period after which a stale update marker is ignored.
	markerLifetime = 30 * time.Minute
	// progressStep is the percentage between two progress log lines.
	progressStep = 10
	// unknownLengthLogEvery is the byte interval between progress log lines when
	// the server sends no Content-Length.
	unknownLengthLogEvery = 8 << 20
)

// MarkerPath returns the marker file guarding installs of the artifact at extractPath.
func MarkerPath(extractPath string) string {
	sum := sha256.Sum256([]byte(extractPath))

	return filepath.Join(os.TempDir(), "bundle-updater-"+hex.EncodeToString(sum[:8])+".marker")
}

// IsUpdaterRunningNow checks for a fresh marker file and removes stale ones.
func IsUpdaterRunningNow(ctx context.Context, markerPath string) bool {
	logger.DebugKV(ctx, "Checking for the presence of an update marker", "path", markerPath)

	fileInfo, err := os.Stat(markerPath)
	if err == nil {
		if time.Since(fileInfo.ModTime()) <= markerLifetime {
			return true
		}

		logger.Info(ctx, "The update marker is too old, attempting cleanup")

		return os.Remove(markerPath) != nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	logger.WarnKV(ctx, "Unable to read update marker", "path", markerPath, "error", err)

	return false
}

// createMarker claims the marker file; it fails if another run holds it.
func createMarker(markerPath string) error {
	marker, err := os.OpenFile(markerPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	return marker.Close()
}

// progress logs download progress in steps.
type progress struct {
	ctx         context.Context //nolint:containedctx // Used only by the download callbacks.
	received    int64
	lastPercent int64
	lastLogged  int64
}

func (p *progress) onChunk(chunkLength int, contentLength int64) {
	p.received += int64(chunkLength)

	if contentLength <= 0 {
		if p.received-p.lastLogged >= unknownLengthLogEvery {
			p.lastLogged = p.received
			logger.InfoKV(p.ctx, "Downloading", "received_bytes", p.received)
		}

		return
	}

	percent := p.received * 100 / contentLength
	if percent >= p.lastPercent+progressStep {
		p.lastPercent = percent - percent%progressStep
		logger.InfoKV(p.ctx, "Downloading", "percent", p.lastPercent, "received_bytes", p.received)
	}
}

func (p *progress) onFinished() {
	logger.InfoKV(p.ctx, "Download finished", "received_bytes", p.received)
}
