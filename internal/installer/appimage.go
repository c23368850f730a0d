package installer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/bundle-updater/internal/logger"
)

const (
	// backupDirPattern names the private directory holding the previous AppImage.
	backupDirPattern = ".bundle-updater-"
	// backupDirMode keeps the backup readable by the owner only.
	backupDirMode os.FileMode = 0o700
	// backupFileName is the previous AppImage inside the backup directory.
	backupFileName = "current_app.AppImage"
)

// appImageInstaller swaps a single AppImage file in place.
type appImageInstaller struct {
	stateMachine

	opts Options
	// candidates lists directories tried for the backup, in order.
	candidates func(extractPath string) []string
	// sameDevice reports whether two paths live on one filesystem.
	sameDevice func(a, b string) (bool, error)
	// newReader feeds the payload to go-update.
	newReader func(payload []byte) io.Reader
}

func newAppImageInstaller(opts Options) *appImageInstaller {
	return &appImageInstaller{
		opts:       opts,
		candidates: backupCandidates,
		sameDevice: sameDevice,
		newReader: func(payload []byte) io.Reader {
			return bytes.NewReader(payload)
		},
	}
}

// backupCandidates returns the system temp dir, the user cache dir and the
// AppImage's own directory.
func backupCandidates(extractPath string) []string {
	candidates := []string{os.TempDir()}

	if cacheDir, err := os.UserCacheDir(); err == nil {
		candidates = append(candidates, cacheDir)
	}

	return append(candidates, filepath.Dir(extractPath))
}

// Install implements Installer.
func (i *appImageInstaller) Install(ctx context.Context, payload []byte) error {
	extractPath := i.opts.ExtractPath

	info, err := os.Stat(extractPath)
	if err != nil {
		return fmt.Errorf("stat appimage: %w", err)
	}

	for _, candidate := range i.candidates(extractPath) {
		if candidate == "" {
			continue
		}

		backupDir, err := os.MkdirTemp(candidate, backupDirPattern)
		if err != nil {
			logger.DebugKV(ctx, "Skipping backup directory candidate", "candidate", candidate, "error", err)

			continue
		}

		same, err := i.sameDevice(backupDir, extractPath)
		if err != nil || !same {
			logger.DebugKV(ctx, "Backup directory candidate is on another device",
				"candidate", candidate, "error", err)

			_ = os.RemoveAll(backupDir)

			continue
		}

		return i.replace(ctx, backupDir, info.Mode().Perm(), payload)
	}

	return ErrTempDirNotOnSameMountPoint
}

func (i *appImageInstaller) replace(ctx context.Context, backupDir string, perm os.FileMode, payload []byte) error {
	extractPath := i.opts.ExtractPath

	if err := os.Chmod(backupDir, backupDirMode); err != nil {
		_ = os.RemoveAll(backupDir)

		return fmt.Errorf("protect backup directory: %w", err)
	}

	i.set(StateStaged)

	checksum := sha256.Sum256(payload)

	err := goupdate.Apply(i.newReader(payload), goupdate.Options{
		TargetPath:  extractPath,
		TargetMode:  perm,
		Checksum:    checksum[:],
		Hash:        crypto.SHA256,
		OldSavePath: filepath.Join(backupDir, backupFileName),
	})
	if err != nil {
		_ = os.Remove(stagedPath(extractPath))

		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			// The previous AppImage only survives in backupDir now.
			logger.ErrorKV(ctx, "Failed to restore the previous AppImage",
				"backup", backupDir, "error", rollbackErr)

			return fmt.Errorf("%w: %w: previous version kept in %s: %w", ErrRollback, err, backupDir, rollbackErr)
		}

		_ = os.RemoveAll(backupDir)

		i.set(StateRolledBack)

		return fmt.Errorf("replace appimage: %w", err)
	}

	_ = os.RemoveAll(backupDir)

	// The new file was created subject to umask.
	if err = os.Chmod(extractPath, perm); err != nil {
		logger.WarnKV(ctx, "Failed to restore AppImage permissions", "path", extractPath, "error", err)
	}

	i.set(StateInstalled)

	return nil
}

// stagedPath is where go-update writes the new bytes before the swap.
func stagedPath(target string) string {
	return filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".new")
}
