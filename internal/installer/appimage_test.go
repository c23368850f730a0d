//go:build unix

package installer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/bundle-updater/internal/domain/release"
)

var errDiskFull = errors.New("no space left on device")

// newTestAppImage writes an executable AppImage and returns an installer for it
// that keeps its backups next to the file.
func newTestAppImage(t *testing.T, contents []byte) (*appImageInstaller, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.AppImage")
	require.NoError(t, os.WriteFile(path, contents, 0o755))
	require.NoError(t, os.Chmod(path, 0o751))

	inst, err := New(release.FormatAppImage, Options{GOOS: "linux", ExtractPath: path})
	require.NoError(t, err)

	appImage, ok := inst.(*appImageInstaller)
	require.True(t, ok)

	appImage.candidates = func(extractPath string) []string {
		return []string{filepath.Dir(extractPath)}
	}

	return appImage, path
}

func requireOnlyEntry(t *testing.T, dir, name string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, name, entries[0].Name())
}

func TestAppImageInstall_ReplacesFile(t *testing.T) {
	t.Parallel()

	inst, path := newTestAppImage(t, []byte("old release"))
	payload := []byte("new release, slightly longer")

	require.NoError(t, inst.Install(context.Background(), payload))
	require.Equal(t, StateInstalled, inst.State())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o751), info.Mode().Perm())

	// Backup directory and staged file are gone.
	requireOnlyEntry(t, filepath.Dir(path), "bundle.AppImage")
}

// TestAppImageInstall_WriteFailureKeepsOriginal breaks the payload stream halfway.
func TestAppImageInstall_WriteFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	original := []byte("old release")
	inst, path := newTestAppImage(t, original)

	inst.newReader = func(payload []byte) io.Reader {
		return io.MultiReader(bytes.NewReader(payload[:len(payload)/2]), iotest.ErrReader(errDiskFull))
	}

	err := inst.Install(context.Background(), []byte("new release"))
	require.ErrorIs(t, err, errDiskFull)
	require.NotErrorIs(t, err, ErrRollback)
	require.Equal(t, StateRolledBack, inst.State())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o751), info.Mode().Perm())

	requireOnlyEntry(t, filepath.Dir(path), "bundle.AppImage")
}

// TestAppImageInstall_ChecksumMismatchKeepsOriginal feeds truncated bytes.
func TestAppImageInstall_ChecksumMismatchKeepsOriginal(t *testing.T) {
	t.Parallel()

	original := []byte("old release")
	inst, path := newTestAppImage(t, original)

	inst.newReader = func(payload []byte) io.Reader {
		return bytes.NewReader(payload[:len(payload)-1])
	}

	require.Error(t, inst.Install(context.Background(), []byte("new release")))
	require.Equal(t, StateRolledBack, inst.State())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, got)

	requireOnlyEntry(t, filepath.Dir(path), "bundle.AppImage")
}

// TestAppImageInstall_NoCandidateOnSameDevice never touches the live file.
func TestAppImageInstall_NoCandidateOnSameDevice(t *testing.T) {
	t.Parallel()

	original := []byte("old release")
	inst, path := newTestAppImage(t, original)
	elsewhere := t.TempDir()

	inst.candidates = func(string) []string {
		return []string{"", elsewhere}
	}
	inst.sameDevice = func(_, _ string) (bool, error) {
		return false, nil
	}

	err := inst.Install(context.Background(), []byte("new release"))
	require.ErrorIs(t, err, ErrTempDirNotOnSameMountPoint)
	require.Equal(t, StatePending, inst.State())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, got)

	entries, err := os.ReadDir(elsewhere)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSameDevice(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	same, err := sameDevice(dir, file)
	require.NoError(t, err)
	require.True(t, same)

	_, err = sameDevice(filepath.Join(dir, "missing"), file)
	require.Error(t, err)
}

func TestBackupCandidates(t *testing.T) {
	t.Parallel()

	candidates := backupCandidates("/opt/apps/bundle.AppImage")
	require.Equal(t, os.TempDir(), candidates[0])
	require.Equal(t, "/opt/apps", candidates[len(candidates)-1])
}
