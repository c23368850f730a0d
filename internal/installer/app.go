package installer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/oshokin/bundle-updater/internal/logger"
)

const (
	// bundleBackupPattern names the sibling directory holding the previous bundle.
	bundleBackupPattern = ".bundle-backup-"
	// minDirMode keeps extracted directories writable for the rest of the archive.
	minDirMode os.FileMode = 0o700
	// parentDirMode is used for directories the archive does not list.
	parentDirMode os.FileMode = 0o755
	// maxLinkHops bounds symlink resolution while checking a link target.
	maxLinkHops = 40
)

var (
	// errUnsafeArchiveEntry is returned for entries that would land outside the bundle.
	errUnsafeArchiveEntry = errors.New("archive entry escapes the bundle")
	// errUnsupportedArchiveEntry is returned for entry types the bundle cannot hold.
	errUnsupportedArchiveEntry = errors.New("unsupported archive entry")
)

// appInstaller replaces a macOS .app bundle from a gzip compressed tarball.
type appInstaller struct {
	stateMachine

	opts Options
}

// Install implements Installer.
func (i *appInstaller) Install(ctx context.Context, payload []byte) error {
	extractPath := i.opts.ExtractPath

	if _, err := os.Stat(extractPath); err != nil {
		return fmt.Errorf("stat bundle: %w", err)
	}

	// A sibling directory keeps the backup rename on the same volume.
	backupDir, err := os.MkdirTemp(filepath.Dir(extractPath), bundleBackupPattern)
	if err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	backupPath := filepath.Join(backupDir, filepath.Base(extractPath))

	if err = os.Rename(extractPath, backupPath); err != nil {
		_ = os.Remove(backupDir)

		return fmt.Errorf("move bundle aside: %w", err)
	}

	i.set(StateStaged)

	logger.DebugKV(ctx, "Moved bundle aside", "backup", backupPath)

	extracted, err := extractBundle(payload, extractPath)
	if err != nil {
		if rollbackErr := rollbackBundle(extracted, extractPath, backupPath); rollbackErr != nil {
			logger.ErrorKV(ctx, "Failed to restore the previous bundle", "backup", backupPath, "error", rollbackErr)

			return fmt.Errorf("%w: %w: previous version kept in %s: %w", ErrRollback, err, backupPath, rollbackErr)
		}

		_ = os.Remove(backupDir)

		i.set(StateRolledBack)

		return fmt.Errorf("extract bundle: %w", err)
	}

	if err = os.RemoveAll(backupDir); err != nil {
		logger.WarnKV(ctx, "Failed to remove the previous bundle", "backup", backupDir, "error", err)
	}

	// Finder and Launch Services pick up the new bundle by its modification time.
	now := time.Now()
	if err = os.Chtimes(extractPath, now, now); err != nil {
		logger.WarnKV(ctx, "Failed to touch the bundle", "path", extractPath, "error", err)
	}

	i.set(StateInstalled)

	return nil
}

// extractBundle unpacks the archive into dest, stripping the top-level
// directory. It returns the paths it created, in creation order, even on failure.
func extractBundle(payload []byte, dest string) ([]string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}

	defer gz.Close()

	var (
		archive   = tar.NewReader(gz)
		extracted []string
	)

	for {
		header, err := archive.Next()
		if errors.Is(err, io.EOF) {
			return extracted, nil
		}

		if err != nil {
			return extracted, fmt.Errorf("read archive: %w", err)
		}

		target, err := entryPath(dest, header.Name)
		if err != nil {
			return extracted, err
		}

		created, err := extractEntry(archive, header, dest, target)
		if err != nil {
			return extracted, fmt.Errorf("extract %s: %w", header.Name, err)
		}

		if created {
			extracted = append(extracted, target)
		}
	}
}

// entryPath maps an archive name to its location under dest, dropping the
// first path component.
func entryPath(dest, name string) (string, error) {
	if path.IsAbs(name) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", errUnsafeArchiveEntry, name)
	}

	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", errUnsafeArchiveEntry, name)
		}
	}

	parts := strings.Split(strings.TrimPrefix(path.Clean(name), "./"), "/")
	if len(parts) <= 1 {
		return dest, nil
	}

	return filepath.Join(dest, filepath.FromSlash(path.Join(parts[1:]...))), nil
}

// extractEntry writes one archive entry. It reports whether a path was created.
func extractEntry(archive io.Reader, header *tar.Header, dest, target string) (bool, error) {
	mode := header.FileInfo().Mode()

	if target == dest && header.Typeflag != tar.TypeDir && header.Typeflag != tar.TypeXGlobalHeader {
		return false, fmt.Errorf("%w: bundle root must be a directory", errUnsafeArchiveEntry)
	}

	if err := checkParents(dest, target); err != nil {
		return false, err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if info, err := os.Lstat(target); err == nil && info.IsDir() {
			return false, nil
		}

		if err := os.MkdirAll(filepath.Dir(target), parentDirMode); err != nil {
			return false, err
		}

		if err := os.Mkdir(target, mode.Perm()|minDirMode); err != nil {
			return false, err
		}

		return true, nil
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), parentDirMode); err != nil {
			return false, err
		}

		return true, writeFile(archive, target, mode.Perm())
	case tar.TypeSymlink:
		if err := checkLink(dest, target, header.Linkname); err != nil {
			return false, err
		}

		if err := os.MkdirAll(filepath.Dir(target), parentDirMode); err != nil {
			return false, err
		}

		if err := os.Symlink(header.Linkname, target); err != nil {
			return false, err
		}

		return true, nil
	case tar.TypeLink:
		source, err := hardLinkSource(dest, header.Linkname)
		if err != nil {
			return false, err
		}

		if err = os.MkdirAll(filepath.Dir(target), parentDirMode); err != nil {
			return false, err
		}

		if err = os.Link(source, target); err != nil {
			return false, err
		}

		return true, nil
	case tar.TypeXGlobalHeader:
		// PAX global headers carry metadata only.
		return false, nil
	default:
		return false, fmt.Errorf("%w: type %q", errUnsupportedArchiveEntry, header.Typeflag)
	}
}

// hardLinkSource maps a hard link's archive name to an already extracted
// regular file inside dest.
func hardLinkSource(dest, linkname string) (string, error) {
	source, err := entryPath(dest, linkname)
	if err != nil {
		return "", err
	}

	if err = checkParents(dest, source); err != nil {
		return "", err
	}

	info, err := os.Lstat(source)
	if err != nil {
		return "", fmt.Errorf("hard link to %s: %w", linkname, err)
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: hard link to non-regular %s", errUnsupportedArchiveEntry, linkname)
	}

	return source, nil
}

// checkParents refuses to write below a symlink, so earlier entries cannot
// redirect later ones outside dest.
func checkParents(dest, target string) error {
	if target == dest {
		return nil
	}

	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}

	current := dest

	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)

		info, err := os.Lstat(current)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		if err != nil {
			return err
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s is written through a symlink", errUnsafeArchiveEntry, target)
		}
	}

	return nil
}

func writeFile(archive io.Reader, target string, perm os.FileMode) error {
	//nolint:gosec // target is confined to the bundle by entryPath.
	file, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	//nolint:gosec // The archive is signature verified before extraction.
	if _, err = io.Copy(file, archive); err != nil {
		_ = file.Close()

		return err
	}

	if err = file.Close(); err != nil {
		return err
	}

	// Executables must keep their bits regardless of umask.
	return os.Chmod(target, perm)
}

// checkLink rejects absolute symlinks and links that resolve outside dest,
// following the links already extracted the way the kernel would.
func checkLink(dest, target, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("%w: symlink to %s", errUnsafeArchiveEntry, link)
	}

	var (
		current = filepath.Dir(target)
		pending = splitLink(link)
		hops    int
	)

	for len(pending) > 0 {
		part := pending[0]
		pending = pending[1:]

		switch part {
		case "", ".":
			continue
		case "..":
			current = filepath.Dir(current)
		default:
			current = filepath.Join(current, part)
		}

		if !within(dest, current) {
			return fmt.Errorf("%w: symlink to %s", errUnsafeArchiveEntry, link)
		}

		info, err := os.Lstat(current)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}

		hops++
		if hops > maxLinkHops {
			return fmt.Errorf("%w: too many levels of symlinks in %s", errUnsafeArchiveEntry, link)
		}

		next, err := os.Readlink(current)
		if err != nil {
			return err
		}

		if filepath.IsAbs(next) {
			return fmt.Errorf("%w: symlink to %s", errUnsafeArchiveEntry, link)
		}

		current = filepath.Dir(current)
		pending = append(splitLink(next), pending...)
	}

	return nil
}

func splitLink(link string) []string {
	return strings.Split(filepath.ToSlash(link), "/")
}

// within reports whether path is dest or below it.
func within(dest, path string) bool {
	return path == dest || strings.HasPrefix(path, dest+string(filepath.Separator))
}

// rollbackBundle deletes extracted paths in reverse order, clears whatever is
// left at extractPath and moves the backup back.
func rollbackBundle(extracted []string, extractPath, backupPath string) error {
	for idx := len(extracted) - 1; idx >= 0; idx-- {
		err := os.Remove(extracted[idx])
		if err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTEMPTY) &&
			!errors.Is(err, syscall.EEXIST) {
			return fmt.Errorf("remove %s: %w", extracted[idx], err)
		}
	}

	if err := os.RemoveAll(extractPath); err != nil {
		return fmt.Errorf("clear %s: %w", extractPath, err)
	}

	if err := os.Rename(backupPath, extractPath); err != nil {
		return fmt.Errorf("restore %s: %w", extractPath, err)
	}

	return nil
}
