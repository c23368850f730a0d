package updater

import (
	"fmt"
	"path/filepath"
	"strings"
)

// appImageEnv is set by the AppImage runtime to the mounted image's path on disk.
const appImageEnv = "APPIMAGE"

// extractPathFor locates the installed artifact that an update replaces.
func extractPathFor(goos, executable string, getenv func(string) string) (string, error) {
	if executable == "" {
		return "", ErrFailedToDetermineExtractPath
	}

	switch goos {
	case "linux":
		if appImage := getenv(appImageEnv); appImage != "" {
			return appImage, nil
		}

		return executable, nil
	case "darwin":
		for dir := executable; ; {
			if strings.HasSuffix(dir, ".app") {
				return dir, nil
			}

			parent := filepath.Dir(dir)
			if parent == dir {
				return "", fmt.Errorf("%w: %s is not inside an app bundle", ErrFailedToDetermineExtractPath, executable)
			}

			dir = parent
		}
	case "windows":
		return filepath.Dir(executable), nil
	default:
		return "", fmt.Errorf("%w: unsupported os %s", ErrFailedToDetermineExtractPath, goos)
	}
}
